package task

import (
	"context"
	"time"

	"github.com/TheOnlyBaddy/Blocklance/internal/config"
	"github.com/TheOnlyBaddy/Blocklance/internal/escrow"
	"github.com/TheOnlyBaddy/Blocklance/internal/ledger"
	"github.com/TheOnlyBaddy/Blocklance/internal/listener"
	"github.com/TheOnlyBaddy/Blocklance/internal/logger"
	"github.com/TheOnlyBaddy/Blocklance/internal/model"
	"github.com/go-co-op/gocron/v2"
)

// ChainInspector 合约状态视图，用于核对占位行的真实去向
type ChainInspector interface {
	Funded(ctx context.Context) (bool, error)
	Released(ctx context.Context) (bool, error)
}

// EscrowReconcileJob 托管对账任务
// 兜底两类掉队记录：发起方崩溃留下的pending占位行（按合约视图定稿或
// 转failed），以及事件顺序颠倒导致暂未处理的事件日志（重放）。
type EscrowReconcileJob struct {
	store        *ledger.Store
	orchestrator *escrow.Orchestrator
	listener     *listener.Listener
	inspector    ChainInspector
	config       *config.Config
}

// NewEscrowReconcileJob 创建托管对账任务
func NewEscrowReconcileJob(store *ledger.Store, orchestrator *escrow.Orchestrator, lst *listener.Listener, inspector ChainInspector, cfg *config.Config) *EscrowReconcileJob {
	return &EscrowReconcileJob{
		store:        store,
		orchestrator: orchestrator,
		listener:     lst,
		inspector:    inspector,
		config:       cfg,
	}
}

// GetName 获取任务名称
func (j *EscrowReconcileJob) GetName() string {
	return "escrow_reconciler"
}

// GetSchedule 获取调度配置
func (j *EscrowReconcileJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(time.Duration(j.config.Task.Interval) * time.Second)
}

// Execute 执行任务
func (j *EscrowReconcileJob) Execute() {
	ctx := context.Background()

	j.sweepStalePending(ctx)

	// 重放暂未处理的事件日志（如Released先于Funded到达）
	if j.listener != nil {
		if err := j.listener.RetryUnprocessed(ctx, 100); err != nil {
			logger.Error("Failed to retry unprocessed events: %v", err)
		}
	}
}

// sweepStalePending 清理过期的pending占位行
func (j *EscrowReconcileJob) sweepStalePending(ctx context.Context) {
	staleBefore := time.Now().Add(-time.Duration(j.config.Task.StaleSeconds) * time.Second)

	rows, err := j.store.FindStalePending(ctx, staleBefore)
	if err != nil {
		logger.Error("Failed to fetch stale pending transactions: %v", err)
		return
	}
	if len(rows) == 0 {
		return
	}

	logger.Info("Reconciling %d stale pending transactions", len(rows))

	for _, row := range rows {
		done, err := j.chainSays(ctx, row.Kind)
		if err != nil {
			logger.Error("Failed to query contract state for transaction %d: %v", row.Id, err)
			continue
		}

		if !done {
			// 链上没有对应状态：当初的写入没有落地
			if err := j.store.MarkFailedById(ctx, row.Id); err != nil {
				logger.Error("Failed to mark transaction %d failed: %v", row.Id, err)
			} else {
				logger.Info("Transaction %d marked failed: no matching contract state", row.Id)
			}
			continue
		}

		// 链上已完成：以事件路径收养并定稿这条占位行
		outcome, err := j.orchestrator.OnChainEvent(ctx, ledger.Command{
			Kind:         row.Kind,
			ProjectId:    row.ProjectId,
			AmountEth:    row.Amount,
			DealId:       row.DealId,
			SourceTxHash: row.TxHash,
			BlockNum:     row.BlockNum,
		})
		if err != nil {
			logger.Error("Failed to finalize stale transaction %d: %v", row.Id, err)
			continue
		}
		if outcome.Applied {
			logger.Info("Stale transaction %d finalized from contract state", row.Id)
		}
	}
}

// chainSays 按转换类型查询对应的合约视图
func (j *EscrowReconcileJob) chainSays(ctx context.Context, kind model.TransactionKind) (bool, error) {
	if kind == model.TransactionKindRelease {
		return j.inspector.Released(ctx)
	}
	return j.inspector.Funded(ctx)
}
