package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TheOnlyBaddy/Blocklance/internal/chain"
	"github.com/TheOnlyBaddy/Blocklance/internal/config"
	"github.com/TheOnlyBaddy/Blocklance/internal/errs"
	"github.com/TheOnlyBaddy/Blocklance/internal/ledger"
	"github.com/TheOnlyBaddy/Blocklance/internal/logger"
	"github.com/TheOnlyBaddy/Blocklance/internal/model"
	"github.com/TheOnlyBaddy/Blocklance/internal/notify"
	"gorm.io/gorm"
)

// ChainWriter 链上写入口，拆成接口便于注入假链后端
type ChainWriter interface {
	FundEscrow(ctx context.Context, amountEth float64) (*chain.Result, error)
	ReleaseFunds(ctx context.Context, dealId int64) (*chain.Result, error)
}

// Orchestrator 托管对账协调器
// API路径和链上事件路径都汇聚到这里，经同一个台账原语做幂等转换
type Orchestrator struct {
	db     *gorm.DB
	store  *ledger.Store
	writer ChainWriter
	sink   notify.Sink
	retry  config.RetryConfig
}

// NewOrchestrator 创建协调器
func NewOrchestrator(db *gorm.DB, store *ledger.Store, writer ChainWriter, sink notify.Sink, retry config.RetryConfig) *Orchestrator {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
	if retry.BackoffMs <= 0 {
		retry.BackoffMs = 500
	}
	return &Orchestrator{
		db:     db,
		store:  store,
		writer: writer,
		sink:   sink,
		retry:  retry,
	}
}

// FundRequest 注资请求
type FundRequest struct {
	ProjectId    int64
	CallerId     int64
	FreelancerId int64 // 可选，缺省取项目的assignedFreelancer
	AmountEth    float64
}

// Fund 客户端注资托管
// 前置条件：项目存在且进行中、调用者是项目客户、金额大于0。
// 已注资的项目不再发起链上调用，由台账返回AlreadyApplied。
func (o *Orchestrator) Fund(ctx context.Context, req FundRequest) (*ledger.Outcome, error) {
	if req.AmountEth <= 0 {
		return nil, errs.Validation("注资金额必须大于0")
	}

	project, err := o.loadProject(ctx, req.ProjectId)
	if err != nil {
		return nil, err
	}
	if project.ClientId != req.CallerId {
		return nil, errs.Authorization("只有项目客户可以注资托管")
	}
	if project.Status != model.ProjectStatusInProgress {
		return nil, errs.Validation("项目不在进行中，无法注资")
	}

	payeeId := req.FreelancerId
	if payeeId == 0 && project.AssignedFreelancerId != nil {
		payeeId = *project.AssignedFreelancerId
	}
	if payeeId == 0 {
		return nil, errs.Validation("缺少freelancerId且项目未指派自由职业者")
	}

	cmd := ledger.Command{
		Kind:      model.TransactionKindFund,
		ProjectId: req.ProjectId,
		PayerId:   req.CallerId,
		PayeeId:   payeeId,
		AmountEth: req.AmountEth,
	}

	outcome, err := o.store.ApplyTransition(ctx, cmd, func(ctx context.Context) (*chain.Result, error) {
		return o.withRetry(ctx, "fundEscrow", func(ctx context.Context) (*chain.Result, error) {
			return o.writer.FundEscrow(ctx, req.AmountEth)
		})
	})
	if err != nil {
		return nil, err
	}

	if outcome.Applied {
		o.notifyPayment(ctx, outcome.Transaction, fmt.Sprintf("项目《%s》的托管已注资", project.Title))
	}

	return outcome, nil
}

// Release 客户端确认完成并放款
// 前置条件：存在已注资的台账记录（否则EscrowNotFunded）、调用者是
// 项目客户。成功后项目状态置为completed。
func (o *Orchestrator) Release(ctx context.Context, projectId, callerId int64) (*ledger.Outcome, error) {
	project, err := o.loadProject(ctx, projectId)
	if err != nil {
		return nil, err
	}
	if project.ClientId != callerId {
		return nil, errs.Authorization("只有项目客户可以放款")
	}

	// 放款前必须有已注资记录，链上调用之前就要拦住
	funded, err := o.findFunded(ctx, projectId)
	if err != nil {
		return nil, err
	}
	if funded.DealId == nil {
		return nil, errs.Validation("注资记录缺少链上deal标识，暂时无法放款")
	}
	dealId := *funded.DealId

	cmd := ledger.Command{
		Kind:      model.TransactionKindRelease,
		ProjectId: projectId,
		PayerId:   callerId,
		PayeeId:   funded.PayeeId,
		AmountEth: funded.Amount,
		DealId:    funded.DealId,
	}

	outcome, err := o.store.ApplyTransition(ctx, cmd, func(ctx context.Context) (*chain.Result, error) {
		return o.withRetry(ctx, "releaseFunds", func(ctx context.Context) (*chain.Result, error) {
			return o.writer.ReleaseFunds(ctx, dealId)
		})
	})
	if err != nil {
		return nil, err
	}

	if outcome.Applied {
		o.notifyPayment(ctx, outcome.Transaction, "托管款项已放出")
	}

	return outcome, nil
}

// OnChainEvent 链上事件入口（由EventListener调用）
// 不再发起链上调用，事件本身就是事实源；仍然走同一个去重闸口，
// 否则API触发的fund和同一deal的Funded事件会重复落账
func (o *Orchestrator) OnChainEvent(ctx context.Context, cmd ledger.Command) (*ledger.Outcome, error) {
	outcome, err := o.store.ApplyTransition(ctx, cmd, nil)
	if err != nil {
		return nil, err
	}

	if outcome.Applied {
		message := "托管注资已在链上确认"
		if cmd.Kind == model.TransactionKindRelease {
			message = "托管款项已在链上放出"
		}
		o.notifyPayment(ctx, outcome.Transaction, message)
	}

	return outcome, nil
}

// withRetry 有界指数退避重试，仅对链上瞬时错误生效
func (o *Orchestrator) withRetry(ctx context.Context, op string, call func(ctx context.Context) (*chain.Result, error)) (*chain.Result, error) {
	var lastErr error

	for attempt := 1; attempt <= o.retry.MaxAttempts; attempt++ {
		result, err := call(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !errs.IsRetryable(err) || attempt == o.retry.MaxAttempts {
			return nil, err
		}

		backoff := o.retry.Backoff(attempt)
		logger.Warn("Chain %s attempt %d/%d failed, retrying in %s: %v",
			op, attempt, o.retry.MaxAttempts, backoff, err)

		select {
		case <-ctx.Done():
			return nil, errs.ChainTransient(ctx.Err(), "%s重试被取消", op)
		case <-time.After(backoff):
		}
	}

	return nil, lastErr
}

// notifyPayment 台账落库之后的尽力而为通知，失败不影响转换结果
func (o *Orchestrator) notifyPayment(ctx context.Context, tx *model.TransactionModel, message string) {
	if o.sink == nil || tx == nil {
		return
	}
	projectId := tx.ProjectId
	payerId := tx.PayerId
	o.sink.Notify(ctx, &model.NotificationModel{
		ReceiverId:    tx.PayeeId,
		Type:          model.NotificationTypePayment,
		Message:       message,
		ProjectId:     &projectId,
		RelatedUserId: &payerId,
	})
}

func (o *Orchestrator) loadProject(ctx context.Context, projectId int64) (*model.ProjectModel, error) {
	var project model.ProjectModel
	if err := o.db.WithContext(ctx).First(&project, projectId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("项目不存在")
		}
		return nil, fmt.Errorf("加载项目失败: %w", err)
	}
	return &project, nil
}

// findFunded 查询项目的已注资记录
func (o *Orchestrator) findFunded(ctx context.Context, projectId int64) (*model.TransactionModel, error) {
	var funded model.TransactionModel
	err := o.db.WithContext(ctx).
		Where("project_id = ? AND kind = ? AND status = ?",
			projectId, model.TransactionKindFund, model.TransactionStatusFunded).
		First(&funded).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.EscrowNotFunded("项目 %d 的托管尚未注资", projectId)
		}
		return nil, fmt.Errorf("查询注资记录失败: %w", err)
	}
	return &funded, nil
}
