package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TheOnlyBaddy/Blocklance/internal/chain"
	"github.com/TheOnlyBaddy/Blocklance/internal/errs"
	"github.com/TheOnlyBaddy/Blocklance/internal/logger"
	"github.com/TheOnlyBaddy/Blocklance/internal/model"
	"gorm.io/gorm"
)

// ExecuteFunc 占位成功后执行的链上写操作
// 为nil时表示命令来自链上事件，事实已经确认，只需落库
type ExecuteFunc func(ctx context.Context) (*chain.Result, error)

// Outcome 转换结果
type Outcome struct {
	Applied     bool // false表示AlreadyApplied幂等短路
	Transaction *model.TransactionModel
}

// Store 托管台账
// 所有跨进程协调都走这里的唯一索引，不依赖任何内存锁
type Store struct {
	db *gorm.DB
}

// NewStore 创建台账
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// claimResult 占位阶段的产物
type claimResult struct {
	row            *model.TransactionModel
	alreadyApplied bool
}

// ApplyTransition 幂等状态转换：占位 → 执行 → 定稿
//
// 占位在一个数据库事务内完成，(project_id, kind)唯一索引保证并发
// 与多实例下至多一个调用方拿到占位行；撞唯一键的一方按AlreadyApplied
// 短路，不会产生第二次链上调用或重复通知。
// execute在事务外执行（链上写需要数秒），失败时占位行转为failed而
// 不是永远停在pending。
func (s *Store) ApplyTransition(ctx context.Context, cmd Command, execute ExecuteFunc) (*Outcome, error) {
	if cmd.ProjectId == 0 {
		return nil, errs.Validation("缺少项目ID")
	}
	if cmd.Kind != model.TransactionKindFund && cmd.Kind != model.TransactionKindRelease {
		return nil, errs.Validation("未知的转换类型: %s", cmd.Kind)
	}

	claim, err := s.claim(ctx, &cmd, execute == nil)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			// 并发对端先占位成功，重读后按幂等处理
			return s.readExisting(ctx, cmd)
		}
		return nil, err
	}

	if claim.alreadyApplied {
		return &Outcome{Applied: false, Transaction: claim.row}, nil
	}

	// 执行链上写（API路径）；事件路径以事件事实为准
	result := &chain.Result{
		TxHash:   cmd.SourceTxHash,
		DealId:   cmd.DealId,
		BlockNum: cmd.BlockNum,
	}
	if execute != nil {
		result, err = execute(ctx)
		if err != nil {
			s.markFailed(claim.row.Id)
			return nil, err
		}
	}

	row, applied, err := s.finalize(ctx, claim.row.Id, cmd, result)
	if err != nil {
		return nil, err
	}

	return &Outcome{Applied: applied, Transaction: row}, nil
}

// claim 占位阶段
// fromEvent为true时命令来自链上事件：允许收养在途的pending占位行
// （发起方进程在链上调用成功后崩溃留下的孤儿），事件是兜底的事实源
func (s *Store) claim(ctx context.Context, cmd *Command, fromEvent bool) (*claimResult, error) {
	var claim claimResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project model.ProjectModel
		if err := tx.First(&project, cmd.ProjectId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound("项目不存在")
			}
			return fmt.Errorf("加载项目失败: %w", err)
		}

		// 补齐事件路径缺失的参与方
		if cmd.PayerId == 0 {
			cmd.PayerId = project.ClientId
		}
		if cmd.PayeeId == 0 && project.AssignedFreelancerId != nil {
			cmd.PayeeId = *project.AssignedFreelancerId
		}

		// release必须先有funded记录，且不允许跳级
		if cmd.Kind == model.TransactionKindRelease {
			var funded model.TransactionModel
			err := tx.Where("project_id = ? AND kind = ? AND status = ?",
				cmd.ProjectId, model.TransactionKindFund, model.TransactionStatusFunded).
				First(&funded).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return errs.EscrowNotFunded("项目 %d 的托管尚未注资", cmd.ProjectId)
				}
				return fmt.Errorf("查询注资记录失败: %w", err)
			}
			if cmd.DealId == nil {
				cmd.DealId = funded.DealId
			}
			if cmd.AmountEth == 0 {
				cmd.AmountEth = funded.Amount
			}
			if cmd.PayeeId == 0 {
				cmd.PayeeId = funded.PayeeId
			}
		}

		var existing model.TransactionModel
		err := tx.Where("project_id = ? AND kind = ?", cmd.ProjectId, cmd.Kind).
			First(&existing).Error
		if err == nil {
			switch existing.Status {
			case cmd.Kind.TargetStatus():
				// 已到目标状态，幂等短路
				claim.row = &existing
				claim.alreadyApplied = true
				return nil
			case model.TransactionStatusPending:
				if fromEvent {
					// 收养孤儿占位行，用事件事实定稿
					claim.row = &existing
					return nil
				}
				// 对端在途，先到者胜
				claim.row = &existing
				claim.alreadyApplied = true
				return nil
			case model.TransactionStatusFailed:
				// 复用失败行重新占位，保持唯一索引全量有效
				updates := map[string]interface{}{
					"status":   model.TransactionStatusPending,
					"payer_id": cmd.PayerId,
					"payee_id": cmd.PayeeId,
					"amount":   cmd.AmountEth,
				}
				if err := tx.Model(&existing).Updates(updates).Error; err != nil {
					return fmt.Errorf("复用失败记录失败: %w", err)
				}
				existing.Status = model.TransactionStatusPending
				claim.row = &existing
				return nil
			default:
				return errs.Validation("交易 %d 处于意外状态 %s", existing.Id, existing.Status)
			}
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("查询台账失败: %w", err)
		}

		// 插入占位行，唯一索引裁决并发竞争
		placeholder := &model.TransactionModel{
			ProjectId: cmd.ProjectId,
			PayerId:   cmd.PayerId,
			PayeeId:   cmd.PayeeId,
			Amount:    cmd.AmountEth,
			DealId:    cmd.DealId,
			TxHash:    cmd.SourceTxHash,
			BlockNum:  cmd.BlockNum,
			Kind:      cmd.Kind,
			Status:    model.TransactionStatusPending,
		}
		if err := tx.Create(placeholder).Error; err != nil {
			return err
		}
		claim.row = placeholder
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &claim, nil
}

// finalize 定稿阶段：补齐链上事实并同步项目标志，同一事务内完成
// 只定稿仍处于pending的行。事件路径可能在API路径的链上调用在途时
// 收养同一占位行并抢先定稿，条件更新裁决这场竞争：影响行数为0的
// 一方重读后按AlreadyApplied短路，不重复通知
func (s *Store) finalize(ctx context.Context, rowId int64, cmd Command, result *chain.Result) (*model.TransactionModel, bool, error) {
	var row model.TransactionModel
	applied := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		updates := map[string]interface{}{
			"status": cmd.Kind.TargetStatus(),
			"amount": cmd.AmountEth,
		}
		if result != nil {
			if result.TxHash != "" {
				updates["tx_hash"] = result.TxHash
			}
			if result.DealId != nil {
				updates["deal_id"] = *result.DealId
			}
			if result.BlockNum > 0 {
				updates["block_num"] = result.BlockNum
			}
		}
		if cmd.Kind == model.TransactionKindRelease {
			updates["released_at"] = &now
		}

		res := tx.Model(&model.TransactionModel{}).
			Where("id = ? AND status = ?", rowId, model.TransactionStatusPending).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("定稿台账记录失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// 对端已抢先定稿，项目标志也由对端同步
			return tx.First(&row, rowId).Error
		}
		applied = true

		// 同步项目派生标志
		projectUpdates := map[string]interface{}{}
		switch cmd.Kind {
		case model.TransactionKindFund:
			projectUpdates["escrow_funded"] = true
		case model.TransactionKindRelease:
			projectUpdates["escrow_released"] = true
			projectUpdates["status"] = model.ProjectStatusCompleted
		}
		if err := tx.Model(&model.ProjectModel{}).
			Where("id = ?", cmd.ProjectId).
			Updates(projectUpdates).Error; err != nil {
			return fmt.Errorf("更新项目托管标志失败: %w", err)
		}

		return tx.First(&row, rowId).Error
	})
	if err != nil {
		return nil, false, err
	}

	return &row, applied, nil
}

// markFailed 链上执行失败后把占位行转为failed，避免永远停在pending
// 兜底动作，失败只记日志
func (s *Store) markFailed(rowId int64) {
	err := s.db.Model(&model.TransactionModel{}).
		Where("id = ? AND status = ?", rowId, model.TransactionStatusPending).
		Update("status", model.TransactionStatusFailed).Error
	if err != nil {
		logger.Error("Failed to mark transaction %d as failed: %v", rowId, err)
	}
}

// readExisting 撞唯一键后重读已存在的行
func (s *Store) readExisting(ctx context.Context, cmd Command) (*Outcome, error) {
	var existing model.TransactionModel
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND kind = ?", cmd.ProjectId, cmd.Kind).
		First(&existing).Error
	if err != nil {
		return nil, fmt.Errorf("重读台账记录失败: %w", err)
	}
	return &Outcome{Applied: false, Transaction: &existing}, nil
}

// FindByProject 按项目查询台账记录，新的在前
func (s *Store) FindByProject(ctx context.Context, projectId int64) ([]model.TransactionModel, error) {
	var txs []model.TransactionModel
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectId).
		Order("created_at DESC").
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("查询项目交易失败: %w", err)
	}
	return txs, nil
}

// FindById 按ID查询台账记录
func (s *Store) FindById(ctx context.Context, id int64) (*model.TransactionModel, error) {
	var tx model.TransactionModel
	err := s.db.WithContext(ctx).First(&tx, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("交易不存在")
		}
		return nil, fmt.Errorf("查询交易失败: %w", err)
	}
	return &tx, nil
}

// FindStalePending 查询超过阈值仍停在pending的记录，供对账任务清扫
func (s *Store) FindStalePending(ctx context.Context, olderThan time.Time) ([]model.TransactionModel, error) {
	var txs []model.TransactionModel
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.TransactionStatusPending, olderThan).
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("查询过期pending记录失败: %w", err)
	}
	return txs, nil
}

// MarkFailedById 供对账任务把链上确认未发生的pending记录置为failed
func (s *Store) MarkFailedById(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).Model(&model.TransactionModel{}).
		Where("id = ? AND status = ?", id, model.TransactionStatusPending).
		Update("status", model.TransactionStatusFailed).Error
	if err != nil {
		return fmt.Errorf("标记交易失败状态失败: %w", err)
	}
	return nil
}

// isUniqueViolation 识别未被gorm翻译的唯一约束冲突
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "constraint failed")
}
