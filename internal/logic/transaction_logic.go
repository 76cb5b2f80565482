package logic

import (
	"errors"
	"fmt"

	"github.com/TheOnlyBaddy/Blocklance/internal/errs"
	"github.com/TheOnlyBaddy/Blocklance/internal/model"
	"gorm.io/gorm"
)

// TransactionLogic 交易查询逻辑
// 台账的写路径只属于EscrowOrchestrator，这里只做读
type TransactionLogic struct {
	db *gorm.DB
}

// NewTransactionLogic 创建交易查询逻辑
func NewTransactionLogic(db *gorm.DB) *TransactionLogic {
	return &TransactionLogic{db: db}
}

// GetTransaction 获取单笔交易
func (t *TransactionLogic) GetTransaction(id int64) (*model.TransactionModel, error) {
	var tx model.TransactionModel
	if err := t.db.First(&tx, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("交易不存在")
		}
		return nil, fmt.Errorf("获取交易失败: %w", err)
	}

	return &tx, nil
}

// GetProjectTransactions 获取项目的交易列表，新的在前
func (t *TransactionLogic) GetProjectTransactions(projectId int64) ([]model.TransactionModel, error) {
	var txs []model.TransactionModel
	if err := t.db.Where("project_id = ?", projectId).
		Order("created_at DESC").
		Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("获取项目交易列表失败: %w", err)
	}

	return txs, nil
}
