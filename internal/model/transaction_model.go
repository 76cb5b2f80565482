package model

import (
	"time"
)

// TransactionModel 托管交易台账
// 唯一索引 uq_transaction_project_kind 是双入口去重的核心约束：
// 同一项目的同一种转换（fund/release）在表中至多占据一行，
// 先到者占位，后到者撞唯一键后按AlreadyApplied处理。
type TransactionModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProjectId int64   `json:"project_id" gorm:"not null;uniqueIndex:uq_transaction_project_kind"`
	PayerId   int64   `json:"payer_id" gorm:"not null"`
	PayeeId   int64   `json:"payee_id" gorm:"not null"`
	Amount    float64 `json:"amount" gorm:"type:decimal(20,8);not null"` // 单位ETH

	// 区块链信息（上链确认后补齐）
	DealId   *int64 `json:"deal_id"`
	TxHash   string `json:"tx_hash" gorm:"index"`
	BlockNum int64  `json:"block_num"`

	Kind   TransactionKind   `json:"kind" gorm:"not null;uniqueIndex:uq_transaction_project_kind"`
	Status TransactionStatus `json:"status" gorm:"default:'pending'"`

	ReleasedAt *time.Time `json:"released_at"`
}

// TransactionKind 转换类型
type TransactionKind string

const (
	TransactionKindFund    TransactionKind = "fund"    // 注资
	TransactionKindRelease TransactionKind = "release" // 放款
)

// TransactionStatus 交易状态
// 状态机: pending → funded → released，failed仅可由pending进入
type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"  // 占位中
	TransactionStatusFunded   TransactionStatus = "funded"   // 已注资
	TransactionStatusReleased TransactionStatus = "released" // 已放款
	TransactionStatusFailed   TransactionStatus = "failed"   // 失败
)

// TargetStatus 返回该转换类型成功后的目标状态
func (k TransactionKind) TargetStatus() TransactionStatus {
	if k == TransactionKindRelease {
		return TransactionStatusReleased
	}
	return TransactionStatusFunded
}

// TableName 自定义表名
func (TransactionModel) TableName() string {
	return "transaction"
}
