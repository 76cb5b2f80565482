package model

import (
	"time"
)

// ProjectModel 项目模型
type ProjectModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 基本信息
	Title       string  `json:"title" gorm:"not null" binding:"required"`
	Description string  `json:"description" gorm:"type:text"`
	Category    string  `json:"category"`
	Budget      float64 `json:"budget" gorm:"type:decimal(20,8);default:0"`
	Deadline    *time.Time `json:"deadline"`

	// 参与方
	ClientId             int64  `json:"client_id" gorm:"not null;index"`
	AssignedFreelancerId *int64 `json:"assigned_freelancer_id"` // 接受投标后才有值

	// 状态
	Status ProjectStatus `json:"status" gorm:"default:'open'"`

	// 托管状态（与最新Transaction状态保持同步的派生标志）
	EscrowFunded   bool `json:"escrow_funded" gorm:"default:false"`
	EscrowReleased bool `json:"escrow_released" gorm:"default:false"`

	// 区块链信息
	EscrowAddress   string `json:"escrow_address"`
	TransactionHash string `json:"transaction_hash"`
}

// ProjectStatus 项目状态
type ProjectStatus string

const (
	ProjectStatusOpen       ProjectStatus = "open"        // 招标中
	ProjectStatusInProgress ProjectStatus = "in_progress" // 进行中
	ProjectStatusCompleted  ProjectStatus = "completed"   // 已完成
	ProjectStatusDisputed   ProjectStatus = "disputed"    // 争议中
)

// TableName 自定义表名
func (ProjectModel) TableName() string {
	return "project"
}
