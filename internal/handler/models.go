package handler

import (
	"time"

	"github.com/TheOnlyBaddy/Blocklance/internal/model"
)

// 通用响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// 分页信息结构
type Pagination struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"pageSize"`
	Total     int64 `json:"total"`
	TotalPage int64 `json:"totalPage"`
}

// 请求模型

// FundEscrowRequest 注资托管请求
type FundEscrowRequest struct {
	ProjectId    int64   `json:"projectId" binding:"required"`
	FreelancerId int64   `json:"freelancerId"`
	AmountEth    float64 `json:"amountEth" binding:"required"`
}

// CreateProjectRequest 创建项目请求
type CreateProjectRequest struct {
	Title       string     `json:"title" binding:"required"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Budget      float64    `json:"budget"`
	Deadline    *time.Time `json:"deadline"`
}

// AssignFreelancerRequest 分配自由职业者请求
type AssignFreelancerRequest struct {
	FreelancerId int64 `json:"freelancerId" binding:"required"`
}

// NonceRequest 申请登录挑战请求
type NonceRequest struct {
	WalletAddress string `json:"walletAddress" binding:"required"`
}

// LoginRequest 钱包登录请求
type LoginRequest struct {
	UserId        int64  `json:"userId" binding:"required"`
	WalletAddress string `json:"walletAddress" binding:"required"`
	Nonce         string `json:"nonce" binding:"required"`
}

// 项目相关响应模型

// ProjectResponse 项目响应模型
type ProjectResponse struct {
	ID                   int64      `json:"id"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	Category             string     `json:"category"`
	Budget               float64    `json:"budget"`
	Deadline             *time.Time `json:"deadline"`
	ClientId             int64      `json:"clientId"`
	AssignedFreelancerId *int64     `json:"assignedFreelancerId"`
	Status               string     `json:"status"`
	EscrowFunded         bool       `json:"escrowFunded"`
	EscrowReleased       bool       `json:"escrowReleased"`
	EscrowAddress        string     `json:"escrowAddress"`
	TransactionHash      string     `json:"transactionHash"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// GetProjectsResponse 获取项目列表响应
type GetProjectsResponse struct {
	Projects   []ProjectResponse `json:"projects"`
	Pagination Pagination        `json:"pagination"`
}

// 交易相关响应模型

// TransactionResponse 托管交易响应模型
type TransactionResponse struct {
	ID         int64      `json:"id"`
	ProjectId  int64      `json:"projectId"`
	PayerId    int64      `json:"payerId"`
	PayeeId    int64      `json:"payeeId"`
	Amount     float64    `json:"amount"`
	DealId     *int64     `json:"dealId"`
	TxHash     string     `json:"txHash"`
	BlockNum   int64      `json:"blockNum"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	ReleasedAt *time.Time `json:"releasedAt"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// GetProjectTransactionsResponse 获取项目交易记录响应
type GetProjectTransactionsResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
}

// 通知相关响应模型

// NotificationResponse 通知响应模型
type NotificationResponse struct {
	ID            int64     `json:"id"`
	ReceiverId    int64     `json:"receiverId"`
	Type          string    `json:"type"`
	Message       string    `json:"message"`
	ProjectId     *int64    `json:"projectId"`
	RelatedUserId *int64    `json:"relatedUserId"`
	IsRead        bool      `json:"isRead"`
	CreatedAt     time.Time `json:"createdAt"`
}

// GetNotificationsResponse 获取通知列表响应
type GetNotificationsResponse struct {
	Notifications []NotificationResponse `json:"notifications"`
	Pagination    Pagination             `json:"pagination"`
}

// 鉴权相关响应模型

// NonceResponse 登录挑战响应
type NonceResponse struct {
	WalletAddress string    `json:"walletAddress"`
	Nonce         string    `json:"nonce"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	Token  string `json:"token"`
	UserId int64  `json:"userId"`
}

// 转换函数

// ToProjectResponse 将数据库模型转换为响应模型
func ToProjectResponse(project *model.ProjectModel) ProjectResponse {
	return ProjectResponse{
		ID:                   project.Id,
		Title:                project.Title,
		Description:          project.Description,
		Category:             project.Category,
		Budget:               project.Budget,
		Deadline:             project.Deadline,
		ClientId:             project.ClientId,
		AssignedFreelancerId: project.AssignedFreelancerId,
		Status:               string(project.Status),
		EscrowFunded:         project.EscrowFunded,
		EscrowReleased:       project.EscrowReleased,
		EscrowAddress:        project.EscrowAddress,
		TransactionHash:      project.TransactionHash,
		CreatedAt:            project.CreatedAt,
		UpdatedAt:            project.UpdatedAt,
	}
}

// ToProjectResponseList 将数据库模型列表转换为响应模型列表
func ToProjectResponseList(projects []model.ProjectModel) []ProjectResponse {
	result := make([]ProjectResponse, len(projects))
	for i, project := range projects {
		result[i] = ToProjectResponse(&project)
	}
	return result
}

// ToTransactionResponse 将交易数据库模型转换为响应模型
func ToTransactionResponse(tx *model.TransactionModel) TransactionResponse {
	return TransactionResponse{
		ID:         tx.Id,
		ProjectId:  tx.ProjectId,
		PayerId:    tx.PayerId,
		PayeeId:    tx.PayeeId,
		Amount:     tx.Amount,
		DealId:     tx.DealId,
		TxHash:     tx.TxHash,
		BlockNum:   tx.BlockNum,
		Kind:       string(tx.Kind),
		Status:     string(tx.Status),
		ReleasedAt: tx.ReleasedAt,
		CreatedAt:  tx.CreatedAt,
		UpdatedAt:  tx.UpdatedAt,
	}
}

// ToTransactionResponseList 将交易数据库模型列表转换为响应模型列表
func ToTransactionResponseList(transactions []model.TransactionModel) []TransactionResponse {
	result := make([]TransactionResponse, len(transactions))
	for i, tx := range transactions {
		result[i] = ToTransactionResponse(&tx)
	}
	return result
}

// ToNotificationResponse 将通知数据库模型转换为响应模型
func ToNotificationResponse(notification *model.NotificationModel) NotificationResponse {
	return NotificationResponse{
		ID:            notification.Id,
		ReceiverId:    notification.ReceiverId,
		Type:          string(notification.Type),
		Message:       notification.Message,
		ProjectId:     notification.ProjectId,
		RelatedUserId: notification.RelatedUserId,
		IsRead:        notification.IsRead,
		CreatedAt:     notification.CreatedAt,
	}
}

// ToNotificationResponseList 将通知数据库模型列表转换为响应模型列表
func ToNotificationResponseList(notifications []model.NotificationModel) []NotificationResponse {
	result := make([]NotificationResponse, len(notifications))
	for i, notification := range notifications {
		result[i] = ToNotificationResponse(&notification)
	}
	return result
}

// NewPagination 计算分页信息
func NewPagination(page, pageSize int, total int64) Pagination {
	totalPage := total / int64(pageSize)
	if total%int64(pageSize) != 0 {
		totalPage++
	}
	return Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: totalPage,
	}
}
