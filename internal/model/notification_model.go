package model

import (
	"time"
)

// NotificationModel 通知记录
type NotificationModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ReceiverId    int64            `json:"receiver_id" gorm:"not null;index"`
	Type          NotificationType `json:"type" gorm:"default:'system'"`
	Message       string           `json:"message" gorm:"not null"`
	ProjectId     *int64           `json:"project_id"`
	RelatedUserId *int64           `json:"related_user_id"`
	IsRead        bool             `json:"is_read" gorm:"default:false"`
}

// NotificationType 通知类型
type NotificationType string

const (
	NotificationTypeBid           NotificationType = "bid"            // 投标
	NotificationTypePayment       NotificationType = "payment"        // 支付
	NotificationTypeReview        NotificationType = "review"         // 评价
	NotificationTypeProjectUpdate NotificationType = "project_update" // 项目变更
	NotificationTypeSystem        NotificationType = "system"         // 系统
)

// TableName 自定义表名
func (NotificationModel) TableName() string {
	return "notification"
}
