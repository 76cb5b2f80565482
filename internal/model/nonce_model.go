package model

import (
	"time"
)

// NonceModel 钱包签名挑战nonce（一次性 + TTL）
type NonceModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	WalletAddress string    `json:"wallet_address" gorm:"index"`
	Nonce         string    `json:"nonce" gorm:"not null"`
	Used          bool      `json:"used" gorm:"default:false;index"`
	ExpiresAt     time.Time `json:"expires_at" gorm:"not null;index"`
}

// TableName 自定义表名
func (NonceModel) TableName() string {
	return "nonce"
}
