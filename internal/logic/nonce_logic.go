package logic

import (
	"errors"
	"fmt"
	"time"

	"github.com/TheOnlyBaddy/Blocklance/internal/errs"
	"github.com/TheOnlyBaddy/Blocklance/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NonceLogic 钱包签名挑战nonce逻辑
// 一次性 + TTL，和链上事件幂等是同一类"单次使用令牌"问题
type NonceLogic struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewNonceLogic 创建nonce逻辑，ttlMinutes小于等于0时默认10分钟
func NewNonceLogic(db *gorm.DB, ttlMinutes int) *NonceLogic {
	if ttlMinutes <= 0 {
		ttlMinutes = 10
	}
	return &NonceLogic{db: db, ttl: time.Duration(ttlMinutes) * time.Minute}
}

// Issue 为钱包地址签发新的挑战nonce
func (n *NonceLogic) Issue(walletAddress string) (*model.NonceModel, error) {
	if walletAddress == "" {
		return nil, errs.Validation("钱包地址不能为空")
	}

	nonce := &model.NonceModel{
		WalletAddress: walletAddress,
		Nonce:         uuid.NewString(),
		ExpiresAt:     time.Now().Add(n.ttl),
	}
	if err := n.db.Create(nonce).Error; err != nil {
		return nil, fmt.Errorf("签发nonce失败: %w", err)
	}

	return nonce, nil
}

// Consume 消费nonce：未使用、未过期才有效，成功后立即标记已用
// 查找和标记在同一个事务内完成，保证单次使用
func (n *NonceLogic) Consume(walletAddress, nonceValue string) error {
	return n.db.Transaction(func(tx *gorm.DB) error {
		var nonce model.NonceModel
		err := tx.Where("wallet_address = ? AND nonce = ?", walletAddress, nonceValue).
			First(&nonce).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.Validation("nonce不存在")
			}
			return fmt.Errorf("查询nonce失败: %w", err)
		}

		if nonce.Used {
			return errs.Validation("nonce已被使用")
		}
		if time.Now().After(nonce.ExpiresAt) {
			return errs.Validation("nonce已过期")
		}

		if err := tx.Model(&nonce).Update("used", true).Error; err != nil {
			return fmt.Errorf("标记nonce已用失败: %w", err)
		}

		return nil
	})
}

// CleanupExpired 清理已过期或已使用的nonce，返回删除数量
func (n *NonceLogic) CleanupExpired() (int64, error) {
	result := n.db.Where("expires_at < ? OR used = ?", time.Now(), true).
		Delete(&model.NonceModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("清理过期nonce失败: %w", result.Error)
	}

	return result.RowsAffected, nil
}
