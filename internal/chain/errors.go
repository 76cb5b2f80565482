package chain

import (
	"context"
	"errors"
	"strings"

	"github.com/TheOnlyBaddy/Blocklance/internal/errs"
)

// classify 将底层RPC错误映射到错误分类
// 每个失败都必须归入 ChainRejected 或 ChainTransient 之一，
// 上层据此决定重试还是直接失败，不允许静默吞错
func classify(err error, op string) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "insufficient funds"):
		return errs.ChainRejected(err, "链上余额不足: %s", op)
	case strings.Contains(msg, "execution reverted"),
		strings.Contains(msg, "revert"),
		strings.Contains(msg, "always failing transaction"):
		return errs.ChainRejected(err, "合约拒绝执行: %s", op)
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "replacement transaction underpriced"):
		// 签名方nonce竞争，换个nonce重试即可
		return errs.ChainTransient(err, "交易nonce冲突: %s", op)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errs.ChainTransient(err, "链上操作超时: %s", op)
	default:
		// 网络抖动、连接失败等未知RPC错误按瞬时处理
		return errs.ChainTransient(err, "链上操作失败: %s", op)
	}
}
