package ledger

import (
	"github.com/TheOnlyBaddy/Blocklance/internal/model"
)

// Command 对账命令
// API路径和链上事件路径的公共货币：两条入口最终都收敛为一条Command，
// 交给同一个ApplyTransition做幂等转换
type Command struct {
	Kind      model.TransactionKind
	ProjectId int64
	PayerId   int64 // 事件路径可为0，由项目记录补齐
	PayeeId   int64 // 事件路径可为0，由项目记录补齐
	AmountEth float64

	DealId              *int64 // 链上deal标识，已知时携带
	CounterpartyAddress string // 对端钱包地址
	SourceTxHash        string // 事件路径携带的链上交易哈希
	BlockNum            int64
}
