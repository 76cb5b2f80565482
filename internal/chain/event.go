package chain

import (
	"fmt"
	"math/big"

	"github.com/TheOnlyBaddy/Blocklance/internal/errs"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// 事件名称
const (
	EventEscrowCreated = "EscrowCreated"
	EventFunded        = "Funded"
	EventReleased      = "Released"
)

// EscrowEvent 解析后的托管合约事件
type EscrowEvent struct {
	Name      string  `json:"name"`
	Party     string  `json:"party"`      // Funded为client地址，Released为freelancer地址
	AmountEth float64 `json:"amount_eth"` // 事件金额（ETH）
	ProjectId string  `json:"project_id"` // 合约里以字符串形式携带
	DealId    *int64  `json:"deal_id,omitempty"`
	TxHash    string  `json:"tx_hash"`
	BlockNum  int64   `json:"block_num"`
	LogIndex  int64   `json:"log_index"`
}

// ParseEvent 解析托管合约事件日志
// 无法识别或格式错误的日志返回Decode错误，由调用方记录后丢弃
func (c *Client) ParseEvent(l types.Log) (*EscrowEvent, error) {
	return ParseEscrowLog(c.contractABI, l)
}

func ParseEscrowLog(contractABI abi.ABI, l types.Log) (*EscrowEvent, error) {
	if len(l.Topics) == 0 {
		return nil, errs.Decode(nil, "事件日志缺少topic")
	}

	signature := l.Topics[0]

	switch signature {
	case contractABI.Events[EventFunded].ID:
		return parsePaymentEvent(contractABI, EventFunded, l)
	case contractABI.Events[EventReleased].ID:
		return parsePaymentEvent(contractABI, EventReleased, l)
	case contractABI.Events[EventEscrowCreated].ID:
		if len(l.Topics) < 2 {
			return nil, errs.Decode(nil, "EscrowCreated事件缺少dealId topic")
		}
		dealId := new(big.Int).SetBytes(l.Topics[1].Bytes()).Int64()
		return &EscrowEvent{
			Name:     EventEscrowCreated,
			DealId:   &dealId,
			TxHash:   l.TxHash.Hex(),
			BlockNum: int64(l.BlockNumber),
			LogIndex: int64(l.Index),
		}, nil
	default:
		return nil, errs.Decode(nil, "未知事件签名: %s", signature.Hex())
	}
}

// parsePaymentEvent 解析Funded/Released事件
// 索引参数: 参与方地址；非索引参数: (uint256 amount, string projectId)
func parsePaymentEvent(contractABI abi.ABI, name string, l types.Log) (*EscrowEvent, error) {
	if len(l.Topics) < 2 {
		return nil, errs.Decode(nil, "%s事件topic数量不足", name)
	}

	out, err := contractABI.Unpack(name, l.Data)
	if err != nil {
		return nil, errs.Decode(err, "%s事件数据解析失败", name)
	}
	if len(out) < 2 {
		return nil, errs.Decode(nil, "%s事件参数数量不足", name)
	}

	amountWei, ok := out[0].(*big.Int)
	if !ok {
		return nil, errs.Decode(nil, "%s事件amount类型错误: %T", name, out[0])
	}
	projectId, ok := out[1].(string)
	if !ok {
		return nil, errs.Decode(nil, "%s事件projectId类型错误: %T", name, out[1])
	}

	return &EscrowEvent{
		Name:      name,
		Party:     common.BytesToAddress(l.Topics[1].Bytes()).Hex(),
		AmountEth: WeiToEth(amountWei),
		ProjectId: projectId,
		TxHash:    l.TxHash.Hex(),
		BlockNum:  int64(l.BlockNumber),
		LogIndex:  int64(l.Index),
	}, nil
}

// String 便于日志输出
func (e *EscrowEvent) String() string {
	return fmt.Sprintf("%s(project=%s amount=%g tx=%s block=%d)",
		e.Name, e.ProjectId, e.AmountEth, e.TxHash, e.BlockNum)
}
