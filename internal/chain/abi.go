package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ParseEscrowABI 解析内置的托管合约ABI
func ParseEscrowABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(escrowABI))
}

// 托管合约ABI定义
// 写方法: fundEscrow (payable), releaseFunds(dealId)
// 只读方法: getBalance, funded, released, amount, projectId
// 事件: EscrowCreated(dealId), Funded(client, amount, projectId), Released(freelancer, amount, projectId)
const escrowABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "dealId", "type": "uint256"}
		],
		"name": "EscrowCreated",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "client", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"},
			{"indexed": false, "name": "projectId", "type": "string"}
		],
		"name": "Funded",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "freelancer", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"},
			{"indexed": false, "name": "projectId", "type": "string"}
		],
		"name": "Released",
		"type": "event"
	},
	{
		"inputs": [],
		"name": "fundEscrow",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "dealId", "type": "uint256"}
		],
		"name": "releaseFunds",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "getBalance",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "funded",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "released",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "amount",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "projectId",
		"outputs": [{"name": "", "type": "string"}],
		"stateMutability": "view",
		"type": "function"
	}
]`
