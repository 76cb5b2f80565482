package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/TheOnlyBaddy/Blocklance/internal/config"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
)

// Client 托管合约客户端
// 显式构造、显式注入，不使用包级单例，便于用假链后端做测试
type Client struct {
	client       *ethclient.Client
	privateKey   *ecdsa.PrivateKey
	from         common.Address
	escrowAddr   common.Address
	chainId      *big.Int
	contractABI  abi.ABI
	writeTimeout time.Duration
	startBlock   int64
}

// Result 链上写操作结果
type Result struct {
	TxHash   string
	DealId   *int64
	BlockNum int64
}

// NewClient 创建托管合约客户端
func NewClient(cfg config.ChainConfig) (*Client, error) {
	// 连接RPC节点
	client, err := ethclient.Dial(cfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain rpc: %w", err)
	}

	// 解析私钥
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	// 解析ABI
	parsedABI, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse escrow ABI: %w", err)
	}

	writeTimeout := time.Duration(cfg.WriteTimeout) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 90 * time.Second
	}

	return &Client{
		client:       client,
		privateKey:   privateKey,
		from:         crypto.PubkeyToAddress(privateKey.PublicKey),
		escrowAddr:   common.HexToAddress(cfg.EscrowAddress),
		chainId:      big.NewInt(cfg.ChainId),
		contractABI:  parsedABI,
		writeTimeout: writeTimeout,
		startBlock:   cfg.StartBlock,
	}, nil
}

// FundEscrow 向托管合约注资并等待回执
func (c *Client) FundEscrow(ctx context.Context, amountEth float64) (*Result, error) {
	return c.write(ctx, "fundEscrow", EthToWei(amountEth))
}

// ReleaseFunds 放款给自由职业者并等待回执
func (c *Client) ReleaseFunds(ctx context.Context, dealId int64) (*Result, error) {
	return c.write(ctx, "releaseFunds", nil, big.NewInt(dealId))
}

// write 发送合约写交易，阻塞至拿到回执或超时
// 回执status为失败、以及gas估算阶段的revert都归类为ChainRejected
func (c *Client) write(ctx context.Context, method string, value *big.Int, args ...interface{}) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	input, err := c.contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, classify(err, method)
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, classify(err, method)
	}

	// 估算gas，合约revert会在这里提前暴露
	msg := ethereum.CallMsg{
		From:  c.from,
		To:    &c.escrowAddr,
		Value: value,
		Data:  input,
	}
	gasLimit, err := c.client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, classify(err, method)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.escrowAddr,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainId), c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s transaction: %w", method, err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, classify(err, method)
	}

	receipt, err := bind.WaitMined(ctx, c.client, signedTx)
	if err != nil {
		return nil, classify(err, method)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, classify(fmt.Errorf("transaction reverted: %s", signedTx.Hash().Hex()), method)
	}

	result := &Result{
		TxHash:   signedTx.Hash().Hex(),
		BlockNum: receipt.BlockNumber.Int64(),
	}

	// 从回执日志提取dealId
	if dealId, ok := c.extractDealId(receipt); ok {
		result.DealId = &dealId
	}

	return result, nil
}

// extractDealId 从回执的EscrowCreated日志提取dealId
func (c *Client) extractDealId(receipt *types.Receipt) (int64, bool) {
	createdID := c.contractABI.Events["EscrowCreated"].ID
	for _, l := range receipt.Logs {
		if len(l.Topics) >= 2 && l.Topics[0] == createdID {
			return new(big.Int).SetBytes(l.Topics[1].Bytes()).Int64(), true
		}
	}
	return 0, false
}

// Funded 读取合约funded标志
func (c *Client) Funded(ctx context.Context) (bool, error) {
	out, err := c.view(ctx, "funded")
	if err != nil {
		return false, err
	}
	funded, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected funded() output type %T", out[0])
	}
	return funded, nil
}

// Released 读取合约released标志
func (c *Client) Released(ctx context.Context) (bool, error) {
	out, err := c.view(ctx, "released")
	if err != nil {
		return false, err
	}
	released, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected released() output type %T", out[0])
	}
	return released, nil
}

// GetBalance 读取合约当前托管余额（ETH）
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	out, err := c.view(ctx, "getBalance")
	if err != nil {
		return 0, err
	}
	wei, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected getBalance() output type %T", out[0])
	}
	return WeiToEth(wei), nil
}

// Amount 读取合约约定的托管金额（ETH）
func (c *Client) Amount(ctx context.Context) (float64, error) {
	out, err := c.view(ctx, "amount")
	if err != nil {
		return 0, err
	}
	wei, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected amount() output type %T", out[0])
	}
	return WeiToEth(wei), nil
}

// view 执行合约只读调用
func (c *Client) view(ctx context.Context, method string) ([]interface{}, error) {
	input, err := c.contractABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	output, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &c.escrowAddr,
		Data: input,
	}, nil)
	if err != nil {
		return nil, classify(err, method)
	}

	out, err := c.contractABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s output: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty %s output", method)
	}

	return out, nil
}

// GetCurrentBlockNumber 获取当前最新区块号
func (c *Client) GetCurrentBlockNumber(ctx context.Context) (int64, error) {
	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, classify(err, "headerByNumber")
	}
	return header.Number.Int64(), nil
}

// FilterEscrowLogs 拉取托管合约在指定区块范围内的日志
func (c *Client) FilterEscrowLogs(ctx context.Context, fromBlock, toBlock int64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(fromBlock),
		ToBlock:   big.NewInt(toBlock),
		Addresses: []common.Address{c.escrowAddr},
	}

	logs, err := c.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, classify(err, "filterLogs")
	}
	return logs, nil
}

// GetStartBlock 获取配置的监听起始区块号
func (c *Client) GetStartBlock() int64 {
	return c.startBlock
}

// GetEscrowAddress 获取托管合约地址
func (c *Client) GetEscrowAddress() common.Address {
	return c.escrowAddr
}

// Close 关闭底层RPC连接
func (c *Client) Close() {
	c.client.Close()
}

// EthToWei ETH转wei
func EthToWei(amountEth float64) *big.Int {
	wei, _ := new(big.Float).Mul(
		big.NewFloat(amountEth),
		new(big.Float).SetFloat64(params.Ether),
	).Int(nil)
	return wei
}

// WeiToEth wei转ETH
func WeiToEth(wei *big.Int) float64 {
	eth, _ := new(big.Float).Quo(
		new(big.Float).SetInt(wei),
		new(big.Float).SetFloat64(params.Ether),
	).Float64()
	return eth
}
