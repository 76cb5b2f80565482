package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/TheOnlyBaddy/Blocklance/internal/chain"
	"github.com/TheOnlyBaddy/Blocklance/internal/errs"
	"github.com/TheOnlyBaddy/Blocklance/internal/ledger"
	"github.com/TheOnlyBaddy/Blocklance/internal/logger"
	"github.com/TheOnlyBaddy/Blocklance/internal/model"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/panjf2000/ants/v2"
	"gorm.io/gorm"
)

// State 订阅状态机: Disconnected → Connecting → Subscribed
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// LogSource 链上日志来源，拆成接口便于注入假链
type LogSource interface {
	GetCurrentBlockNumber(ctx context.Context) (int64, error)
	FilterEscrowLogs(ctx context.Context, fromBlock, toBlock int64) ([]types.Log, error)
	ParseEvent(l types.Log) (*chain.EscrowEvent, error)
	GetStartBlock() int64
}

// Reconciler 对账入口，由EscrowOrchestrator实现
// 监听器自己不判断事件是否已应用过，只有台账能事务性地回答这个问题
type Reconciler interface {
	OnChainEvent(ctx context.Context, cmd ledger.Command) (*ledger.Outcome, error)
}

// Listener 托管合约事件监听器
// 长生命周期后台任务，轮询FilterLogs并把事件归一化成对账命令。
// 游标持久化在event表里（MAX(block_num)），重启或断连后从游标续拉
// 而不是只看新事件，停机窗口内的事件不会被静默漏掉。
type Listener struct {
	source       LogSource
	reconciler   Reconciler
	db           *gorm.DB
	pool         *ants.Pool
	pollInterval time.Duration
	batchSize    int64
	contractAddr string

	mu         sync.RWMutex
	state      State
	cursor     int64
	retryCount int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options 监听器配置
type Options struct {
	PollInterval time.Duration
	BatchSize    int64
	PoolSize     int
	ContractAddr string
}

// NewListener 创建监听器
func NewListener(source LogSource, reconciler Reconciler, db *gorm.DB, opts Options) (*Listener, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 15 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 8
	}

	pool, err := ants.NewPool(opts.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Listener{
		source:       source,
		reconciler:   reconciler,
		db:           db,
		pool:         pool,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		contractAddr: opts.ContractAddr,
		state:        StateDisconnected,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start 启动监听
func (l *Listener) Start() error {
	cursor, err := l.loadCursor()
	if err != nil {
		return fmt.Errorf("failed to load listener cursor: %w", err)
	}

	l.mu.Lock()
	l.cursor = cursor
	l.state = StateConnecting
	l.mu.Unlock()

	logger.Info("Starting escrow event listener from block %d", cursor)

	l.wg.Add(1)
	go l.loop()

	return nil
}

// Stop 停止监听，等待在途任务完成
func (l *Listener) Stop() {
	l.cancel()
	l.wg.Wait()
	l.pool.Release()

	l.mu.Lock()
	l.state = StateDisconnected
	l.mu.Unlock()

	logger.Info("Escrow event listener stopped")
}

// GetState 获取当前订阅状态
func (l *Listener) GetState() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// loadCursor 取配置起始区块与已入账事件最大区块中的较大者
func (l *Listener) loadCursor() (int64, error) {
	var maxProcessed int64
	err := l.db.Model(&model.EventModel{}).
		Select("COALESCE(MAX(block_num), 0)").
		Scan(&maxProcessed).Error
	if err != nil {
		return 0, err
	}

	cursor := l.source.GetStartBlock()
	if maxProcessed > cursor {
		cursor = maxProcessed
	}
	return cursor, nil
}

// loop 轮询循环
func (l *Listener) loop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	// 启动后立即拉一次，不等第一个tick
	l.poll()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.waitBackoff()
			l.poll()
		}
	}
}

// poll 单次轮询：从游标批量拉日志、入账、派发
// 任何RPC错误或入账失败都保持游标不动，下个tick重拉同一区间（流水
// 去重保证重放安全），轮询循环本身绝不因单个事件出错而退出
func (l *Listener) poll() {
	currentBlock, err := l.source.GetCurrentBlockNumber(l.ctx)
	if err != nil {
		l.handleTransportError(err)
		return
	}

	l.setState(StateSubscribed)
	l.resetBackoff()

	from := l.getCursor() + 1
	for from <= currentBlock {
		to := from + l.batchSize - 1
		if to > currentBlock {
			to = currentBlock
		}

		logs, err := l.source.FilterEscrowLogs(l.ctx, from, to)
		if err != nil {
			l.handleTransportError(err)
			return
		}

		for _, lg := range logs {
			if err := l.handleLog(lg); err != nil {
				// 入账失败的事件还没有留痕，推进游标会把它永久漏掉
				return
			}
		}

		l.setCursor(to)
		from = to + 1
	}
}

// handleLog 入账并派发单条日志
// 只有入账失败返回错误：调用方必须中止本批并保持游标，其余情况
// （解码失败、重复投递）都已留痕，照常推进
func (l *Listener) handleLog(lg types.Log) error {
	ev, err := l.source.ParseEvent(lg)
	if err != nil {
		// 格式错误的负载：记录后丢弃，绝不让监听循环崩溃
		logger.Error("Dropping undecodable escrow log (tx=%s index=%d): %v",
			lg.TxHash.Hex(), lg.Index, err)
		l.journalDecodeFailure(lg, err)
		return nil
	}

	row, fresh, err := l.journal(ev)
	if err != nil {
		logger.Error("Failed to journal escrow event %s: %v", ev, err)
		return err
	}
	if !fresh && row.Processed {
		// 重连回放的重复投递，已处理过
		return nil
	}

	l.dispatch(row.Id, ev)
	return nil
}

// dispatch 把事件提交协程池做对账
func (l *Listener) dispatch(eventId int64, ev *chain.EscrowEvent) {
	err := l.pool.Submit(func() {
		l.reconcile(eventId, ev)
	})
	if err != nil {
		// 池已关闭或打满，留给对账任务重试
		logger.Warn("Failed to submit event %d to pool: %v", eventId, err)
	}
}

// reconcile 归一化并交给协调器
func (l *Listener) reconcile(eventId int64, ev *chain.EscrowEvent) {
	cmd, err := NormalizeEvent(ev)
	if err != nil {
		logger.Error("Dropping malformed escrow event %s: %v", ev, err)
		l.markProcessed(eventId, err.Error())
		return
	}

	_, err = l.reconciler.OnChainEvent(l.ctx, cmd)
	switch {
	case err == nil:
		l.markProcessed(eventId, "")
	case errs.Is(err, errs.KindEscrowNotFunded):
		// Released事件抢在Funded前到达，留着等后续轮次重试
		logger.Warn("Escrow event %s arrived before funding, will retry: %v", ev, err)
	case errs.Is(err, errs.KindNotFound):
		// 台账不认识这个项目，无法对账
		logger.Error("Escrow event %s references unknown project: %v", ev, err)
		l.markProcessed(eventId, err.Error())
	default:
		logger.Error("Failed to reconcile escrow event %s: %v", ev, err)
	}
}

// NormalizeEvent 把链上事件归一化为对账命令
// projectId在合约里是字符串，解析失败按Decode错误丢弃
func NormalizeEvent(ev *chain.EscrowEvent) (ledger.Command, error) {
	var kind model.TransactionKind
	switch ev.Name {
	case chain.EventFunded:
		kind = model.TransactionKindFund
	case chain.EventReleased:
		kind = model.TransactionKindRelease
	default:
		return ledger.Command{}, errs.Decode(nil, "事件 %s 不参与对账", ev.Name)
	}

	projectId, err := strconv.ParseInt(ev.ProjectId, 10, 64)
	if err != nil || projectId <= 0 {
		return ledger.Command{}, errs.Decode(err, "事件projectId无法解析: %q", ev.ProjectId)
	}
	if ev.AmountEth <= 0 {
		return ledger.Command{}, errs.Decode(nil, "事件金额非法: %g", ev.AmountEth)
	}

	return ledger.Command{
		Kind:                kind,
		ProjectId:           projectId,
		AmountEth:           ev.AmountEth,
		DealId:              ev.DealId,
		CounterpartyAddress: ev.Party,
		SourceTxHash:        ev.TxHash,
		BlockNum:            ev.BlockNum,
	}, nil
}

// journal 事件入账，(tx_hash, log_index)唯一索引去重
// 返回的fresh为false表示这条日志之前已经见过
func (l *Listener) journal(ev *chain.EscrowEvent) (*model.EventModel, bool, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, false, err
	}

	row := &model.EventModel{
		ContractAddress: l.contractAddr,
		EventName:       ev.Name,
		TxHash:          ev.TxHash,
		BlockNum:        ev.BlockNum,
		LogIndex:        ev.LogIndex,
		Data:            string(data),
	}

	err = l.db.Create(row).Error
	if err == nil {
		return row, true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) && !isUniqueViolation(err) {
		return nil, false, err
	}

	var existing model.EventModel
	if err := l.db.Where("tx_hash = ? AND log_index = ?", ev.TxHash, ev.LogIndex).
		First(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

// journalDecodeFailure 无法解析的日志也留痕，方便排查
func (l *Listener) journalDecodeFailure(lg types.Log, cause error) {
	row := &model.EventModel{
		ContractAddress: l.contractAddr,
		EventName:       "Unknown",
		TxHash:          lg.TxHash.Hex(),
		BlockNum:        int64(lg.BlockNumber),
		LogIndex:        int64(lg.Index),
		Processed:       true,
		ProcessError:    cause.Error(),
	}
	if err := l.db.Create(row).Error; err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) && !isUniqueViolation(err) {
			logger.Error("Failed to journal undecodable log: %v", err)
		}
	}
}

// markProcessed 标记事件已处理
func (l *Listener) markProcessed(eventId int64, processError string) {
	updates := map[string]interface{}{"processed": true}
	if processError != "" {
		updates["process_error"] = processError
	}
	err := l.db.Model(&model.EventModel{}).
		Where("id = ?", eventId).
		Updates(updates).Error
	if err != nil {
		logger.Error("Failed to mark event %d processed: %v", eventId, err)
	}
}

// RetryUnprocessed 重放未处理完的事件流水
// 由对账定时任务调用，兜住Released先于Funded到达之类的乱序
func (l *Listener) RetryUnprocessed(ctx context.Context, limit int) error {
	var rows []model.EventModel
	err := l.db.WithContext(ctx).
		Where("processed = ?", false).
		Order("block_num ASC, log_index ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return fmt.Errorf("查询未处理事件失败: %w", err)
	}

	for _, row := range rows {
		var ev chain.EscrowEvent
		if err := json.Unmarshal([]byte(row.Data), &ev); err != nil {
			logger.Error("Failed to decode journaled event %d: %v", row.Id, err)
			l.markProcessed(row.Id, err.Error())
			continue
		}
		l.reconcile(row.Id, &ev)
	}

	return nil
}

// handleTransportError 传输层错误：回退到Connecting并指数退避
func (l *Listener) handleTransportError(err error) {
	if l.ctx.Err() != nil {
		return
	}

	l.mu.Lock()
	l.state = StateConnecting
	l.retryCount++
	retryCount := l.retryCount
	l.mu.Unlock()

	logger.Error("Listener transport error (retry %d), cursor held for replay: %v", retryCount, err)
}

// backoffDelay 连续失败次数翻译成下次轮询前的额外等待，封顶2分钟
func (l *Listener) backoffDelay() time.Duration {
	l.mu.RLock()
	retries := l.retryCount
	l.mu.RUnlock()

	if retries == 0 {
		return 0
	}
	if retries > 8 {
		retries = 8
	}
	delay := time.Second << uint(retries-1)
	if delay > 2*time.Minute {
		delay = 2 * time.Minute
	}
	return delay
}

func (l *Listener) waitBackoff() {
	delay := l.backoffDelay()
	if delay <= 0 {
		return
	}
	select {
	case <-l.ctx.Done():
	case <-time.After(delay):
	}
}

func (l *Listener) resetBackoff() {
	l.mu.Lock()
	l.retryCount = 0
	l.mu.Unlock()
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Listener) getCursor() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cursor
}

func (l *Listener) setCursor(block int64) {
	l.mu.Lock()
	l.cursor = block
	l.mu.Unlock()
}

// isUniqueViolation 识别未被gorm翻译的唯一约束冲突
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "constraint failed")
}
