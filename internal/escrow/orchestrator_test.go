package escrow

import (
	"context"
	"fmt"
	"testing"

	"github.com/TheOnlyBaddy/Blocklance/internal/chain"
	"github.com/TheOnlyBaddy/Blocklance/internal/config"
	"github.com/TheOnlyBaddy/Blocklance/internal/errs"
	"github.com/TheOnlyBaddy/Blocklance/internal/ledger"
	"github.com/TheOnlyBaddy/Blocklance/internal/model"
	"github.com/TheOnlyBaddy/Blocklance/internal/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError: true,
		NamingStrategy: &schema.NamingStrategy{SingularTable: true},
	})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	return db
}

// fakeWriter 假链后端：按队列顺序返回预设错误，耗尽后成功
type fakeWriter struct {
	fundCalls    int
	releaseCalls int
	fundErrs     []error
	releaseErrs  []error
	dealId       int64
	onFund       func(ctx context.Context) // 链上写在途时的干扰动作
}

func (f *fakeWriter) FundEscrow(ctx context.Context, amountEth float64) (*chain.Result, error) {
	f.fundCalls++
	if len(f.fundErrs) > 0 {
		err := f.fundErrs[0]
		f.fundErrs = f.fundErrs[1:]
		return nil, err
	}
	if f.onFund != nil {
		f.onFund(ctx)
	}
	dealId := f.dealId
	return &chain.Result{TxHash: "0xfund", DealId: &dealId, BlockNum: 100}, nil
}

func (f *fakeWriter) ReleaseFunds(ctx context.Context, dealId int64) (*chain.Result, error) {
	f.releaseCalls++
	if len(f.releaseErrs) > 0 {
		err := f.releaseErrs[0]
		f.releaseErrs = f.releaseErrs[1:]
		return nil, err
	}
	return &chain.Result{TxHash: "0xrelease", BlockNum: 110}, nil
}

// recordingSink 记录通知而不落库
type recordingSink struct {
	notes []*model.NotificationModel
}

func (r *recordingSink) Notify(ctx context.Context, n *model.NotificationModel) {
	r.notes = append(r.notes, n)
}

func fastRetry() config.RetryConfig {
	return config.RetryConfig{MaxAttempts: 3, BackoffMs: 1}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *gorm.DB, *fakeWriter, *recordingSink) {
	t.Helper()

	db := setupTestDB(t)
	writer := &fakeWriter{dealId: 7}
	sink := &recordingSink{}
	o := NewOrchestrator(db, ledger.NewStore(db), writer, sink, fastRetry())
	return o, db, writer, sink
}

func seedProject(t *testing.T, db *gorm.DB, status model.ProjectStatus) *model.ProjectModel {
	t.Helper()

	freelancerId := int64(20)
	project := &model.ProjectModel{
		Title:                "落地页开发",
		ClientId:             10,
		AssignedFreelancerId: &freelancerId,
		Status:               status,
	}
	require.NoError(t, db.Create(project).Error)
	return project
}

func TestFundHappyPath(t *testing.T) {
	o, db, writer, sink := newTestOrchestrator(t)
	project := seedProject(t, db, model.ProjectStatusInProgress)

	outcome, err := o.Fund(context.Background(), FundRequest{
		ProjectId: project.Id,
		CallerId:  10,
		AmountEth: 1.5,
	})
	require.NoError(t, err)
	require.True(t, outcome.Applied)
	require.Equal(t, 1, writer.fundCalls)
	require.Equal(t, model.TransactionStatusFunded, outcome.Transaction.Status)
	require.Equal(t, int64(20), outcome.Transaction.PayeeId)
	require.NotNil(t, outcome.Transaction.DealId)
	require.Equal(t, int64(7), *outcome.Transaction.DealId)

	var reloaded model.ProjectModel
	require.NoError(t, db.First(&reloaded, project.Id).Error)
	require.True(t, reloaded.EscrowFunded)

	// 落账之后才通知收款方
	require.Len(t, sink.notes, 1)
	require.Equal(t, int64(20), sink.notes[0].ReceiverId)
	require.Equal(t, model.NotificationTypePayment, sink.notes[0].Type)
}

func TestFundValidation(t *testing.T) {
	o, db, writer, _ := newTestOrchestrator(t)
	project := seedProject(t, db, model.ProjectStatusInProgress)

	// 金额必须大于0
	_, err := o.Fund(context.Background(), FundRequest{ProjectId: project.Id, CallerId: 10, AmountEth: 0})
	require.True(t, errs.Is(err, errs.KindValidation))

	// 项目必须在进行中
	open := seedProject(t, db, model.ProjectStatusOpen)
	_, err = o.Fund(context.Background(), FundRequest{ProjectId: open.Id, CallerId: 10, AmountEth: 1})
	require.True(t, errs.Is(err, errs.KindValidation))

	// 项目必须存在
	_, err = o.Fund(context.Background(), FundRequest{ProjectId: 999, CallerId: 10, AmountEth: 1})
	require.True(t, errs.Is(err, errs.KindNotFound))

	require.Equal(t, 0, writer.fundCalls)
}

func TestFundAuthorization(t *testing.T) {
	o, db, writer, _ := newTestOrchestrator(t)
	project := seedProject(t, db, model.ProjectStatusInProgress)

	// 非项目客户无权注资
	_, err := o.Fund(context.Background(), FundRequest{ProjectId: project.Id, CallerId: 99, AmountEth: 1})
	require.True(t, errs.Is(err, errs.KindAuthorization))
	require.Equal(t, 0, writer.fundCalls)
}

func TestFundIdempotent(t *testing.T) {
	o, db, writer, sink := newTestOrchestrator(t)
	project := seedProject(t, db, model.ProjectStatusInProgress)

	req := FundRequest{ProjectId: project.Id, CallerId: 10, AmountEth: 1.5}
	first, err := o.Fund(context.Background(), req)
	require.NoError(t, err)
	require.True(t, first.Applied)

	// 重复注资：一次链上写、一条台账、一条通知
	second, err := o.Fund(context.Background(), req)
	require.NoError(t, err)
	require.False(t, second.Applied)
	require.Equal(t, first.Transaction.Id, second.Transaction.Id)
	require.Equal(t, 1, writer.fundCalls)
	require.Len(t, sink.notes, 1)
}

func TestReleaseHappyPath(t *testing.T) {
	o, db, writer, sink := newTestOrchestrator(t)
	project := seedProject(t, db, model.ProjectStatusInProgress)

	_, err := o.Fund(context.Background(), FundRequest{ProjectId: project.Id, CallerId: 10, AmountEth: 1.5})
	require.NoError(t, err)

	outcome, err := o.Release(context.Background(), project.Id, 10)
	require.NoError(t, err)
	require.True(t, outcome.Applied)
	require.Equal(t, 1, writer.releaseCalls)
	require.Equal(t, model.TransactionStatusReleased, outcome.Transaction.Status)
	require.Equal(t, 1.5, outcome.Transaction.Amount)
	require.NotNil(t, outcome.Transaction.ReleasedAt)

	var reloaded model.ProjectModel
	require.NoError(t, db.First(&reloaded, project.Id).Error)
	require.True(t, reloaded.EscrowReleased)
	require.Equal(t, model.ProjectStatusCompleted, reloaded.Status)

	require.Len(t, sink.notes, 2) // 注资一条 + 放款一条
}

func TestReleaseByNonClient(t *testing.T) {
	o, db, writer, _ := newTestOrchestrator(t)
	project := seedProject(t, db, model.ProjectStatusInProgress)

	_, err := o.Fund(context.Background(), FundRequest{ProjectId: project.Id, CallerId: 10, AmountEth: 1.5})
	require.NoError(t, err)

	_, err = o.Release(context.Background(), project.Id, 99)
	require.True(t, errs.Is(err, errs.KindAuthorization))
	require.Equal(t, 0, writer.releaseCalls)

	var reloaded model.ProjectModel
	require.NoError(t, db.First(&reloaded, project.Id).Error)
	require.False(t, reloaded.EscrowReleased)
}

func TestReleaseWithoutFunded(t *testing.T) {
	o, db, writer, _ := newTestOrchestrator(t)
	project := seedProject(t, db, model.ProjectStatusInProgress)

	// 未注资就放款：链上调用根本不发起
	_, err := o.Release(context.Background(), project.Id, 10)
	require.True(t, errs.Is(err, errs.KindEscrowNotFunded))
	require.Equal(t, 0, writer.releaseCalls)
}

func TestDoubleReleaseSingleChainWrite(t *testing.T) {
	o, db, writer, _ := newTestOrchestrator(t)
	project := seedProject(t, db, model.ProjectStatusInProgress)

	_, err := o.Fund(context.Background(), FundRequest{ProjectId: project.Id, CallerId: 10, AmountEth: 1.5})
	require.NoError(t, err)

	first, err := o.Release(context.Background(), project.Id, 10)
	require.NoError(t, err)
	require.True(t, first.Applied)

	second, err := o.Release(context.Background(), project.Id, 10)
	require.NoError(t, err)
	require.False(t, second.Applied)
	require.Equal(t, 1, writer.releaseCalls)
}

func TestFundRetriesTransientErrors(t *testing.T) {
	o, db, writer, _ := newTestOrchestrator(t)
	project := seedProject(t, db, model.ProjectStatusInProgress)

	writer.fundErrs = []error{
		errs.ChainTransient(nil, "RPC超时"),
		errs.ChainTransient(nil, "nonce冲突"),
	}

	outcome, err := o.Fund(context.Background(), FundRequest{ProjectId: project.Id, CallerId: 10, AmountEth: 1.5})
	require.NoError(t, err)
	require.True(t, outcome.Applied)
	require.Equal(t, 3, writer.fundCalls)
}

func TestFundRetryExhausted(t *testing.T) {
	o, db, writer, _ := newTestOrchestrator(t)
	project := seedProject(t, db, model.ProjectStatusInProgress)

	writer.fundErrs = []error{
		errs.ChainTransient(nil, "RPC超时"),
		errs.ChainTransient(nil, "RPC超时"),
		errs.ChainTransient(nil, "RPC超时"),
	}

	_, err := o.Fund(context.Background(), FundRequest{ProjectId: project.Id, CallerId: 10, AmountEth: 1.5})
	require.True(t, errs.Is(err, errs.KindChainTransient))
	require.Equal(t, 3, writer.fundCalls)

	// 占位行转为failed，后续重试可以复用
	var row model.TransactionModel
	require.NoError(t, db.Where("project_id = ?", project.Id).First(&row).Error)
	require.Equal(t, model.TransactionStatusFailed, row.Status)
}

func TestFundRejectedNotRetried(t *testing.T) {
	o, db, writer, sink := newTestOrchestrator(t)
	project := seedProject(t, db, model.ProjectStatusInProgress)

	writer.fundErrs = []error{errs.ChainRejected(nil, "余额不足")}

	_, err := o.Fund(context.Background(), FundRequest{ProjectId: project.Id, CallerId: 10, AmountEth: 1.5})
	require.True(t, errs.Is(err, errs.KindChainRejected))
	require.Equal(t, 1, writer.fundCalls)
	require.Empty(t, sink.notes)
}

func TestFundEventDuringChainWriteNotifiesOnce(t *testing.T) {
	o, db, writer, sink := newTestOrchestrator(t)
	project := seedProject(t, db, model.ProjectStatusInProgress)

	// 链上写还没返回回执，Funded事件已经被监听器送达
	writer.onFund = func(ctx context.Context) {
		outcome, err := o.OnChainEvent(ctx, ledger.Command{
			Kind:         model.TransactionKindFund,
			ProjectId:    project.Id,
			AmountEth:    1.5,
			SourceTxHash: "0xevent",
			BlockNum:     100,
		})
		require.NoError(t, err)
		require.True(t, outcome.Applied)
	}

	outcome, err := o.Fund(context.Background(), FundRequest{
		ProjectId: project.Id,
		CallerId:  10,
		AmountEth: 1.5,
	})
	require.NoError(t, err)

	// 事件路径抢先定稿，API路径幂等短路，收款方只收到一条通知
	require.False(t, outcome.Applied)
	require.Len(t, sink.notes, 1)
	require.Equal(t, int64(20), sink.notes[0].ReceiverId)

	var count int64
	require.NoError(t, db.Model(&model.TransactionModel{}).
		Where("project_id = ?", project.Id).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestOnChainEventAppliesWithoutChainWrite(t *testing.T) {
	o, db, writer, sink := newTestOrchestrator(t)
	project := seedProject(t, db, model.ProjectStatusInProgress)

	outcome, err := o.OnChainEvent(context.Background(), ledger.Command{
		Kind:         model.TransactionKindFund,
		ProjectId:    project.Id,
		AmountEth:    1.5,
		SourceTxHash: "0xevent",
		BlockNum:     120,
	})
	require.NoError(t, err)
	require.True(t, outcome.Applied)
	require.Equal(t, 0, writer.fundCalls)
	require.Equal(t, "0xevent", outcome.Transaction.TxHash)
	// 参与方从项目补齐
	require.Equal(t, int64(10), outcome.Transaction.PayerId)
	require.Equal(t, int64(20), outcome.Transaction.PayeeId)
	require.Len(t, sink.notes, 1)

	// 同一事件重投：不产生第二条通知
	redelivered, err := o.OnChainEvent(context.Background(), ledger.Command{
		Kind:         model.TransactionKindFund,
		ProjectId:    project.Id,
		AmountEth:    1.5,
		SourceTxHash: "0xevent",
		BlockNum:     120,
	})
	require.NoError(t, err)
	require.False(t, redelivered.Applied)
	require.Len(t, sink.notes, 1)
}
