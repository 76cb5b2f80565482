package task

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/TheOnlyBaddy/Blocklance/internal/config"
	"github.com/TheOnlyBaddy/Blocklance/internal/escrow"
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

// fakeInspector 假合约视图
type fakeInspector struct {
	funded   bool
	released bool
}

func (f *fakeInspector) Funded(ctx context.Context) (bool, error)   { return f.funded, nil }
func (f *fakeInspector) Released(ctx context.Context) (bool, error) { return f.released, nil }

func seedStalePending(t *testing.T, db *gorm.DB) (*model.ProjectModel, *model.TransactionModel) {
	t.Helper()

	freelancerId := int64(20)
	project := &model.ProjectModel{
		Title:                "设计稿交付",
		ClientId:             10,
		AssignedFreelancerId: &freelancerId,
		Status:               model.ProjectStatusInProgress,
	}
	require.NoError(t, db.Create(project).Error)

	row := &model.TransactionModel{
		ProjectId: project.Id,
		PayerId:   10,
		PayeeId:   20,
		Amount:    1.5,
		Kind:      model.TransactionKindFund,
		Status:    model.TransactionStatusPending,
	}
	require.NoError(t, db.Create(row).Error)
	require.NoError(t, db.Model(row).
		UpdateColumn("updated_at", time.Now().Add(-time.Hour)).Error)
	return project, row
}

func newReconcileJob(db *gorm.DB, inspector ChainInspector) *EscrowReconcileJob {
	store := ledger.NewStore(db)
	orchestrator := escrow.NewOrchestrator(db, store, nil, nil, config.RetryConfig{})
	cfg := &config.Config{Task: config.TaskConfig{Interval: 60, StaleSeconds: 300}}
	return NewEscrowReconcileJob(store, orchestrator, nil, inspector, cfg)
}

func TestReconcileFinalizesWhenChainSaysFunded(t *testing.T) {
	db := setupTestDB(t)
	project, row := seedStalePending(t, db)

	// 发起方崩溃前链上注资已落地：占位行按链上事实定稿
	job := newReconcileJob(db, &fakeInspector{funded: true})
	job.Execute()

	var reloaded model.TransactionModel
	require.NoError(t, db.First(&reloaded, row.Id).Error)
	require.Equal(t, model.TransactionStatusFunded, reloaded.Status)

	var p model.ProjectModel
	require.NoError(t, db.First(&p, project.Id).Error)
	require.True(t, p.EscrowFunded)
}

func TestReconcileMarksFailedWhenChainSaysNot(t *testing.T) {
	db := setupTestDB(t)
	_, row := seedStalePending(t, db)

	// 链上没有对应状态：当初的写入没有落地
	job := newReconcileJob(db, &fakeInspector{})
	job.Execute()

	var reloaded model.TransactionModel
	require.NoError(t, db.First(&reloaded, row.Id).Error)
	require.Equal(t, model.TransactionStatusFailed, reloaded.Status)
}

func TestReconcileLeavesFreshPendingAlone(t *testing.T) {
	db := setupTestDB(t)
	_, row := seedStalePending(t, db)
	require.NoError(t, db.Model(&model.TransactionModel{}).
		Where("id = ?", row.Id).
		UpdateColumn("updated_at", time.Now()).Error)

	// 还没过期的占位行不动，发起方可能只是还在等回执
	job := newReconcileJob(db, &fakeInspector{})
	job.Execute()

	var reloaded model.TransactionModel
	require.NoError(t, db.First(&reloaded, row.Id).Error)
	require.Equal(t, model.TransactionStatusPending, reloaded.Status)
}
