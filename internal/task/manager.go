package task

import (
	"github.com/TheOnlyBaddy/Blocklance/internal/config"
	"github.com/TheOnlyBaddy/Blocklance/internal/escrow"
	"github.com/TheOnlyBaddy/Blocklance/internal/ledger"
	"github.com/TheOnlyBaddy/Blocklance/internal/listener"
	"github.com/TheOnlyBaddy/Blocklance/internal/logger"
	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// Manager 任务管理器
type Manager struct {
	scheduler    gocron.Scheduler
	db           *gorm.DB
	store        *ledger.Store
	orchestrator *escrow.Orchestrator
	listener     *listener.Listener
	inspector    ChainInspector
	config       *config.Config
}

// NewManager 创建新的任务管理器
func NewManager(db *gorm.DB, store *ledger.Store, orchestrator *escrow.Orchestrator, lst *listener.Listener, inspector ChainInspector, cfg *config.Config) *Manager {
	s, err := gocron.NewScheduler()
	if err != nil {
		logger.Fatal("Failed to create scheduler: %v", err)
	}

	return &Manager{
		scheduler:    s,
		db:           db,
		store:        store,
		orchestrator: orchestrator,
		listener:     lst,
		inspector:    inspector,
		config:       cfg,
	}
}

// Start 启动任务管理器
func Start(db *gorm.DB, store *ledger.Store, orchestrator *escrow.Orchestrator, lst *listener.Listener, inspector ChainInspector, cfg *config.Config) *Manager {
	manager := NewManager(db, store, orchestrator, lst, inspector, cfg)

	// 注册所有任务
	manager.RegisterJobs()

	// 启动调度器
	manager.scheduler.Start()

	logger.Info("Task manager started successfully")
	return manager
}

// RegisterJobs 注册所有任务
func (m *Manager) RegisterJobs() {
	m.RegisterEscrowReconcileJob()
	m.RegisterNonceCleanupJob()
}

// RegisterEscrowReconcileJob 注册托管对账任务
func (m *Manager) RegisterEscrowReconcileJob() {
	job := NewEscrowReconcileJob(m.store, m.orchestrator, m.listener, m.inspector, m.config)

	_, err := m.scheduler.NewJob(
		job.GetSchedule(),
		gocron.NewTask(job.Execute),
		gocron.WithName(job.GetName()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		logger.Error("Failed to register job %s: %v", job.GetName(), err)
	}
}

// RegisterNonceCleanupJob 注册nonce清理任务
func (m *Manager) RegisterNonceCleanupJob() {
	job := NewNonceCleanupJob(m.db, m.config)

	_, err := m.scheduler.NewJob(
		job.GetSchedule(),
		gocron.NewTask(job.Execute),
		gocron.WithName(job.GetName()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		logger.Error("Failed to register job %s: %v", job.GetName(), err)
	}
}

// Stop 停止任务管理器
func (m *Manager) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		logger.Error("Failed to shutdown scheduler: %v", err)
	}
	logger.Info("Task manager stopped")
}
