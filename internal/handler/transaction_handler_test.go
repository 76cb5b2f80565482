package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TheOnlyBaddy/Blocklance/internal/auth"
	"github.com/TheOnlyBaddy/Blocklance/internal/chain"
	"github.com/TheOnlyBaddy/Blocklance/internal/config"
	"github.com/TheOnlyBaddy/Blocklance/internal/escrow"
	"github.com/TheOnlyBaddy/Blocklance/internal/ledger"
	"github.com/TheOnlyBaddy/Blocklance/internal/model"
	"github.com/TheOnlyBaddy/Blocklance/internal/repository"
	"github.com/gin-gonic/gin"
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

// fakeWriter 假链后端，写调用总是成功
type fakeWriter struct {
	fundCalls    int
	releaseCalls int
}

func (f *fakeWriter) FundEscrow(ctx context.Context, amountEth float64) (*chain.Result, error) {
	f.fundCalls++
	dealId := int64(7)
	return &chain.Result{TxHash: "0xfund", DealId: &dealId, BlockNum: 100}, nil
}

func (f *fakeWriter) ReleaseFunds(ctx context.Context, dealId int64) (*chain.Result, error) {
	f.releaseCalls++
	return &chain.Result{TxHash: "0xrelease", BlockNum: 110}, nil
}

type testEnv struct {
	router  *gin.Engine
	db      *gorm.DB
	writer  *fakeWriter
	manager *auth.Manager
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := setupTestDB(t)
	writer := &fakeWriter{}
	orchestrator := escrow.NewOrchestrator(db, ledger.NewStore(db), writer, nil,
		config.RetryConfig{MaxAttempts: 1, BackoffMs: 1})
	manager := auth.NewManager(config.AuthConfig{JWTSecret: "test-secret", TokenTTL: 60})

	h := NewTransactionHandler(db, orchestrator)
	r := gin.New()
	r.POST("/api/v1/transactions/fund", manager.Middleware(), h.FundEscrow)
	r.POST("/api/v1/transactions/:id/release", manager.Middleware(), h.ReleaseEscrow)
	r.GET("/api/v1/transactions/project/:projectId", h.GetProjectTransactions)

	return &testEnv{router: r, db: db, writer: writer, manager: manager}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) token(t *testing.T, userId int64) string {
	t.Helper()
	token, err := e.manager.IssueToken(userId)
	require.NoError(t, err)
	return token
}

func seedProject(t *testing.T, db *gorm.DB) *model.ProjectModel {
	t.Helper()

	freelancerId := int64(20)
	project := &model.ProjectModel{
		Title:                "移动端开发",
		ClientId:             10,
		AssignedFreelancerId: &freelancerId,
		Status:               model.ProjectStatusInProgress,
	}
	require.NoError(t, db.Create(project).Error)
	return project
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestFundEscrowEndpoint(t *testing.T) {
	env := setupTestEnv(t)
	project := seedProject(t, env.db)
	token := env.token(t, 10)

	w := env.request(t, http.MethodPost, "/api/v1/transactions/fund", token,
		FundEscrowRequest{ProjectId: project.Id, AmountEth: 1.5})
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decodeResponse(t, w)
	require.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	require.Equal(t, "funded", data["status"])
	require.Equal(t, "0xfund", data["txHash"])
	require.Equal(t, 1, env.writer.fundCalls)

	// 重复注资：幂等返回200与已有交易
	w = env.request(t, http.MethodPost, "/api/v1/transactions/fund", token,
		FundEscrowRequest{ProjectId: project.Id, AmountEth: 1.5})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, env.writer.fundCalls)
}

func TestFundEscrowEndpointErrors(t *testing.T) {
	env := setupTestEnv(t)
	project := seedProject(t, env.db)

	// 未带token
	w := env.request(t, http.MethodPost, "/api/v1/transactions/fund", "",
		FundEscrowRequest{ProjectId: project.Id, AmountEth: 1.5})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// 非项目客户
	w = env.request(t, http.MethodPost, "/api/v1/transactions/fund", env.token(t, 99),
		FundEscrowRequest{ProjectId: project.Id, AmountEth: 1.5})
	require.Equal(t, http.StatusForbidden, w.Code)

	// 项目不存在
	w = env.request(t, http.MethodPost, "/api/v1/transactions/fund", env.token(t, 10),
		FundEscrowRequest{ProjectId: 999, AmountEth: 1.5})
	require.Equal(t, http.StatusNotFound, w.Code)

	// 金额缺失（binding校验）
	w = env.request(t, http.MethodPost, "/api/v1/transactions/fund", env.token(t, 10),
		map[string]interface{}{"projectId": project.Id})
	require.Equal(t, http.StatusBadRequest, w.Code)

	require.Equal(t, 0, env.writer.fundCalls)
}

func TestReleaseEscrowEndpoint(t *testing.T) {
	env := setupTestEnv(t)
	project := seedProject(t, env.db)
	token := env.token(t, 10)

	w := env.request(t, http.MethodPost, "/api/v1/transactions/fund", token,
		FundEscrowRequest{ProjectId: project.Id, AmountEth: 1.5})
	require.Equal(t, http.StatusCreated, w.Code)

	var funded model.TransactionModel
	require.NoError(t, env.db.Where("project_id = ?", project.Id).First(&funded).Error)

	w = env.request(t, http.MethodPost,
		fmt.Sprintf("/api/v1/transactions/%d/release", funded.Id), token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeResponse(t, w)
	data := resp.Data.(map[string]interface{})
	require.Equal(t, "released", data["status"])
	require.Equal(t, 1, env.writer.releaseCalls)

	var reloaded model.ProjectModel
	require.NoError(t, env.db.First(&reloaded, project.Id).Error)
	require.Equal(t, model.ProjectStatusCompleted, reloaded.Status)
}

func TestReleaseEscrowEndpointErrors(t *testing.T) {
	env := setupTestEnv(t)
	project := seedProject(t, env.db)

	// 交易不存在
	w := env.request(t, http.MethodPost, "/api/v1/transactions/999/release", env.token(t, 10), nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	// 引用了一条失败的注资记录：托管未注资
	failed := &model.TransactionModel{
		ProjectId: project.Id,
		PayerId:   10,
		PayeeId:   20,
		Amount:    1.5,
		Kind:      model.TransactionKindFund,
		Status:    model.TransactionStatusFailed,
	}
	require.NoError(t, env.db.Create(failed).Error)

	w = env.request(t, http.MethodPost,
		fmt.Sprintf("/api/v1/transactions/%d/release", failed.Id), env.token(t, 10), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, 0, env.writer.releaseCalls)
}

func TestGetProjectTransactionsEndpoint(t *testing.T) {
	env := setupTestEnv(t)
	project := seedProject(t, env.db)
	token := env.token(t, 10)

	env.request(t, http.MethodPost, "/api/v1/transactions/fund", token,
		FundEscrowRequest{ProjectId: project.Id, AmountEth: 1.5})

	w := env.request(t, http.MethodGet,
		fmt.Sprintf("/api/v1/transactions/project/%d", project.Id), "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeResponse(t, w)
	require.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	list := data["transactions"].([]interface{})
	require.Len(t, list, 1)
}
