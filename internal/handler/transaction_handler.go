package handler

import (
	"net/http"
	"strconv"

	"github.com/TheOnlyBaddy/Blocklance/internal/auth"
	"github.com/TheOnlyBaddy/Blocklance/internal/escrow"
	"github.com/TheOnlyBaddy/Blocklance/internal/logic"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type TransactionHandler struct {
	orchestrator     *escrow.Orchestrator
	transactionLogic *logic.TransactionLogic
}

func NewTransactionHandler(db *gorm.DB, orchestrator *escrow.Orchestrator) *TransactionHandler {
	return &TransactionHandler{
		orchestrator:     orchestrator,
		transactionLogic: logic.NewTransactionLogic(db),
	}
}

// FundEscrow 客户端为项目注资托管
func (h *TransactionHandler) FundEscrow(c *gin.Context) {
	callerId, ok := auth.CallerId(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "未登录")
		return
	}

	var req FundEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的请求参数")
		return
	}

	outcome, err := h.orchestrator.Fund(c.Request.Context(), escrow.FundRequest{
		ProjectId:    req.ProjectId,
		CallerId:     callerId,
		FreelancerId: req.FreelancerId,
		AmountEth:    req.AmountEth,
	})
	if err != nil {
		DomainErrorResponse(c, err)
		return
	}

	// 幂等短路：已注资的项目返回已有交易
	if !outcome.Applied {
		SuccessResponse(c, http.StatusOK, "托管已注资", ToTransactionResponse(outcome.Transaction))
		return
	}

	SuccessResponse(c, http.StatusCreated, "托管注资成功", ToTransactionResponse(outcome.Transaction))
}

// ReleaseEscrow 客户端放款给自由职业者
func (h *TransactionHandler) ReleaseEscrow(c *gin.Context) {
	callerId, ok := auth.CallerId(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "未登录")
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的交易ID")
		return
	}

	// 路由按交易ID寻址，放款本身以项目为粒度
	transaction, err := h.transactionLogic.GetTransaction(id)
	if err != nil {
		DomainErrorResponse(c, err)
		return
	}

	outcome, err := h.orchestrator.Release(c.Request.Context(), transaction.ProjectId, callerId)
	if err != nil {
		DomainErrorResponse(c, err)
		return
	}

	if !outcome.Applied {
		SuccessResponse(c, http.StatusOK, "托管已放款", ToTransactionResponse(outcome.Transaction))
		return
	}

	SuccessResponse(c, http.StatusOK, "托管放款成功", ToTransactionResponse(outcome.Transaction))
}

// GetProjectTransactions 获取项目的托管交易记录
func (h *TransactionHandler) GetProjectTransactions(c *gin.Context) {
	projectId, err := strconv.ParseInt(c.Param("projectId"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的项目ID")
		return
	}

	transactions, err := h.transactionLogic.GetProjectTransactions(projectId)
	if err != nil {
		DomainErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "获取交易记录成功", GetProjectTransactionsResponse{
		Transactions: ToTransactionResponseList(transactions),
	})
}
