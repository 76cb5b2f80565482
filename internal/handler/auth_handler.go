package handler

import (
	"net/http"

	"github.com/TheOnlyBaddy/Blocklance/internal/auth"
	"github.com/TheOnlyBaddy/Blocklance/internal/logic"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type AuthHandler struct {
	nonceLogic  *logic.NonceLogic
	authManager *auth.Manager
}

func NewAuthHandler(db *gorm.DB, authManager *auth.Manager, nonceTTLMinutes int) *AuthHandler {
	return &AuthHandler{
		nonceLogic:  logic.NewNonceLogic(db, nonceTTLMinutes),
		authManager: authManager,
	}
}

// IssueNonce 为钱包地址签发一次性登录挑战
func (h *AuthHandler) IssueNonce(c *gin.Context) {
	var req NonceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的请求参数")
		return
	}

	nonce, err := h.nonceLogic.Issue(req.WalletAddress)
	if err != nil {
		DomainErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "挑战签发成功", NonceResponse{
		WalletAddress: nonce.WalletAddress,
		Nonce:         nonce.Nonce,
		ExpiresAt:     nonce.ExpiresAt,
	})
}

// Login 钱包登录：核销挑战后签发token
// 签名校验由前端钱包侧完成，后端只保证挑战一次性有效
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的请求参数")
		return
	}

	if err := h.nonceLogic.Consume(req.WalletAddress, req.Nonce); err != nil {
		DomainErrorResponse(c, err)
		return
	}

	token, err := h.authManager.IssueToken(req.UserId)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "签发token失败")
		return
	}

	SuccessResponse(c, http.StatusOK, "登录成功", LoginResponse{
		Token:  token,
		UserId: req.UserId,
	})
}
