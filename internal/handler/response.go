package handler

import (
	"errors"
	"net/http"

	"github.com/TheOnlyBaddy/Blocklance/internal/errs"
	"github.com/gin-gonic/gin"
)

// SuccessResponse 成功响应
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse 错误响应
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Message: message,
		Data:    nil,
	})
}

// DomainErrorResponse 按错误类别映射HTTP状态码
func DomainErrorResponse(c *gin.Context, err error) {
	var domainErr *errs.Error
	if !errors.As(err, &domainErr) {
		ErrorResponse(c, http.StatusInternalServerError, "内部错误")
		return
	}

	switch domainErr.Kind {
	case errs.KindValidation, errs.KindEscrowNotFunded, errs.KindChainRejected, errs.KindDecode:
		ErrorResponse(c, http.StatusBadRequest, domainErr.Message)
	case errs.KindAuthorization:
		ErrorResponse(c, http.StatusForbidden, domainErr.Message)
	case errs.KindNotFound:
		ErrorResponse(c, http.StatusNotFound, domainErr.Message)
	case errs.KindChainTransient:
		ErrorResponse(c, http.StatusServiceUnavailable, domainErr.Message)
	default:
		ErrorResponse(c, http.StatusInternalServerError, domainErr.Message)
	}
}
