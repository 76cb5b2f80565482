package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/TheOnlyBaddy/Blocklance/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const contextUserKey = "auth_user_id"

// Manager JWT鉴权管理器
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager 创建鉴权管理器
func NewManager(cfg config.AuthConfig) *Manager {
	ttl := time.Duration(cfg.TokenTTL) * time.Minute
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		secret: []byte(cfg.JWTSecret),
		ttl:    ttl,
	}
}

// IssueToken 为用户签发token
func (m *Manager) IssueToken(userId int64) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(userId, 10),
		"iat": now.Unix(),
		"exp": now.Add(m.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// ParseToken 验证token并返回用户ID
func (m *Manager) ParseToken(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, fmt.Errorf("invalid token claims")
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return 0, fmt.Errorf("token missing subject: %w", err)
	}

	userId, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || userId <= 0 {
		return 0, fmt.Errorf("invalid token subject: %q", sub)
	}

	return userId, nil
}

// Middleware Bearer token中间件，把调用者ID放进请求上下文
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "缺少Authorization头",
			})
			return
		}

		userId, err := m.ParseToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "无效的token",
			})
			return
		}

		c.Set(contextUserKey, userId)
		c.Next()
	}
}

// CallerId 从请求上下文取调用者ID
func CallerId(c *gin.Context) (int64, bool) {
	value, exists := c.Get(contextUserKey)
	if !exists {
		return 0, false
	}
	userId, ok := value.(int64)
	return userId, ok
}
