package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys set by Identity.
const (
	UserIDKey    = "userID"
	RoleKey      = "role"
	SessionIPKey = "sessionIP"
)

// Claims is the identity token issued by the host application's auth layer.
type Claims struct {
	UserID    uint   `json:"id"`
	Role      string `json:"role"`
	SessionIP string `json:"sip,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 identity token.
func IssueToken(secret string, userID uint, role, sessionIP string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := &Claims{
		UserID:    userID,
		Role:      role,
		SessionIP: sessionIP,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates an HS256 identity token.
func ParseToken(secret, raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// Identity reads the bearer token, when present and valid, into the request context.
// Requests without one continue as anonymous.
func Identity(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" || secret == "" {
			c.Next()
			return
		}
		claims, err := ParseToken(secret, raw)
		if err != nil {
			GetRequestLogger(c).WithError(err).Debug("ignoring invalid identity token")
			c.Next()
			return
		}
		c.Set(UserIDKey, claims.UserID)
		c.Set(RoleKey, claims.Role)
		c.Set(SessionIPKey, claims.SessionIP)
		c.Next()
	}
}

// DeniedFunc is told about requests RequireRole rejected.
type DeniedFunc func(c *gin.Context, requiredRole string)

// RequireRole rejects callers whose role is not role.
func RequireRole(role string, onDenied ...DeniedFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(RoleKey) != role {
			for _, fn := range onDenied {
				fn(c, role)
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.Next()
	}
}

// Actor returns the identity Identity stored on the context.
func Actor(c *gin.Context) (id *uint, role, sessionIP string) {
	if v, ok := c.Get(UserIDKey); ok {
		if uid, ok := v.(uint); ok {
			id = &uid
		}
	}
	return id, c.GetString(RoleKey), c.GetString(SessionIPKey)
}
