/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-08 20:40:41
 * @FilePath: \newsroom-cms\backend\internal\infra\token\jwt_manager.go
 * @LastEditTime: 2025-10-20 17:20:18
 */
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	claimUsername    = "username"
	claimDisplayName = "name"
	claimEmail       = "email"
	claimIsAdmin     = "is_admin"
	claimTokenType   = "token_type"
	tokenTypeAccess  = "access"
)

// ErrInvalidToken 表示令牌签名、有效期、签发者或主体不合法。
var ErrInvalidToken = errors.New("invalid access token")

// Claims 是编辑访问令牌中携带的身份信息。
type Claims struct {
	UserID      uint
	Username    string
	DisplayName string
	Email       string
	IsAdmin     bool
	ExpiresAt   time.Time
}

// JWTManager 使用共享密钥校验外部认证服务签发的访问令牌，
// 同时为本地工具与测试签发同格式的令牌。
type JWTManager struct {
	secret string
	issuer string
	ttl    time.Duration
}

// NewJWTManager 创建 JWT 管理器。issuer 为空时不校验 iss。
func NewJWTManager(secret, issuer string, ttl time.Duration) *JWTManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTManager{secret: secret, issuer: issuer, ttl: ttl}
}

// Issue 签发访问令牌，返回令牌与过期时间。
func (m *JWTManager) Issue(claims Claims) (string, time.Time, error) {
	if claims.UserID == 0 {
		return "", time.Time{}, errors.New("issue token: user id is required")
	}
	if m.secret == "" {
		return "", time.Time{}, errors.New("issue token: secret is empty")
	}

	now := time.Now()
	expiresAt := now.Add(m.ttl)
	mapClaims := jwt.MapClaims{
		"sub":            strconv.FormatUint(uint64(claims.UserID), 10),
		"iat":            now.Unix(),
		"exp":            expiresAt.Unix(),
		"jti":            uuid.NewString(),
		claimUsername:    claims.Username,
		claimDisplayName: claims.DisplayName,
		claimEmail:       claims.Email,
		claimIsAdmin:     claims.IsAdmin,
		claimTokenType:   tokenTypeAccess,
	}
	if m.issuer != "" {
		mapClaims["iss"] = m.issuer
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims).SignedString([]byte(m.secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse 校验访问令牌并解析出编辑身份。刷新令牌会被拒绝。
func (m *JWTManager) Parse(raw string) (Claims, error) {
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if m.issuer != "" {
		options = append(options, jwt.WithIssuer(m.issuer))
	}

	mapClaims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(raw), mapClaims, func(*jwt.Token) (interface{}, error) {
		return []byte(m.secret), nil
	}, options...)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}

	if tType, ok := mapClaims[claimTokenType].(string); ok && tType != "" && tType != tokenTypeAccess {
		return Claims{}, fmt.Errorf("%w: not an access token", ErrInvalidToken)
	}

	userID, err := parseSubject(mapClaims["sub"])
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := Claims{UserID: userID}
	claims.Username, _ = mapClaims[claimUsername].(string)
	claims.DisplayName, _ = mapClaims[claimDisplayName].(string)
	claims.Email, _ = mapClaims[claimEmail].(string)
	claims.IsAdmin, _ = mapClaims[claimIsAdmin].(bool)
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	return claims, nil
}

// parseSubject 兼容字符串与数字两种 sub 写法。
func parseSubject(raw any) (uint, error) {
	var subRaw string
	switch v := raw.(type) {
	case string:
		subRaw = v
	case float64:
		if v < 0 {
			return 0, errors.New("invalid subject")
		}
		subRaw = fmt.Sprintf("%.0f", v)
	case json.Number:
		subRaw = v.String()
	default:
		return 0, errors.New("missing subject")
	}

	id64, err := strconv.ParseUint(subRaw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse subject: %w", err)
	}
	if id64 == 0 {
		return 0, errors.New("subject must be positive")
	}
	return uint(id64), nil
}
