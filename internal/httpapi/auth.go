package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"wisefido-devicelink/internal/session"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errInvalidToken = errors.New("invalid token")
	errMissingToken = errors.New("missing bearer token")
	errMissingUser  = errors.New("token has no user id")
)

// Authenticator 从请求中解析会话用户
// 配置了密钥时必须携带有效的 Authorization: Bearer <jwt>，X-User-* 头被忽略
// 未配置密钥时信任网关注入的 X-User-Id / X-User-Role
type Authenticator struct {
	secret []byte
}

// NewAuthenticator secret 为空时不校验 JWT
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Viewer 解析请求用户
func (a *Authenticator) Viewer(r *http.Request) (session.Viewer, error) {
	if len(a.secret) > 0 {
		token, ok := bearerToken(r)
		if !ok {
			return session.Viewer{}, errMissingToken
		}
		return a.parseToken(token)
	}
	return session.Viewer{
		UserID: strings.TrimSpace(r.Header.Get("X-User-Id")),
		Role:   strings.ToLower(strings.TrimSpace(r.Header.Get("X-User-Role"))),
	}, nil
}

func (a *Authenticator) parseToken(tokenString string) (session.Viewer, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return session.Viewer{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return session.Viewer{}, errInvalidToken
	}

	v := session.Viewer{}
	if role, ok := claims["role"].(string); ok {
		v.Role = strings.ToLower(strings.TrimSpace(role))
	}
	if uid, ok := claims["user_id"].(string); ok && uid != "" {
		v.UserID = uid
	} else if sub, err := claims.GetSubject(); err == nil {
		v.UserID = sub
	}
	if strings.TrimSpace(v.UserID) == "" {
		return session.Viewer{}, errMissingUser
	}
	return v, nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(h[7:])
	return token, token != ""
}
