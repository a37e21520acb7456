package upload

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"chatrelay/config"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Signer 为第三方媒体上传接口签发限时授权
// 授权绑定固定的上传目录范围；服务端从不接触媒体内容本身，
// 消息里只流转上传完成后的URL和类型
type Signer struct {
	secret []byte        // 对称密钥 HS256
	folder string        // 固定目录范围
	ttl    time.Duration // 有效期
}

// NewSigner 创建上传签名服务
func NewSigner(cfg config.UploadConfig) *Signer {
	return &Signer{
		secret: []byte(cfg.Secret),
		folder: cfg.Folder,
		ttl:    cfg.GrantTTL,
	}
}

// Grant 一次直传授权
// Signature 为参数串的 HMAC-SHA256（hex），供上传接口校验
// Token 为同内容的 HS256 JWT，自带过期时间
type Grant struct {
	Folder    string `json:"folder"`
	Timestamp int64  `json:"timestamp"`
	ExpiresAt int64  `json:"expires_at"`
	Signature string `json:"signature"`
	Token     string `json:"token"`
}

// GrantClaims JWT声明载荷
type GrantClaims struct {
	Folder string `json:"folder"`
	jwtv5.RegisteredClaims
}

// Issue 签发一次直传授权
func (s *Signer) Issue(now time.Time) (*Grant, error) {
	expiresAt := now.Add(s.ttl)

	claims := &GrantClaims{
		Folder: s.folder,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    "chatrelay",
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(expiresAt),
		},
	}

	token := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign grant failed: %w", err)
	}

	return &Grant{
		Folder:    s.folder,
		Timestamp: now.Unix(),
		ExpiresAt: expiresAt.Unix(),
		Signature: s.signParams(now.Unix()),
		Token:     signed,
	}, nil
}

// Verify 校验授权token（过期、签名方法、签发者）
func (s *Signer) Verify(tokenString string) (*GrantClaims, error) {
	if tokenString == "" {
		return nil, errors.New("token is empty")
	}

	claims := &GrantClaims{}
	parsedToken, err := jwtv5.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwtv5.Token) (interface{}, error) {
			if token.Method != jwtv5.SigningMethodHS256 {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwtv5.WithIssuer("chatrelay"),
	)
	if err != nil {
		return nil, fmt.Errorf("parse grant failed: %w", err)
	}
	if !parsedToken.Valid {
		return nil, errors.New("invalid grant")
	}
	return claims, nil
}

// signParams 对排序后的参数串做 HMAC-SHA256
func (s *Signer) signParams(timestamp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "folder=%s&timestamp=%d", s.folder, timestamp)
	return hex.EncodeToString(mac.Sum(nil))
}
