// Package auth はパスワードハッシュとベアラートークンの発行・検証を提供する。
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/storyapi/internal/model"
)

var (
	// ErrMissingHeader はAuthorizationヘッダーが空であることを示す。
	ErrMissingHeader = errors.New("authorization header is missing")
	// ErrMalformedHeader はヘッダーが "<scheme> <token>" の形でないことを示す。
	ErrMalformedHeader = errors.New("authorization header is malformed")
	// ErrInvalidSignature はトークンの署名・形式・有効期限の検証に失敗したことを示す。
	ErrInvalidSignature = errors.New("token signature verification failed")
)

// TokenConfig はトークン発行の設定。起動時に1回組み立てて以後変更しない。
type TokenConfig struct {
	Secret []byte
	Issuer string        // issクレーム。APIのベースURLを使う
	TTL    time.Duration // 0の場合expクレームを付けない
}

// Claims はベアラートークンのペイロード。
type Claims struct {
	jwt.RegisteredClaims
	Permissions model.Role `json:"permissions"`
}

// Issuer はHS256署名のトークンを発行・検証する。
type Issuer struct {
	cfg TokenConfig
	now func() time.Time
}

// NewIssuer はIssuerを生成する。
func NewIssuer(cfg TokenConfig) *Issuer {
	return &Issuer{cfg: cfg, now: time.Now}
}

// IssueToken は主体IDとロールを埋め込んだトークンを発行する。
func (i *Issuer) IssueToken(subjectID string, role model.Role) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subjectID,
			Issuer:   i.cfg.Issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Permissions: role,
	}
	if i.cfg.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.cfg.TTL))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken はトークン文字列を検証し、主体を返す。
// 失敗はすべてErrInvalidSignatureにまとめる。
func (i *Issuer) ParseToken(tokenString string) (model.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.cfg.Secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil || !token.Valid {
		return model.Identity{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if claims.Subject == "" {
		return model.Identity{}, fmt.Errorf("%w: empty subject", ErrInvalidSignature)
	}

	return model.Identity{
		ID:   claims.Subject,
		Role: model.ParseRole(int(claims.Permissions)),
	}, nil
}

// VerifyAuthorization はAuthorizationヘッダーの値を検証する。
// スキーム部分は検査せず、空白で区切った2番目の要素をトークンとして扱う。
func (i *Issuer) VerifyAuthorization(header string) (model.Identity, error) {
	tokenString, err := ExtractToken(header)
	if err != nil {
		return model.Identity{}, err
	}
	return i.ParseToken(tokenString)
}

// ExtractToken は "<scheme> <token>" からトークン部分を取り出す。
func ExtractToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingHeader
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", ErrMalformedHeader
	}
	token := strings.TrimSpace(parts[1])
	if token == "" || strings.Contains(token, " ") {
		return "", ErrMalformedHeader
	}
	return token, nil
}

// NewSingleUseToken はアカウント有効化とパスワード再設定に使う乱数トークンを生成する。
func NewSingleUseToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
