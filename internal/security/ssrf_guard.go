// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

var (
	// ErrBlockedURL は静的検証でURLが拒否されたことを示す。
	ErrBlockedURL = errors.New("url is not allowed")
	// ErrResponseTooLarge はレスポンスが上限サイズを超えたことを示す。
	ErrResponseTooLarge = errors.New("response body exceeds limit")
)

// allowedSchemes はリモート取得で許可するURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はリモート取得でブロックするネットワーク範囲。
// safeurlはDNS解決後のIPもDialerで検証するので、ここでは事前チェックだけに使う。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16", // クラウドメタデータIPを含む
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// RemoteFetcher はユーザー指定URLから画像などを取得する。
type RemoteFetcher interface {
	// Fetch はURLの内容を最大maxSizeバイトまで読み込み、Content-Typeとともに返す。
	Fetch(ctx context.Context, rawURL string, maxSize int64) ([]byte, string, error)
}

// URLGuard はsafeurlでプライベートアドレスへの接続を遮断するHTTPクライアントを持つ。
type URLGuard struct {
	client *http.Client
}

// NewURLGuard はURLGuardを生成する。
// safeurlの設定でhttp/httpsと80/443番ポートだけを許可する。
func NewURLGuard(timeout time.Duration) *URLGuard {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return &URLGuard{client: safeurl.Client(config).Client}
}

// newURLGuardWithClient はテスト用に任意のクライアントを差し込む。
func newURLGuardWithClient(client *http.Client) *URLGuard {
	return &URLGuard{client: client}
}

// Fetch はURLを静的検証した後、安全なクライアントで取得する。
func (g *URLGuard) Fetch(ctx context.Context, rawURL string, maxSize int64) ([]byte, string, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	if resp.ContentLength > maxSize {
		return nil, "", ErrResponseTooLarge
	}

	// 上限+1バイトまで読んで超過を検出する
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(body)) > maxSize {
		return nil, "", ErrResponseTooLarge
	}

	return body, resp.Header.Get("Content-Type"), nil
}

// ValidateURL はDNS解決を伴わない静的なURL検証を行う。
// DNS再バインディングはNewURLGuardのクライアント側で防ぐ。
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty URL", ErrBlockedURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlockedURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("%w: disallowed scheme %q", ErrBlockedURL, scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrBlockedURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("%w: blocked IP address %s", ErrBlockedURL, ip)
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("%w: blocked host %s", ErrBlockedURL, host)
	}
	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if scheme == allowed {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

var _ RemoteFetcher = (*URLGuard)(nil)
