package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hitoshi/storyapi/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// 件名
const (
	SubjectConfirmation   = "Confirmation Email"
	SubjectForgotPassword = "Forgot Password Email"
)

// ConfirmationEmail は確認メールテンプレートの値。
type ConfirmationEmail struct {
	Title      string
	ConfirmURL string
	Lastname   string
	UserEmail  string
}

// ForgotPasswordEmail はパスワード再設定メールテンプレートの値。
type ForgotPasswordEmail struct {
	Title             string
	UserEmail         string
	ForgotPasswordURL string
}

// Templates は埋め込みテンプレートを保持する。
type Templates struct {
	t *template.Template
}

// LoadTemplates は埋め込みテンプレートを読み込む。
func LoadTemplates() (*Templates, error) {
	t, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse mail templates: %w", err)
	}
	return &Templates{t: t}, nil
}

// RenderConfirmation は確認メールのHTMLを返す。
func (t *Templates) RenderConfirmation(data ConfirmationEmail) (string, error) {
	return t.render("confirmation.html", data)
}

// RenderForgotPassword はパスワード再設定メールのHTMLを返す。
func (t *Templates) RenderForgotPassword(data ForgotPasswordEmail) (string, error) {
	return t.render("forgot_password.html", data)
}

func (t *Templates) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.t.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

// NotifierConfig は送信元とリンク生成の設定。
type NotifierConfig struct {
	From   Address
	Title  string
	AppURL string // リクエストでappUrlが指定されない場合のリンク先
	// AllowedOrigins はリクエストのappUrlとして受け付ける追加のオリジン（scheme://host[:port]）。
	// AppURLのオリジンは常に許可される。
	AllowedOrigins []string
}

// Notifier はユーザー向けの通知メールを組み立てて送信する。
type Notifier struct {
	sender    Sender
	templates *Templates
	cfg       NotifierConfig
}

// NewNotifier はNotifierを生成する。
func NewNotifier(sender Sender, templates *Templates, cfg NotifierConfig) *Notifier {
	return &Notifier{sender: sender, templates: templates, cfg: cfg}
}

// SendConfirmation はアカウント有効化リンクを送る。
func (n *Notifier) SendConfirmation(ctx context.Context, user *model.User, appURL string) error {
	link, err := n.link(appURL, "activate", user)
	if err != nil {
		return err
	}

	data := ConfirmationEmail{
		Title:      n.cfg.Title,
		ConfirmURL: link,
		Lastname:   user.Lastname,
		UserEmail:  user.Email,
	}
	html, err := n.templates.RenderConfirmation(data)
	if err != nil {
		return err
	}

	return n.sender.Send(ctx, Message{
		From:     n.cfg.From,
		To:       Address{Name: strings.TrimSpace(user.Firstname + " " + user.Lastname), Email: user.Email},
		Subject:  SubjectConfirmation,
		HTML:     html,
		Text:     "Confirm your account: " + link,
		Category: "confirmation",
	})
}

// SendForgotPassword はパスワード再設定リンクを送る。
func (n *Notifier) SendForgotPassword(ctx context.Context, user *model.User, appURL string) error {
	link, err := n.link(appURL, "reset-password", user)
	if err != nil {
		return err
	}

	data := ForgotPasswordEmail{
		Title:             n.cfg.Title,
		UserEmail:         user.Email,
		ForgotPasswordURL: link,
	}
	html, err := n.templates.RenderForgotPassword(data)
	if err != nil {
		return err
	}

	return n.sender.Send(ctx, Message{
		From:     n.cfg.From,
		To:       Address{Name: strings.TrimSpace(user.Firstname + " " + user.Lastname), Email: user.Email},
		Subject:  SubjectForgotPassword,
		HTML:     html,
		Text:     "Reset your password: " + link,
		Category: "forgot_password",
	})
}

// link は「<appURL>/<action>?email=...&token=...」を組み立てる。
// appURLが許可されたオリジンでなければ既定のAppURLを使う。
func (n *Notifier) link(appURL, action string, user *model.User) (string, error) {
	if user.Token == nil || *user.Token == "" {
		return "", fmt.Errorf("user %s has no token", user.ID)
	}

	base, err := n.resolveAppURL(appURL)
	if err != nil {
		return "", err
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/" + action
	q := url.Values{}
	q.Set("email", user.Email)
	q.Set("token", *user.Token)
	base.RawQuery = q.Encode()
	base.Fragment = ""
	return base.String(), nil
}

func (n *Notifier) resolveAppURL(requested string) (*url.URL, error) {
	fallback, err := parseAppURL(n.cfg.AppURL)
	if err != nil {
		return nil, err
	}
	if requested == "" {
		return fallback, nil
	}

	u, err := parseAppURL(requested)
	if err == nil && n.originAllowed(origin(u), origin(fallback)) {
		return u, nil
	}
	slog.Warn("許可されていないappUrlを既定値に置き換えました",
		slog.String("app_url", requested),
	)
	return fallback, nil
}

func (n *Notifier) originAllowed(o, defaultOrigin string) bool {
	if strings.EqualFold(o, defaultOrigin) {
		return true
	}
	for _, allowed := range n.cfg.AllowedOrigins {
		if strings.EqualFold(o, strings.TrimSuffix(strings.TrimSpace(allowed), "/")) {
			return true
		}
	}
	return false
}

func parseAppURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || u.User != nil {
		return nil, fmt.Errorf("invalid app url %q", raw)
	}
	return u, nil
}

func origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}
