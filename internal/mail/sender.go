// Package mail は確認メールとパスワード再設定メールを送信する。
package mail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Address はメールアドレスと表示名。
type Address struct {
	Name  string
	Email string
}

// Message は送信する1通のメール。
type Message struct {
	From     Address
	To       Address
	Subject  string
	HTML     string
	Text     string
	Category string // ログ用（confirmation / forgot_password）
}

// Sender はメール送信手段を抽象化する。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SendGridSender はSendGridのv3 APIで送信する。
type SendGridSender struct {
	client *sendgrid.Client
}

// NewSendGridSender はSendGridSenderを生成する。
func NewSendGridSender(apiKey string) *SendGridSender {
	return &SendGridSender{client: sendgrid.NewSendClient(apiKey)}
}

// Send はメールを送信する。SendGridが4xx/5xxを返した場合もエラーとする。
func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	from := sgmail.NewEmail(msg.From.Name, msg.From.Email)
	to := sgmail.NewEmail(msg.To.Name, msg.To.Email)
	m := sgmail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("failed to send %s mail: %w", msg.Category, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d for %s mail: %s", resp.StatusCode, msg.Category, resp.Body)
	}
	return nil
}

// LogSender は送信せずにログへ出力する。APIキー未設定の開発環境で使う。
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender はLogSenderを生成する。loggerがnilの場合はslog.Default()を使う。
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send はメール内容をログに出力する。
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("メール送信をスキップしました",
		slog.String("category", msg.Category),
		slog.String("to", msg.To.Email),
		slog.String("subject", msg.Subject),
		slog.String("text", msg.Text),
	)
	return nil
}

var (
	_ Sender = (*SendGridSender)(nil)
	_ Sender = (*LogSender)(nil)
)
