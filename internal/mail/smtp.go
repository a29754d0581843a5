// Package mail は SMTP によるメール送信を提供します。
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// Message は送信するメールの内容です。Text と HTML のどちらか一方は必須です。
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// SMTPConfig は SMTP サーバーへの接続設定です。
type SMTPConfig struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Sender は go-mail クライアントでメールを送ります。
type Sender struct {
	from   string
	client *gomail.Client
}

// NewSender は SMTP 設定から Sender を作成します。
func NewSender(cfg SMTPConfig) (*Sender, error) {
	if cfg.From == "" {
		return nil, errors.New("mail: from address is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTimeout(timeout),
	}

	// 認証情報がある場合のみ SMTP AUTH を有効にする
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthLogin),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	if cfg.TLS {
		opts = append(opts,
			gomail.WithTLSConfig(&tls.Config{ServerName: cfg.Host}),
			gomail.WithTLSPolicy(gomail.TLSMandatory),
		)
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("mail: failed to create client: %w", err)
	}
	return &Sender{from: cfg.From, client: client}, nil
}

// Send はメールを 1 通送信します。
func (s *Sender) Send(ctx context.Context, msg Message) error {
	m, err := s.build(msg)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("mail: failed to send to %s: %w", msg.To, err)
	}
	return nil
}

func (s *Sender) build(msg Message) (*gomail.Msg, error) {
	if msg.To == "" {
		return nil, errors.New("mail: recipient is required")
	}
	if msg.Text == "" && msg.HTML == "" {
		return nil, errors.New("mail: empty body")
	}

	m := gomail.NewMsg()
	if err := m.From(s.from); err != nil {
		return nil, fmt.Errorf("mail: invalid from address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("mail: invalid recipient: %w", err)
	}
	m.Subject(msg.Subject)

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBodyString(gomail.TypeTextPlain, msg.Text)
		m.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
	case msg.Text != "":
		m.SetBodyString(gomail.TypeTextPlain, msg.Text)
	default:
		m.SetBodyString(gomail.TypeTextHTML, msg.HTML)
	}
	return m, nil
}
