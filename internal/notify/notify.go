// Package notify sends price-drop e-mails.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/jordan-wright/email"

	"github.com/maltedev/uniscrape/internal/metrics"
	"github.com/maltedev/uniscrape/internal/models"
)

const (
	DefaultFrom    = "noreply@uniscrape.com"
	SubjectPrefix  = "[uniscrape] - "
	PriceDropTitle = "Prices dropped on your wishlist"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c SMTPConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SendFunc delivers one message; it matches (*email.Email).Send.
type SendFunc func(mail *email.Email, addr string, auth smtp.Auth) error

func smtpSend(mail *email.Email, addr string, auth smtp.Auth) error {
	return mail.Send(addr, auth)
}

var priceDropTemplate = template.Must(template.New("price_drop").Funcs(template.FuncMap{
	"price":   formatPrice,
	"date":    formatDate,
	"hasLink": hasLink,
}).Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>{{ .Title }}</h2>
  <p>The following books on your wishlist are cheaper now:</p>
  {{- range .Books }}
  <table style="margin-bottom: 16px; border-bottom: 1px solid #ddd;">
    <tr>
      <td style="padding-right: 12px;"><img src="{{ .Image }}" alt="{{ .Title }}" width="90"></td>
      <td>
        {{ if hasLink .URL }}<a href="{{ .URL }}"><strong>{{ .Title }}</strong></a>{{ else }}<strong>{{ .Title }}</strong>{{ end }}<br>
        ISBN: {{ .ISBN }}<br>
        Author: {{ .Author.Name }}<br>
        Price: {{ price .Price }}<br>
        Published: {{ date .PublicationDate }}
      </td>
    </tr>
  </table>
  {{- end }}
</body>
</html>`))

type Mailer struct {
	cfg     SMTPConfig
	send    SendFunc
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewMailer returns a mailer that only logs messages when cfg.Host is empty.
func NewMailer(cfg SMTPConfig, m *metrics.Metrics, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.From == "" {
		cfg.From = DefaultFrom
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Mailer{
		cfg:     cfg,
		send:    smtpSend,
		metrics: m,
		logger:  logger.With("component", "notify"),
	}
}

// WithSender swaps the delivery function.
func (m *Mailer) WithSender(fn SendFunc) *Mailer {
	m.send = fn
	return m
}

// SendPriceDrop mails the discounted books to one address.
func (m *Mailer) SendPriceDrop(ctx context.Context, to string, books []models.Book) (err error) {
	defer func() { m.metrics.ObserveEmail(err) }()

	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := RenderPriceDrop(books)
	if err != nil {
		return err
	}

	mail := email.NewEmail()
	mail.From = m.cfg.From
	mail.To = []string{to}
	mail.Subject = SubjectPrefix + PriceDropTitle
	mail.HTML = []byte(body)

	if m.cfg.Host == "" {
		m.logger.Info("smtp not configured, price drop e-mail not sent", "to", to, "books", len(books))
		return nil
	}

	err = m.send(mail, m.cfg.addr(), smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = m.send(mail, m.cfg.addr(), nil)
	}
	if err != nil {
		m.logger.Error("failed to send price drop e-mail", "to", to, "error", err)
		return fmt.Errorf("send price drop e-mail to %s: %w", to, err)
	}

	m.logger.Info("price drop e-mail sent", "to", to, "books", len(books))
	return nil
}

func RenderPriceDrop(books []models.Book) (string, error) {
	var buf bytes.Buffer
	err := priceDropTemplate.Execute(&buf, struct {
		Title string
		Books []models.Book
	}{PriceDropTitle, books})
	if err != nil {
		return "", fmt.Errorf("render price drop e-mail: %w", err)
	}
	return buf.String(), nil
}

// hasLink reports whether url can be rendered as an anchor. Placeholder
// links would be rewritten by html/template into an unsafe-content marker.
func hasLink(url string) bool {
	return url != "" && url != models.PlaceholderURL
}

func formatPrice(p float64) string {
	if !models.PriceKnown(p) {
		return "-"
	}
	return fmt.Sprintf("%.0f Ft", p)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}
