package notify

import (
	"context"
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/jordan-wright/email"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/uniscrape/internal/metrics"
	"github.com/maltedev/uniscrape/internal/models"
)

type sentMail struct {
	mail *email.Email
	addr string
	auth smtp.Auth
}

func discounted() []models.Book {
	return []models.Book{
		{
			ISBN:            "9780134685991",
			Title:           "Effective Java",
			Image:           "https://img.example/ej.jpg",
			Author:          models.Author{Name: "Joshua Bloch"},
			Price:           4000,
			PublicationDate: time.Date(2018, 1, 6, 0, 0, 0, 0, time.UTC),
			URL:             "https://shop.example/ej",
		},
		{
			ISBN:   "9780340960196",
			Title:  "Dune",
			Author: models.Author{Name: "Frank Herbert"},
			Price:  models.PriceUnknown,
			URL:    models.PlaceholderURL,
		},
	}
}

func TestRenderPriceDrop(t *testing.T) {
	body, err := RenderPriceDrop(discounted())
	require.NoError(t, err)

	assert.Contains(t, body, "Effective Java")
	assert.Contains(t, body, "9780134685991")
	assert.Contains(t, body, "Joshua Bloch")
	assert.Contains(t, body, "4000 Ft")
	assert.Contains(t, body, "2018-01-06")
	assert.Contains(t, body, "Price: -")
	assert.Contains(t, body, "Published: -")
	assert.Contains(t, body, `<a href="https://shop.example/ej"><strong>Effective Java</strong></a>`)
	assert.Contains(t, body, "<strong>Dune</strong>")
	assert.NotContains(t, body, "ZgotmplZ")
	assert.NotContains(t, body, "javascript:")
}

func TestSendPriceDrop(t *testing.T) {
	var sent []sentMail
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	mailer := NewMailer(SMTPConfig{Host: "smtp.example", Port: 2525, Username: "u", Password: "p"}, m, nil).
		WithSender(func(mail *email.Email, addr string, auth smtp.Auth) error {
			sent = append(sent, sentMail{mail, addr, auth})
			return nil
		})

	require.NoError(t, mailer.SendPriceDrop(context.Background(), "reader@example.com", discounted()))

	require.Len(t, sent, 1)
	assert.Equal(t, "smtp.example:2525", sent[0].addr)
	assert.NotNil(t, sent[0].auth)
	assert.Equal(t, DefaultFrom, sent[0].mail.From)
	assert.Equal(t, []string{"reader@example.com"}, sent[0].mail.To)
	assert.Equal(t, "[uniscrape] - "+PriceDropTitle, sent[0].mail.Subject)
	assert.Contains(t, string(sent[0].mail.HTML), "Effective Java")

	count, err := testutil.GatherAndCount(reg, "uniscrape_emails_sent_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSendPriceDropFallsBackWithoutAuth(t *testing.T) {
	var auths []smtp.Auth
	mailer := NewMailer(SMTPConfig{Host: "smtp.example"}, nil, nil).
		WithSender(func(_ *email.Email, _ string, auth smtp.Auth) error {
			auths = append(auths, auth)
			if auth != nil {
				return errors.New("smtp: server doesn't support AUTH")
			}
			return nil
		})

	require.NoError(t, mailer.SendPriceDrop(context.Background(), "reader@example.com", discounted()))
	require.Len(t, auths, 2)
	assert.Nil(t, auths[1])
}

func TestSendPriceDropFailure(t *testing.T) {
	mailer := NewMailer(SMTPConfig{Host: "smtp.example"}, nil, nil).
		WithSender(func(*email.Email, string, smtp.Auth) error {
			return errors.New("connection refused")
		})

	err := mailer.SendPriceDrop(context.Background(), "reader@example.com", discounted())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reader@example.com")
}

func TestSendPriceDropWithoutHostOnlyLogs(t *testing.T) {
	called := false
	mailer := NewMailer(SMTPConfig{}, nil, nil).
		WithSender(func(*email.Email, string, smtp.Auth) error {
			called = true
			return nil
		})

	require.NoError(t, mailer.SendPriceDrop(context.Background(), "reader@example.com", discounted()))
	assert.False(t, called)
}
