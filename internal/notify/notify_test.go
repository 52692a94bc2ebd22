package notify

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() Notification {
	return Notification{
		Subject: "Taxroll Updates Summary - 1 Batches Processed (B1)",
		HTML:    "<p>hello</p>",
		Attachments: []Attachment{{
			Name:        "Taxroll_Update_Report.xlsx",
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Data:        []byte("PK\x03\x04 workbook"),
		}},
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	require.NoError(t, r.Dispatch(context.Background(), sample()))
	r.SetErr(errors.New("relay down"))
	assert.EqualError(t, r.Dispatch(context.Background(), sample()), "relay down")
	assert.Len(t, r.Sent(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Dispatch(ctx, sample()), context.Canceled)
}

func TestSMTPConfigValidate(t *testing.T) {
	ok := SMTPConfig{Host: "smtp.local", From: "bot@example.com", To: []string{"ops@example.com"}}
	require.NoError(t, ok.Validate())

	noHost := ok
	noHost.Host = ""
	assert.Error(t, noHost.Validate())

	noTo := ok
	noTo.To = nil
	assert.ErrorIs(t, noTo.Validate(), ErrNoRecipients)

	badTLS := ok
	badTLS.TLS = "starttls-ish"
	assert.Error(t, badTLS.Validate())
}

func TestSMTPMessageCarriesBodyAndAttachment(t *testing.T) {
	d, err := NewSMTPDispatcher(SMTPConfig{Host: "smtp.local", From: "bot@example.com", To: []string{"a@example.com", "b@example.com"}}, nil)
	require.NoError(t, err)
	m, err := d.Message(sample())
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "Subject: Taxroll Updates Summary - 1 Batches Processed (B1)")
	assert.Contains(t, raw, `"Taxroll Automation Bot" <bot@example.com>`)
	assert.Contains(t, raw, "a@example.com")
	assert.Contains(t, raw, "text/html")
	assert.Contains(t, raw, `filename="Taxroll_Update_Report.xlsx"`)
}

func TestSMTPDispatchFailsFastWhenRelayUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	d, err := NewSMTPDispatcher(SMTPConfig{
		Host:    "127.0.0.1",
		Port:    port,
		From:    "bot@example.com",
		To:      []string{"ops@example.com"},
		Timeout: 2 * time.Second,
	}, nil)
	require.NoError(t, err)
	start := time.Now()
	err = d.Dispatch(context.Background(), sample())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "send via 127.0.0.1"))
	assert.Less(t, time.Since(start), 5*time.Second)
}
