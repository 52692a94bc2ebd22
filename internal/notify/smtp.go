package notify

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// DefaultSenderName is the display name used when none is configured.
const DefaultSenderName = "Taxroll Automation Bot"

// SMTPConfig describes the relay and the fixed sender and recipients.
type SMTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	From     string        `mapstructure:"from"`
	FromName string        `mapstructure:"from_name"`
	To       []string      `mapstructure:"to"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	TLS      string        `mapstructure:"tls"` // none | opportunistic | mandatory
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Validate checks the relay can be addressed.
func (c SMTPConfig) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("smtp host required")
	}
	if strings.TrimSpace(c.From) == "" {
		return fmt.Errorf("smtp from address required")
	}
	if len(c.To) == 0 {
		return ErrNoRecipients
	}
	if _, err := tlsPolicy(c.TLS); err != nil {
		return err
	}
	return nil
}

func tlsPolicy(s string) (mail.TLSPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return mail.NoTLS, nil
	case "opportunistic":
		return mail.TLSOpportunistic, nil
	case "mandatory":
		return mail.TLSMandatory, nil
	default:
		return mail.NoTLS, fmt.Errorf("unknown smtp tls mode %q", s)
	}
}

// SMTPDispatcher sends notifications through an SMTP relay.
type SMTPDispatcher struct {
	cfg    SMTPConfig
	logger *zap.Logger
}

// NewSMTPDispatcher validates cfg and returns a dispatcher.
func NewSMTPDispatcher(cfg SMTPConfig, logger *zap.Logger) (*SMTPDispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FromName == "" {
		cfg.FromName = DefaultSenderName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPDispatcher{cfg: cfg, logger: logger}, nil
}

// Message builds the MIME message for n.
func (d *SMTPDispatcher) Message(n Notification) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.FromFormat(d.cfg.FromName, d.cfg.From); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if err := m.To(d.cfg.To...); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	m.Subject(n.Subject)
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextHTML, n.HTML)
	for _, a := range n.Attachments {
		var opts []mail.FileOption
		if a.ContentType != "" {
			opts = append(opts, mail.WithFileContentType(mail.ContentType(a.ContentType)))
		}
		if err := m.AttachReader(a.Name, bytes.NewReader(a.Data), opts...); err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Name, err)
		}
	}
	return m, nil
}

// Dispatch implements Dispatcher. Dial and send are bounded by the configured timeout.
func (d *SMTPDispatcher) Dispatch(ctx context.Context, n Notification) error {
	m, err := d.Message(n)
	if err != nil {
		return err
	}
	policy, _ := tlsPolicy(d.cfg.TLS)
	// the port option must follow the policy, which would otherwise pick its own port
	opts := []mail.Option{
		mail.WithTLSPortPolicy(policy),
		mail.WithPort(d.cfg.Port),
		mail.WithTimeout(d.cfg.Timeout),
	}
	if d.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(d.cfg.Username),
			mail.WithPassword(d.cfg.Password))
	}
	client, err := mail.NewClient(d.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send via %s:%d: %w", d.cfg.Host, d.cfg.Port, err)
	}
	d.logger.Info("report dispatched",
		zap.String("subject", n.Subject),
		zap.Strings("to", d.cfg.To),
		zap.Int("attachments", len(n.Attachments)))
	return nil
}
