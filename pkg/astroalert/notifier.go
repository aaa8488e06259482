package astroalert

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/gomail.v2"
)

var ErrNotConfigured = errors.New("alerting requires ALERT_SMTP_HOST and ALERT_TO")

// Config holds the SMTP settings for failure alerts. Alerting is off while
// SMTPHost or To is empty.
type Config struct {
	SMTPHost string        `env:"ALERT_SMTP_HOST,"`
	SMTPPort int           `env:"ALERT_SMTP_PORT,587"`
	Username string        `env:"ALERT_SMTP_USER,"`
	Password string        `env:"ALERT_SMTP_PASSWORD," encrypt:"true"`
	From     string        `env:"ALERT_FROM,astrosnap@localhost"`
	To       string        `env:"ALERT_TO,"`
	Cooldown time.Duration `env:"ALERT_COOLDOWN,15m"`
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.SMTPHost) != "" && len(c.Recipients()) > 0
}

// Recipients splits the comma-separated To list.
func (c Config) Recipients() []string {
	var out []string
	for _, addr := range strings.Split(c.To, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// Sender delivers composed messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Notifier mails capture failures, at most once per route per cooldown.
// Sends happen on their own goroutine so the caller never waits on SMTP.
type Notifier struct {
	cfg    Config
	sender Sender
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
	wg   sync.WaitGroup
}

// New builds a Notifier that sends through the configured SMTP server.
func New(cfg Config) (*Notifier, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.Username, cfg.Password)
	return NewWithSender(cfg, d), nil
}

func NewWithSender(cfg Config, sender Sender) *Notifier {
	return &Notifier{
		cfg:    cfg,
		sender: sender,
		now:    time.Now,
		last:   make(map[string]time.Time),
	}
}

// ReportFailure queues an alert for path unless one was sent within the
// cooldown.
func (n *Notifier) ReportFailure(path, outcome string, err error) {
	at := n.now()
	if !n.claim(path, at) {
		log.Debug().Str("path", path).Msg("Alert suppressed by cooldown")
		return
	}

	msg := n.message(path, outcome, err, at)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if sendErr := n.sender.DialAndSend(msg); sendErr != nil {
			log.Error().Err(sendErr).Str("path", path).Msg("Failed to send alert")
			n.release(path, at)
			return
		}
		log.Info().Str("path", path).Str("outcome", outcome).Msg("Alert sent")
	}()
}

// Wait blocks until queued alerts have been handed to the sender.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) claim(path string, at time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if prev, ok := n.last[path]; ok && at.Sub(prev) < n.cfg.Cooldown {
		return false
	}
	n.last[path] = at
	return true
}

// release forgets a claim whose send failed so the next failure retries.
func (n *Notifier) release(path string, at time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.last[path].Equal(at) {
		delete(n.last, path)
	}
}

func (n *Notifier) message(path, outcome string, err error, at time.Time) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.From)
	m.SetHeader("To", n.cfg.Recipients()...)
	m.SetHeader("Subject", fmt.Sprintf("[astrosnap] %s failed: %s", path, outcome))

	reason := "unknown"
	if err != nil {
		reason = err.Error()
	}
	m.SetBody("text/plain", fmt.Sprintf(
		"Snapshot route: %s\nOutcome: %s\nError: %s\nTime: %s\n",
		path, outcome, reason, at.Format(time.RFC3339),
	))
	return m
}
