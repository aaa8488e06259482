package astroalert

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/gomail.v2"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*gomail.Message
	err  error
}

func (s *fakeSender) DialAndSend(m ...*gomail.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, m...)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestNotifier(sender Sender, cooldown time.Duration) (*Notifier, *clock) {
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	n := NewWithSender(Config{
		SMTPHost: "smtp.example.com",
		From:     "cam@example.com",
		To:       "ops@example.com, oncall@example.com",
		Cooldown: cooldown,
	}, sender)
	n.now = c.now
	return n, c
}

// ---------- Config ----------

func TestConfig_Enabled(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want bool
	}{
		{"empty", Config{}, false},
		{"host_only", Config{SMTPHost: "smtp"}, false},
		{"blank_recipients", Config{SMTPHost: "smtp", To: " , "}, false},
		{"complete", Config{SMTPHost: "smtp", To: "a@b.c"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.Enabled(); got != tc.want {
				t.Errorf("Enabled() = %v, want %v", got, tc.want)
			}
		})
	}

	if _, err := New(Config{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestConfig_Recipients(t *testing.T) {
	got := Config{To: "a@x.io, b@x.io,,"}.Recipients()
	if len(got) != 2 || got[0] != "a@x.io" || got[1] != "b@x.io" {
		t.Errorf("unexpected recipients %v", got)
	}
}

// ---------- Notifier ----------

func TestNotifier_Cooldown(t *testing.T) {
	sender := &fakeSender{}
	n, c := newTestNotifier(sender, 15*time.Minute)
	failure := errors.New("connection refused")

	n.ReportFailure("/cam1", "stream_unavailable", failure)
	n.ReportFailure("/cam1", "stream_unavailable", failure)
	n.ReportFailure("/cam2", "capture_failed", failure)
	n.Wait()
	if got := sender.count(); got != 2 {
		t.Fatalf("expected one alert per route, got %d", got)
	}

	c.t = c.t.Add(10 * time.Minute)
	n.ReportFailure("/cam1", "stream_unavailable", failure)
	n.Wait()
	if got := sender.count(); got != 2 {
		t.Fatalf("alert inside cooldown must be suppressed, got %d", got)
	}

	c.t = c.t.Add(6 * time.Minute)
	n.ReportFailure("/cam1", "stream_unavailable", failure)
	n.Wait()
	if got := sender.count(); got != 3 {
		t.Fatalf("alert after cooldown must be sent, got %d", got)
	}
}

func TestNotifier_FailedSendRetries(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp down")}
	n, _ := newTestNotifier(sender, time.Hour)

	n.ReportFailure("/cam1", "encode_failed", nil)
	n.Wait()

	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()

	n.ReportFailure("/cam1", "encode_failed", nil)
	n.Wait()
	if got := sender.count(); got != 1 {
		t.Fatalf("a failed send must not start the cooldown, got %d sent", got)
	}
}

func TestNotifier_Message(t *testing.T) {
	sender := &fakeSender{}
	n, _ := newTestNotifier(sender, time.Minute)

	n.ReportFailure("/cam1", "capture_failed", errors.New("stream ended"))
	n.Wait()

	if sender.count() != 1 {
		t.Fatalf("expected one message, got %d", sender.count())
	}
	m := sender.sent[0]
	if subj := m.GetHeader("Subject"); len(subj) != 1 || !strings.Contains(subj[0], "/cam1") {
		t.Errorf("subject should name the route, got %v", subj)
	}
	if to := m.GetHeader("To"); len(to) != 2 {
		t.Errorf("expected two recipients, got %v", to)
	}

	var body strings.Builder
	if _, err := m.WriteTo(&body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body.String(), "stream ended") {
		t.Errorf("body should carry the error, got %q", body.String())
	}
}
