package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"certproof/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	sent  []Message
	err   error
	delay time.Duration
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Send(ctx context.Context, msg Message) error {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func TestDispatcherDeliversInBackground(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, time.Second)

	d.Dispatch(Message{To: []string{"a@example.com"}, Subject: "one"})
	d.Dispatch(Message{To: []string{"b@example.com"}, Subject: "two"})
	d.Wait()

	assert.Len(t, rec.sent, 2)
}

func TestDispatcherSwallowsFailuresAndTimeouts(t *testing.T) {
	failing := &recorder{err: errors.New("mailbox full")}
	d := NewDispatcher(failing, time.Second)
	d.Dispatch(Message{To: []string{"a@example.com"}})
	d.Wait()
	assert.Empty(t, failing.sent)

	slow := &recorder{delay: time.Second}
	d = NewDispatcher(slow, 20*time.Millisecond)
	start := time.Now()
	d.Dispatch(Message{To: []string{"a@example.com"}})
	d.Wait()
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Empty(t, slow.sent)
}

func TestSMTPNotifier(t *testing.T) {
	n := NewSMTPNotifier("smtp.example.com", "587", "noreply@example.com", "pw", "CertProof")

	var gotAddr string
	var gotMsg []byte
	n.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotMsg = msg
		assert.Equal(t, "noreply@example.com", from)
		assert.Equal(t, []string{"owner@example.com"}, to)
		return nil
	}

	err := n.Send(context.Background(), Message{To: []string{"owner@example.com"}, Subject: "Hello", HTML: "<p>hi</p>"})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Contains(t, string(gotMsg), "From: CertProof <noreply@example.com>")
	assert.Contains(t, string(gotMsg), "Subject: Hello\r\n\r\n<p>hi</p>")

	block := make(chan struct{})
	defer close(block)
	n.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		<-block
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = n.Send(ctx, Message{To: []string{"owner@example.com"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTemplates(t *testing.T) {
	tpl := Templates{AppName: "CertProof", BaseURL: "https://certs.example.com/"}
	info := RequestInfo{
		RequestID:      "req-1",
		PRN:            "PRN2025000123",
		CourseName:     "Computer Engineering",
		OwnerName:      "Asha Rao",
		OwnerEmail:     "asha@example.com",
		RequesterName:  "<script>alert(1)</script>",
		RequesterEmail: "auditor@example.com",
		Organization:   "Acme HR",
	}

	owner := tpl.OwnerRequest(info, "tok-approve", "tok-reject")
	assert.Equal(t, []string{"asha@example.com"}, owner.To)
	assert.Equal(t, KindRequestCreated, owner.Kind)
	assert.Equal(t, "req-1", owner.RequestID)
	assert.Contains(t, owner.HTML, "https://certs.example.com/verification/respond?token=tok-approve")
	assert.Contains(t, owner.HTML, "https://certs.example.com/verification/respond?token=tok-reject")
	assert.NotContains(t, owner.HTML, "<script>")
	assert.Contains(t, owner.HTML, "Acme HR")

	approved := tpl.RequesterApproved(info)
	assert.Equal(t, []string{"auditor@example.com"}, approved.To)
	assert.Equal(t, KindRequestApproved, approved.Kind)
	assert.Contains(t, approved.HTML, "/verification/status/req-1?email=auditor%40example.com")

	rejected := tpl.RequesterRejected(info)
	assert.Equal(t, KindRequestRejected, rejected.Kind)
	assert.True(t, strings.HasPrefix(rejected.Subject, "Verification declined"))

	issued := tpl.CertificateIssued("Asha Rao", "asha@example.com", "Computer Engineering", "PRN2025000123", "MIT-2025-000042")
	assert.Equal(t, []string{"asha@example.com"}, issued.To)
	assert.Equal(t, KindCertificateIssued, issued.Kind)
	assert.Contains(t, issued.HTML, "MIT-2025-000042")
	assert.Empty(t, issued.RequestID)
}

func TestNewSelectsDriver(t *testing.T) {
	n, err := New(&config.Config{NotifyDriver: "log"})
	require.NoError(t, err)
	assert.Equal(t, "log", n.Name())

	n, err = New(&config.Config{NotifyDriver: "smtp", SMTPHost: "localhost", SMTPPort: "25"})
	require.NoError(t, err)
	assert.Equal(t, "smtp", n.Name())

	n, err = New(&config.Config{NotifyDriver: "sendgrid", SendgridAPIKey: "SG.key"})
	require.NoError(t, err)
	assert.Equal(t, "sendgrid", n.Name())

	_, err = New(&config.Config{NotifyDriver: "sendgrid"})
	assert.Error(t, err)

	_, err = New(&config.Config{NotifyDriver: "pigeon"})
	assert.Error(t, err)
}
