package verification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"wander/internal/testutil"
)

type memStore struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *memStore) Save(_ context.Context, phone, code string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[phone] = code
	return nil
}

func (m *memStore) Get(_ context.Context, phone string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[phone]
	if !ok {
		return "", ErrNoCode
	}
	return c, nil
}

func (m *memStore) Consume(_ context.Context, phone string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.codes[phone]
	delete(m.codes, phone)
	return ok, nil
}

type captureSender struct {
	to, body string
	err      error
}

func (c *captureSender) Send(_ context.Context, to, body string) (SMSResult, error) {
	c.to, c.body = to, body
	if c.err != nil {
		return SMSResult{}, c.err
	}
	return SMSResult{Reference: "SM123", Status: "queued"}, nil
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in, want string
		ok       bool
	}{
		{"9876543210", "+919876543210", true},
		{" +1 (415) 555-0100 ", "+14155550100", true},
		{"+44-20-7946-0958", "+442079460958", true},
		{"12ab5678", "", false},
		{"123", "", false},
	}
	for _, tt := range tests {
		got, err := NormalizePhone(tt.in)
		if tt.ok && (err != nil || got != tt.want) {
			t.Fatalf("NormalizePhone(%q) = %q, %v", tt.in, got, err)
		}
		if !tt.ok && !errors.Is(err, ErrBadPhone) {
			t.Fatalf("NormalizePhone(%q) expected bad phone, got %v", tt.in, err)
		}
	}
}

func TestSendAndVerifyCode(t *testing.T) {
	store := &memStore{codes: map[string]string{}}
	sender := &captureSender{}
	svc := NewService(store, sender, testutil.QuietLogger())
	ctx := context.Background()

	res, err := svc.SendCode(ctx, "9876543210")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Delivered || res.Reference != "SM123" || sender.to != "+919876543210" {
		t.Fatalf("unexpected send result %+v to %s", res, sender.to)
	}
	code := store.codes["+919876543210"]
	if len(code) != 6 || code[0] == '0' || !strings.Contains(sender.body, code) {
		t.Fatalf("unexpected code %q in %q", code, sender.body)
	}

	if err := svc.VerifyCode(ctx, "9876543210", "000000"); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := svc.VerifyCode(ctx, "+919876543210", code); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := svc.VerifyCode(ctx, "+919876543210", code); !errors.Is(err, ErrNoCode) {
		t.Fatalf("expected the code to be single use, got %v", err)
	}
}

func TestSendCodeSwallowsSMSFailure(t *testing.T) {
	store := &memStore{codes: map[string]string{}}
	svc := NewService(store, &captureSender{err: errors.New("twilio down")}, testutil.QuietLogger())

	res, err := svc.SendCode(context.Background(), "+14155550100")
	if err != nil {
		t.Fatalf("send should not fail on sms errors: %v", err)
	}
	if res.Delivered || store.codes["+14155550100"] == "" {
		t.Fatalf("expected undelivered result with a stored code, got %+v", res)
	}
}
