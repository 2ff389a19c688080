// README: Phone verification sends a one-time code by SMS and checks it once.
package verification

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"wander/internal/apperr"
)

var (
	ErrNoCode       = apperr.New(apperr.KindExpired, "verification code expired or not requested")
	ErrCodeMismatch = apperr.New(apperr.KindMismatch, "invalid verification code")
	ErrBadPhone     = apperr.New(apperr.KindValidation, "invalid phone number")
)

const (
	codeTTL       = 10 * time.Minute
	defaultPrefix = "+91"
)

type Store interface {
	Save(ctx context.Context, phone, code string, ttl time.Duration) error
	Get(ctx context.Context, phone string) (string, error)
	Consume(ctx context.Context, phone string) (bool, error)
}

// SMSResult is what the SMS provider reports for one message.
type SMSResult struct {
	Reference string
	Status    string
}

type Sender interface {
	Send(ctx context.Context, to, body string) (SMSResult, error)
}

type Service struct {
	store  Store
	sender Sender
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewService(store Store, sender Sender, log logrus.FieldLogger) *Service {
	return &Service{store: store, sender: sender, log: log, now: time.Now}
}

type SendResult struct {
	Phone     string    `json:"phone"`
	Delivered bool      `json:"delivered"`
	Reference string    `json:"reference,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NormalizePhone trims separators and adds the default country prefix.
func NormalizePhone(raw string) (string, error) {
	s := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	if !strings.HasPrefix(s, "+") {
		s = defaultPrefix + s
	}
	digits := s[1:]
	if len(digits) < 8 || len(digits) > 15 {
		return "", ErrBadPhone
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", ErrBadPhone
		}
	}
	return s, nil
}

// SendCode issues a fresh six digit code. SMS failures are logged and
// reported as undelivered; the code stays valid so a resend can follow.
func (s *Service) SendCode(ctx context.Context, phone string) (*SendResult, error) {
	to, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	code, err := newCode()
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, to, code, codeTTL); err != nil {
		return nil, err
	}
	out := &SendResult{Phone: to, ExpiresAt: s.now().UTC().Add(codeTTL)}
	body := fmt.Sprintf("Your Wander verification code is: %s. Valid for %d minutes.", code, int(codeTTL.Minutes()))
	res, err := s.sender.Send(ctx, to, body)
	if err != nil {
		s.log.WithError(err).WithField("phone", mask(to)).Warn("sms delivery failed")
		return out, nil
	}
	out.Delivered, out.Reference = true, res.Reference
	return out, nil
}

// VerifyCode checks the code. A correct code can be used once.
func (s *Service) VerifyCode(ctx context.Context, phone, code string) error {
	to, err := NormalizePhone(phone)
	if err != nil {
		return err
	}
	want, err := s.store.Get(ctx, to)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(strings.TrimSpace(code))) != 1 {
		return ErrCodeMismatch
	}
	won, err := s.store.Consume(ctx, to)
	if err != nil {
		return err
	}
	if !won {
		return ErrNoCode
	}
	return nil
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func mask(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
