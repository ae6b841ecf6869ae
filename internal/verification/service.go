package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/opsconsole/opsconsole/internal/telemetry"
)

// Method is the channel a code is delivered over
type Method string

const (
	MethodEmail Method = "email"
	MethodSMS   Method = "sms"
)

// DefaultTTL applies when the service is configured without a code lifetime
const DefaultTTL = 10 * time.Minute

var (
	// ErrInvalidMethod is returned for delivery methods other than email and sms
	ErrInvalidMethod = errors.New("invalid method")

	// ErrInvalidDestination is returned for an empty destination
	ErrInvalidDestination = errors.New("destination is required")
)

// ParseMethod validates a delivery method
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodEmail, MethodSMS:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMethod, s)
	}
}

// Sender delivers a code to a destination
type Sender interface {
	Send(ctx context.Context, method Method, destination, code string) error
}

// LogSender writes code issuance to the log instead of delivering it. It stands in for the
// mail and SMS gateways. The code itself is only logged, at debug level, when RevealCodes is
// set; otherwise the entry records that a code was issued but not its value.
type LogSender struct {
	Logger      *slog.Logger
	RevealCodes bool
}

// Send implements Sender
func (s LogSender) Send(ctx context.Context, method Method, destination, code string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "verification code issued", "method", method, "destination", destination)
	if s.RevealCodes {
		logger.DebugContext(ctx, "verification code value", "destination", destination, "code", code)
	}
	return nil
}

// Service issues and checks verification codes
type Service struct {
	store  CodeStore
	sender Sender
	ttl    time.Duration
}

// NewService creates a Service. A non-positive ttl selects DefaultTTL.
func NewService(store CodeStore, sender Sender, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: store, sender: sender, ttl: ttl}
}

// generateCode returns a uniformly random 6-digit code
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+100000, 10), nil
}

// Send issues a new code for destination, replacing any outstanding one, and delivers it
func (s *Service) Send(ctx context.Context, method Method, destination string) error {
	if method != MethodEmail && method != MethodSMS {
		return fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return ErrInvalidDestination
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}
	if err := s.store.Put(ctx, destination, code, s.ttl); err != nil {
		return err
	}
	if err := s.sender.Send(ctx, method, destination, code); err != nil {
		return fmt.Errorf("failed to deliver code: %w", err)
	}

	telemetry.VerificationCodesTotal.WithLabelValues("sent").Inc()
	return nil
}

// Verify consumes the code for destination. It returns false for a wrong, expired or already
// used code.
func (s *Service) Verify(ctx context.Context, destination, code string) (bool, error) {
	destination = strings.TrimSpace(destination)
	code = strings.TrimSpace(code)
	if destination == "" || code == "" {
		telemetry.VerificationCodesTotal.WithLabelValues("rejected").Inc()
		return false, nil
	}

	ok, err := s.store.Consume(ctx, destination, code)
	if err != nil {
		return false, err
	}
	if ok {
		telemetry.VerificationCodesTotal.WithLabelValues("verified").Inc()
	} else {
		telemetry.VerificationCodesTotal.WithLabelValues("rejected").Inc()
	}
	return ok, nil
}
