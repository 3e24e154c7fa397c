// Package otp issues and verifies short-lived numeric codes for patient
// phone numbers. Codes are stored only as bcrypt hashes.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/mindery/booking/libs/httpx"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidPhone    = errors.New("invalid phone number")
	ErrCodeNotFound    = errors.New("no pending code for this phone")
	ErrCodeMismatch    = errors.New("invalid code")
	ErrTooManyAttempts = errors.New("too many attempts")
	ErrRateLimited     = errors.New("too many codes requested")
)

const (
	DefaultTTL         = 10 * time.Minute
	DefaultMaxAttempts = 5
	codeDigits         = 6
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// NormalizePhone strips spaces and dashes and validates the result.
func NormalizePhone(raw string) (string, error) {
	phone := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	if !phonePattern.MatchString(phone) {
		return "", ErrInvalidPhone
	}
	return phone, nil
}

// Sender delivers a code to the phone number.
type Sender interface {
	Send(ctx context.Context, phone, code string, ttl time.Duration) error
}

// LogSender only logs; used until an SMS or WhatsApp gateway is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, phone, code string, ttl time.Duration) error {
	s.Logger.Info("otp issued", "phone", phone, "expires_in", ttl.String())
	s.Logger.Debug("otp code", "phone", phone, "code", code)
	return nil
}

type Config struct {
	TTL         time.Duration
	MaxAttempts int
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int
}

type Manager struct {
	store    CodeStore
	sender   Sender
	limiter  httpx.Limiter
	logger   *slog.Logger
	ttl      time.Duration
	attempts int
	cost     int
	generate func() (string, error)
}

// NewManager wires the code store and sender. limiter caps how often codes
// may be requested per phone and may be nil.
func NewManager(store CodeStore, sender Sender, limiter httpx.Limiter, logger *slog.Logger, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Cost == 0 {
		cfg.Cost = bcrypt.DefaultCost
	}
	return &Manager{
		store:    store,
		sender:   sender,
		limiter:  limiter,
		logger:   logger,
		ttl:      cfg.TTL,
		attempts: cfg.MaxAttempts,
		cost:     cfg.Cost,
		generate: generateCode,
	}
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Send issues a fresh code, replacing any pending one.
func (m *Manager) Send(ctx context.Context, rawPhone string) error {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return err
	}
	if m.limiter != nil {
		ok, err := m.limiter.Allow(ctx, "otp:"+phone)
		if err != nil {
			return fmt.Errorf("otp rate limit: %w", err)
		}
		if !ok {
			return ErrRateLimited
		}
	}

	code, err := m.generate()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), m.cost)
	if err != nil {
		return fmt.Errorf("hash code: %w", err)
	}
	if err := m.store.Save(ctx, phone, string(hash), m.ttl); err != nil {
		return fmt.Errorf("store code: %w", err)
	}
	if err := m.sender.Send(ctx, phone, code, m.ttl); err != nil {
		m.discard(ctx, phone)
		return fmt.Errorf("send code: %w", err)
	}
	return nil
}

// Verify consumes the pending code on success. Every call counts as an
// attempt before the code is compared, so concurrent guesses cannot get past
// MaxAttempts, and only one caller can consume a correct code.
func (m *Manager) Verify(ctx context.Context, rawPhone, code string) error {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return err
	}
	entry, err := m.store.Claim(ctx, phone)
	if err != nil {
		return err
	}
	if entry.Attempts > m.attempts {
		m.discard(ctx, phone)
		return ErrTooManyAttempts
	}

	if bcrypt.CompareHashAndPassword([]byte(entry.Hash), []byte(strings.TrimSpace(code))) != nil {
		if entry.Attempts >= m.attempts {
			m.discard(ctx, phone)
			return ErrTooManyAttempts
		}
		return ErrCodeMismatch
	}

	consumed, err := m.store.Consume(ctx, phone, entry.Hash)
	if err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	if !consumed {
		return ErrCodeNotFound
	}
	return nil
}

func (m *Manager) discard(ctx context.Context, phone string) {
	if err := m.store.Delete(ctx, phone); err != nil {
		m.logger.Warn("otp delete failed", "err", err)
	}
}

func generateCode() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
