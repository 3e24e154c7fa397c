package otp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mindery/booking/libs/httpx"
	"golang.org/x/crypto/bcrypt"
)

type captureSender struct {
	codes map[string]string
	err   error
}

func (s *captureSender) Send(_ context.Context, phone, code string, _ time.Duration) error {
	if s.err != nil {
		return s.err
	}
	if s.codes == nil {
		s.codes = map[string]string{}
	}
	s.codes[phone] = code
	return nil
}

func pending(s *MemoryStore, phone string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(phone)
	return e.Entry, ok
}

func newTestManager(store CodeStore, sender Sender, limiter httpx.Limiter) *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(store, sender, limiter, logger, Config{TTL: time.Minute, MaxAttempts: 3, Cost: bcrypt.MinCost})
}

func TestSendAndVerify(t *testing.T) {
	store := NewMemoryStore()
	sender := &captureSender{}
	m := newTestManager(store, sender, nil)
	ctx := context.Background()

	if err := m.Send(ctx, "+44 7700-900123"); err != nil {
		t.Fatalf("send: %v", err)
	}
	code := sender.codes["+447700900123"]
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", code)
	}
	if entry, ok := pending(store, "+447700900123"); !ok || entry.Hash == code {
		t.Fatal("code must not be stored in clear text")
	}

	if err := m.Verify(ctx, "+447700900123", code); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := m.Verify(ctx, "+447700900123", code); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("code must be single use, got %v", err)
	}
}

func TestVerifyAttemptLimit(t *testing.T) {
	sender := &captureSender{}
	m := newTestManager(NewMemoryStore(), sender, nil)
	ctx := context.Background()
	_ = m.Send(ctx, "5551234567")
	code := sender.codes["5551234567"]
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < 2; i++ {
		if err := m.Verify(ctx, "5551234567", wrong); !errors.Is(err, ErrCodeMismatch) {
			t.Fatalf("attempt %d: expected mismatch, got %v", i, err)
		}
	}
	if err := m.Verify(ctx, "5551234567", wrong); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected too many attempts, got %v", err)
	}
	if err := m.Verify(ctx, "5551234567", code); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("code must be discarded after lockout, got %v", err)
	}
}

func TestVerifyConcurrentGuessesStayWithinLimit(t *testing.T) {
	store := NewMemoryStore()
	sender := &captureSender{}
	m := newTestManager(store, sender, nil)
	ctx := context.Background()
	_ = m.Send(ctx, "5551234567")
	code := sender.codes["5551234567"]
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	var wg sync.WaitGroup
	var mismatches atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if errors.Is(m.Verify(ctx, "5551234567", wrong), ErrCodeMismatch) {
				mismatches.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := mismatches.Load(); got != 2 {
		t.Fatalf("expected exactly MaxAttempts-1 plain mismatches, got %d", got)
	}
	if _, ok := pending(store, "5551234567"); ok {
		t.Fatal("code must be discarded once the limit is reached")
	}
}

func TestVerifyConcurrentCorrectCodeSucceedsOnce(t *testing.T) {
	sender := &captureSender{}
	m := newTestManager(NewMemoryStore(), sender, nil)
	ctx := context.Background()
	_ = m.Send(ctx, "5551234567")
	code := sender.codes["5551234567"]

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Verify(ctx, "5551234567", code) == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := ok.Load(); got != 1 {
		t.Fatalf("expected one successful verification, got %d", got)
	}
}

func TestCodeExpires(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	sender := &captureSender{}
	m := newTestManager(store, sender, nil)
	ctx := context.Background()

	_ = m.Send(ctx, "5551234567")
	now = now.Add(2 * time.Minute)
	if err := m.Verify(ctx, "5551234567", sender.codes["5551234567"]); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("expected expired code, got %v", err)
	}
}

func TestSendRateLimited(t *testing.T) {
	m := newTestManager(NewMemoryStore(), &captureSender{}, httpx.NewMemoryLimiter(1, time.Minute))
	ctx := context.Background()
	if err := m.Send(ctx, "5551234567"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := m.Send(ctx, "5551234567"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
}

func TestSendFailureDropsCode(t *testing.T) {
	store := NewMemoryStore()
	m := newTestManager(store, &captureSender{err: errors.New("gateway down")}, nil)
	ctx := context.Background()
	if err := m.Send(ctx, "5551234567"); err == nil {
		t.Fatal("expected send error")
	}
	if _, ok := pending(store, "5551234567"); ok {
		t.Fatal("expected no pending code")
	}
}

func TestNormalizePhone(t *testing.T) {
	if _, err := NormalizePhone("abc"); !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("expected ErrInvalidPhone, got %v", err)
	}
	got, err := NormalizePhone(" (555) 123-4567 ")
	if err != nil || got != "5551234567" {
		t.Fatalf("got %q %v", got, err)
	}
}
