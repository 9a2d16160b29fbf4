package password

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type recordingObserver struct {
	mu  sync.Mutex
	ops []string
}

func (o *recordingObserver) ObserveHashLatency(op string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops = append(o.ops, op)
}

func newTestHasher(obs LatencyObserver) *Hasher {
	return NewHasher(Config{Cost: bcrypt.MinCost, Workers: 2}, obs)
}

func TestHashVerify_RoundTrip(t *testing.T) {
	h := newTestHasher(nil)
	ctx := context.Background()

	digest, err := h.Hash(ctx, "secret123")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if digest == "secret123" {
		t.Fatal("digest must not equal plaintext")
	}
	if !strings.HasPrefix(digest, "$2a$") {
		t.Errorf("digest = %q, want bcrypt format", digest)
	}
	if !h.Verify(ctx, "secret123", digest) {
		t.Error("Verify() should succeed for the original password")
	}
	if h.Verify(ctx, "secret124", digest) {
		t.Error("Verify() should fail for a different password")
	}
}

func TestHash_IsSalted(t *testing.T) {
	h := newTestHasher(nil)
	ctx := context.Background()

	a, _ := h.Hash(ctx, "same-password")
	b, _ := h.Hash(ctx, "same-password")
	if a == b {
		t.Error("two hashes of the same password should differ (salt)")
	}
}

func TestVerify_MalformedDigestReturnsFalse(t *testing.T) {
	h := newTestHasher(nil)
	for _, d := range []string{"", "not-a-bcrypt-hash", "$2a$04$short"} {
		if h.Verify(context.Background(), "secret123", d) {
			t.Errorf("Verify() with digest %q should be false", d)
		}
	}
}

func TestNewHasher_ClampsCost(t *testing.T) {
	if got := NewHasher(Config{}, nil).Cost(); got != DefaultCost {
		t.Errorf("default cost = %d, want %d", got, DefaultCost)
	}
	if got := NewHasher(Config{Cost: 1}, nil).Cost(); got != bcrypt.MinCost {
		t.Errorf("cost = %d, want %d", got, bcrypt.MinCost)
	}
	if got := NewHasher(Config{Cost: 99}, nil).Cost(); got != bcrypt.MaxCost {
		t.Errorf("cost = %d, want %d", got, bcrypt.MaxCost)
	}
}

func TestHash_RespectsContextWhilePoolIsFull(t *testing.T) {
	h := NewHasher(Config{Cost: bcrypt.MinCost, Workers: 1}, nil)
	// ワーカー枠を占有する
	h.sem <- struct{}{}
	defer h.release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.Hash(ctx, "secret123")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Hash() error = %v, want context.DeadlineExceeded", err)
	}
	if h.Verify(ctx, "secret123", "$2a$04$abc") {
		t.Error("Verify() should be false when the pool cannot be acquired")
	}
}

func TestHash_ConcurrentCallsShareBoundedPool(t *testing.T) {
	h := newTestHasher(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.Hash(ctx, "concurrent"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Hash() error = %v", err)
	}
	if len(h.sem) != 0 {
		t.Errorf("pool should be drained, %d slots still held", len(h.sem))
	}
}

func TestHasher_ReportsLatency(t *testing.T) {
	obs := &recordingObserver{}
	h := newTestHasher(obs)
	ctx := context.Background()

	d, _ := h.Hash(ctx, "secret123")
	h.Verify(ctx, "secret123", d)

	if len(obs.ops) != 2 || obs.ops[0] != "hash" || obs.ops[1] != "verify" {
		t.Errorf("observed ops = %v, want [hash verify]", obs.ops)
	}
}
