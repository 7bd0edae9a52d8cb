package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	memo        []byte
	submittedAt time.Time
}

// MemoryBackend is an in-process ledger for development and tests. Latency and
// Offline simulate a slow or unreachable node.
type MemoryBackend struct {
	mu           sync.RWMutex
	entries      map[string]memoryEntry
	confirmAfter time.Duration
	latency      time.Duration
	offline      bool
	reject       bool
	now          func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryBackend) Name() string { return "memory" }

// SetConfirmAfter delays confirmation of new transactions.
func (m *MemoryBackend) SetConfirmAfter(d time.Duration) {
	m.mu.Lock()
	m.confirmAfter = d
	m.mu.Unlock()
}

func (m *MemoryBackend) SetLatency(d time.Duration) {
	m.mu.Lock()
	m.latency = d
	m.mu.Unlock()
}

func (m *MemoryBackend) SetOffline(offline bool) {
	m.mu.Lock()
	m.offline = offline
	m.mu.Unlock()
}

func (m *MemoryBackend) SetRejecting(reject bool) {
	m.mu.Lock()
	m.reject = reject
	m.mu.Unlock()
}

// Len reports how many transactions the ledger holds.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Put stores a memo under a caller-chosen reference.
func (m *MemoryBackend) Put(txRef string, memo []byte) {
	m.mu.Lock()
	m.entries[txRef] = memoryEntry{memo: append([]byte(nil), memo...), submittedAt: time.Time{}}
	m.mu.Unlock()
}

func (m *MemoryBackend) Submit(ctx context.Context, memo []byte) (string, error) {
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reject {
		return "", fmt.Errorf("%w: memory ledger rejecting writes", ErrRejected)
	}
	txRef := "mem-" + uuid.NewString()
	m.entries[txRef] = memoryEntry{memo: append([]byte(nil), memo...), submittedAt: m.now()}
	return txRef, nil
}

func (m *MemoryBackend) Status(ctx context.Context, txRef string) (TxStatus, error) {
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[txRef]
	if !ok {
		return StatusFailed, nil
	}
	if m.now().Sub(entry.submittedAt) < m.confirmAfter {
		return StatusPending, nil
	}
	return StatusConfirmed, nil
}

func (m *MemoryBackend) Fetch(ctx context.Context, txRef string) ([]byte, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[txRef]
	if !ok {
		return nil, ErrNotAnchored
	}
	return append([]byte(nil), entry.memo...), nil
}

func (m *MemoryBackend) wait(ctx context.Context) error {
	m.mu.RLock()
	latency, offline := m.latency, m.offline
	m.mu.RUnlock()

	if offline {
		return fmt.Errorf("%w: memory ledger offline", ErrUnreachable)
	}
	if latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
