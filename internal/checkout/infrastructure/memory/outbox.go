package memory

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/dmehra2102/canteen-checkout/pkg/outbox"
)

type outboxWriter struct{ t *tx }

func (w outboxWriter) Enqueue(_ context.Context, ev outbox.Event) error {
	s := w.t.s
	w.t.onCommit = append(w.t.onCommit, func() {
		s.outboxSeq++
		ev.ID = s.outboxSeq
		ev.Status = outbox.StatusPending
		ev.CreatedAt = s.now().UTC()
		ev.Headers = maps.Clone(ev.Headers)
		s.events = append(s.events, ev)
	})
	return nil
}

var _ outbox.Store = (*Store)(nil)

// Events returns a copy of every committed outbox event in insertion order.
func (s *Store) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

func (s *Store) LockBatch(_ context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var batch []outbox.Event
	for i := range s.events {
		if len(batch) == batchSize {
			break
		}
		ev := &s.events[i]
		claimable := ev.Status == outbox.StatusPending ||
			ev.Retryable() ||
			(ev.Status == outbox.StatusInProgress && now.After(s.leases[ev.ID]))
		if !claimable {
			continue
		}
		ev.Status = outbox.StatusInProgress
		ev.RelayID = relayID
		s.leases[ev.ID] = now.Add(lease)
		batch = append(batch, *ev)
	}
	return batch, nil
}

func (s *Store) MarkSent(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if slices.Contains(ids, s.events[i].ID) {
			s.events[i].Status = outbox.StatusSent
			delete(s.leases, s.events[i].ID)
		}
	}
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].Status = outbox.StatusFailed
			s.events[i].RetryCount++
			s.events[i].LastError = &errMsg
			delete(s.leases, id)
		}
	}
	return nil
}

func (s *Store) ExtendLease(_ context.Context, relayID string, ids []int64, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	until := s.now().Add(lease)
	for _, ev := range s.events {
		if ev.RelayID == relayID && ev.Status == outbox.StatusInProgress && slices.Contains(ids, ev.ID) {
			s.leases[ev.ID] = until
		}
	}
	return nil
}
