package service

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ScanCoordinator gives each producer at most one live scan.
// Starting a scan cancels the previous one for the same producer, so a stale
// scan can never overwrite the results of a newer one.
type ScanCoordinator struct {
	mu       sync.Mutex
	seq      uint64
	inflight map[string]*ScanTicket
}

// ScanTicket tracks one scan started through a ScanCoordinator
type ScanTicket struct {
	c      *ScanCoordinator
	key    string
	id     uint64
	cancel context.CancelCauseFunc
	done   chan struct{}
	err    error
	next   *ScanTicket
}

// NewScanCoordinator creates an empty coordinator
func NewScanCoordinator() *ScanCoordinator {
	return &ScanCoordinator{inflight: make(map[string]*ScanTicket)}
}

// Begin starts a scan for key. The returned context is cancelled with ErrScanSuperseded
// when a newer scan begins. Finish must be called on the ticket when the scan ends.
func (c *ScanCoordinator) Begin(parent context.Context, key string) (context.Context, *ScanTicket) {
	key = strings.ToLower(key)
	ctx, cancel := context.WithCancelCause(parent)

	c.mu.Lock()
	c.seq++
	t := &ScanTicket{c: c, key: key, id: c.seq, cancel: cancel, done: make(chan struct{})}
	if prev, ok := c.inflight[key]; ok {
		prev.next = t
		prev.cancel(ErrScanSuperseded)
	}
	c.inflight[key] = t
	c.mu.Unlock()

	return ctx, t
}

// Finish records the outcome of the scan. A scan that was replaced always
// finishes with ErrScanSuperseded.
func (t *ScanTicket) Finish(err error) {
	t.c.mu.Lock()
	if t.next != nil {
		err = ErrScanSuperseded
	}
	t.err = err
	if cur, ok := t.c.inflight[t.key]; ok && cur.id == t.id {
		delete(t.c.inflight, t.key)
	}
	t.c.mu.Unlock()

	close(t.done)
	t.cancel(nil)
}

// Await blocks until the scan that replaced t has finished, following further
// replacements, and returns its error. It returns nil at once if t was never replaced.
func (t *ScanTicket) Await(ctx context.Context) error {
	cur := t
	for {
		cur.c.mu.Lock()
		next := cur.next
		cur.c.mu.Unlock()
		if next == nil {
			return nil
		}

		select {
		case <-next.done:
		case <-ctx.Done():
			return ctx.Err()
		}

		cur.c.mu.Lock()
		err := next.err
		cur.c.mu.Unlock()
		if !errors.Is(err, ErrScanSuperseded) {
			return err
		}
		cur = next
	}
}

// InFlight reports the number of live scans
func (c *ScanCoordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}
