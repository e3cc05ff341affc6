package signaling

import (
	"context"
	"sort"
	"sync"

	"github.com/1ureka/roj1signal/internal/clock"
)

// batchWindow is the current open batch: a pending set of identifiers and
// the single shared completion every caller in the window waits on.
type batchWindow struct {
	ids  map[string]struct{}
	done chan struct{}
	err  error
}

func newBatchWindow() *batchWindow {
	return &batchWindow{ids: make(map[string]struct{}), done: make(chan struct{})}
}

func (w *batchWindow) wait(ctx context.Context) error {
	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// membershipBatcher implements the batched-operation pattern shared by
// joinGroup, leaveGroup, and registerPresence: the first call since the last
// flush opens a window and schedules its flush on the next tick; every call
// inside that window shares the same *batchWindow. A fresh window opens as
// soon as the previous window's flush starts: calls made while that flush is
// still in flight go into the new window and do not wait for the old one.
type membershipBatcher struct {
	clk   clock.Clock
	flush func(ids []string) error

	mu      sync.Mutex
	current *batchWindow
}

func newMembershipBatcher(clk clock.Clock, flush func([]string) error) *membershipBatcher {
	return &membershipBatcher{clk: clk, flush: flush}
}

// Add registers ids into the open window (opening one if needed) and blocks
// until that window's flush resolves.
func (b *membershipBatcher) Add(ctx context.Context, ids []string) error {
	b.mu.Lock()
	w := b.current
	isNew := w == nil
	if isNew {
		w = newBatchWindow()
		b.current = w
	}
	for _, id := range ids {
		w.ids[id] = struct{}{}
	}
	b.mu.Unlock()

	if isNew {
		go b.runFlush(w)
	}

	return w.wait(ctx)
}

func (b *membershipBatcher) runFlush(w *batchWindow) {
	<-b.clk.After(0)

	b.mu.Lock()
	if b.current == w {
		b.current = nil
	}
	ids := make([]string, 0, len(w.ids))
	for id := range w.ids {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	sort.Strings(ids)
	w.err = b.flush(ids)
	close(w.done)
}

// presenceBatcher layers registerPresence's "already registered" dedup bit
// on top of a membershipBatcher: an endpoint already successfully
// registered is silently dropped from later calls until it is explicitly
// unregistered.
type presenceBatcher struct {
	inner *membershipBatcher

	mu         sync.Mutex
	registered map[string]struct{}
}

func newPresenceBatcher(clk clock.Clock, flush func([]string) error) *presenceBatcher {
	pb := &presenceBatcher{registered: make(map[string]struct{})}
	pb.inner = newMembershipBatcher(clk, func(ids []string) error {
		if err := flush(ids); err != nil {
			return err
		}
		pb.mu.Lock()
		for _, id := range ids {
			pb.registered[id] = struct{}{}
		}
		pb.mu.Unlock()
		return nil
	})
	return pb
}

func (pb *presenceBatcher) Add(ctx context.Context, ids []string) error {
	pb.mu.Lock()
	fresh := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := pb.registered[id]; !ok {
			fresh = append(fresh, id)
		}
	}
	pb.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	return pb.inner.Add(ctx, fresh)
}

// Forget clears an endpoint's registered bit, e.g. after it goes offline.
func (pb *presenceBatcher) Forget(endpointID string) {
	pb.mu.Lock()
	delete(pb.registered, endpointID)
	pb.mu.Unlock()
}
