package dropify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/vovakirdan/dropify-sdk/dropify-sdk-go/dropify/model"
	"github.com/vovakirdan/dropify-sdk/dropify-sdk-go/dropify/store"
)

// ReconcilerOption customises a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithDedup makes NEW_DROP for an id already in the list a no-op.
func WithDedup() ReconcilerOption {
	return func(r *Reconciler) { r.dedup = true }
}

// WithReconcilerLogger sets the logger used for write-through failures.
func WithReconcilerLogger(l Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithOnChange registers a callback that receives a copy of the list after
// every mutation.
func WithOnChange(fn func(model.Snapshot)) ReconcilerOption {
	return func(r *Reconciler) { r.onChange = fn }
}

// Reconciler owns the in-memory drop list of one session and writes every
// change through to the store. NEW_DROP appends in arrival order and
// DELETE_DROP removes by id, so live events and a late snapshot never
// corrupt the list.
type Reconciler struct {
	code     string
	store    store.Store
	logger   Logger
	dedup    bool
	onChange func(model.Snapshot)

	mu     sync.Mutex
	drops  model.Snapshot
	frozen bool
}

// NewReconciler returns an empty reconciler for code. st may be nil.
func NewReconciler(code string, st store.Store, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		code:   code,
		store:  st,
		logger: noopLogger{},
		drops:  model.Snapshot{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ApplySnapshot replaces the whole list and persists it.
func (r *Reconciler) ApplySnapshot(ctx context.Context, drops model.Snapshot) {
	r.replace(ctx, drops, true)
}

// ApplySnapshotJSON is ApplySnapshot for an undecoded server body. Anything
// that is not a JSON array of drops becomes an empty list.
func (r *Reconciler) ApplySnapshotJSON(ctx context.Context, raw []byte) {
	var drops model.Snapshot
	if err := json.Unmarshal(raw, &drops); err != nil {
		r.logger.Warn("snapshot is not a drop list, using empty list", map[string]any{
			"session_code": r.code,
			"error":        err.Error(),
		})
		drops = nil
	}
	r.ApplySnapshot(ctx, drops)
}

// Restore replaces the list with one read from the store without writing it
// back, so an absent cache stays absent.
func (r *Reconciler) Restore(drops model.Snapshot) {
	r.replace(context.Background(), drops, false)
}

// ApplyEvent folds one channel event into the list. It reports whether the
// list changed. Unknown and malformed events are ignored.
func (r *Reconciler) ApplyEvent(ctx context.Context, ev Event) bool {
	r.mu.Lock()
	if r.frozen {
		r.mu.Unlock()
		return false
	}

	switch ev := ev.(type) {
	case NewDropEvent:
		if r.dedup && r.drops.IndexOf(ev.Drop.ID) >= 0 {
			r.mu.Unlock()
			return false
		}
		next := make(model.Snapshot, len(r.drops), len(r.drops)+1)
		copy(next, r.drops)
		r.drops = append(next, ev.Drop)
	case DeleteDropEvent:
		i := r.drops.IndexOf(ev.ID)
		if i < 0 {
			r.mu.Unlock()
			return false
		}
		next := make(model.Snapshot, 0, len(r.drops)-1)
		next = append(next, r.drops[:i]...)
		r.drops = append(next, r.drops[i+1:]...)
	default:
		r.mu.Unlock()
		return false
	}

	snap := r.drops.Clone()
	r.persist(ctx, snap)
	r.mu.Unlock()

	r.notify(snap)
	return true
}

// Drops returns a copy of the current list.
func (r *Reconciler) Drops() model.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drops.Clone()
}

// Len returns the number of drops.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.drops)
}

// Freeze rejects every later mutation. Used on session teardown.
func (r *Reconciler) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Reconciler) replace(ctx context.Context, drops model.Snapshot, persist bool) {
	snap := drops.Clone()

	r.mu.Lock()
	if r.frozen {
		r.mu.Unlock()
		return
	}
	r.drops = snap
	out := snap.Clone()
	if persist {
		r.persist(ctx, out)
	}
	r.mu.Unlock()

	r.notify(out)
}

// persist runs under mu so writes reach the store in mutation order.
// Failures leave the in-memory list authoritative.
func (r *Reconciler) persist(ctx context.Context, snap model.Snapshot) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(ctx, r.code, snap); err != nil {
		r.logger.Warn("cache write failed", map[string]any{
			"session_code": r.code,
			"error":        WrapError(ErrorStorage, "save snapshot", err).Error(),
		})
	}
}

func (r *Reconciler) notify(snap model.Snapshot) {
	if r.onChange != nil {
		r.onChange(snap)
	}
}
