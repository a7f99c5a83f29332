package kaupa

import (
	"context"
	"fmt"
	"time"

	"github.com/kaupa/barter-engine/internal/asset"
	"github.com/kaupa/barter-engine/internal/model"
)

// Receipt summarizes a committed invocation.
type Receipt struct {
	EngineID string        `json:"engine_id"`
	Events   []model.Event `json:"events"`
	Duration time.Duration `json:"duration"`
}

// Tx runs the operations of one invocation. It is only valid inside the
// Invoke callback that received it.
type Tx struct {
	e   *Engine
	ctx context.Context

	snapshot *state
	tracked  map[*asset.Bucket]*asset.Bucket
	created  map[*asset.Bucket]struct{}
	events   []model.Event

	err    error
	closed bool
}

// Invoke runs fn with the engine locked. If fn or any operation fails, or a
// flash loan issued during the call is still outstanding when fn returns,
// the invocation aborts: engine state is restored, containers passed in are
// restored to their contents when they were passed, and containers handed
// out are emptied. Engine query methods must not be called from fn.
func (e *Engine) Invoke(ctx context.Context, fn func(tx *Tx) error) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	tx := &Tx{
		e:        e,
		ctx:      ctx,
		snapshot: e.st.clone(),
		tracked:  make(map[*asset.Bucket]*asset.Bucket),
		created:  make(map[*asset.Bucket]struct{}),
	}

	err := fn(tx)
	if err == nil && tx.err != nil {
		err = tx.err
	}
	if err == nil && len(e.st.debts) > 0 {
		err = fmt.Errorf("%w: %d outstanding", ErrUnrepaidFlashLoan, len(e.st.debts))
	}
	tx.closed = true

	if err != nil {
		tx.rollback()
		e.logger.Info("invocation aborted", "err", err, "duration", time.Since(start))
		return nil, err
	}

	e.logger.Debug("invocation committed", "events", len(tx.events), "duration", time.Since(start))
	return &Receipt{EngineID: e.id, Events: tx.events, Duration: time.Since(start)}, nil
}

func (tx *Tx) rollback() {
	tx.e.st = tx.snapshot
	for b := range tx.created {
		b.TakeAll()
	}
	for b, snap := range tx.tracked {
		b.Restore(snap)
	}
	tx.events = nil
}

// begin guards every operation and records the caller's containers.
func (tx *Tx) begin(groups ...[]*asset.Bucket) error {
	if tx.closed {
		return ErrInvocationClosed
	}
	if tx.err != nil {
		return fmt.Errorf("%w: %w", ErrAborted, tx.err)
	}
	if err := tx.ctx.Err(); err != nil {
		return tx.fail(err)
	}
	for _, group := range groups {
		for _, b := range group {
			tx.track(b)
		}
	}
	return nil
}

func (tx *Tx) track(b *asset.Bucket) {
	if b == nil {
		return
	}
	if _, ok := tx.created[b]; ok {
		return
	}
	if _, ok := tx.tracked[b]; ok {
		return
	}
	tx.tracked[b] = b.Clone()
}

// fail poisons the invocation.
func (tx *Tx) fail(err error) error {
	if tx.err == nil {
		tx.err = err
	}
	return err
}

// output drops empty containers and remembers the ones the engine created.
func (tx *Tx) output(buckets ...*asset.Bucket) []*asset.Bucket {
	out := make([]*asset.Bucket, 0, len(buckets))
	for _, b := range buckets {
		if b == nil || b.IsEmpty() {
			continue
		}
		if _, ok := tx.tracked[b]; !ok {
			tx.created[b] = struct{}{}
		}
		out = append(out, b)
	}
	return out
}

func (tx *Tx) emit(ev model.Event) {
	ev.EngineID = tx.e.id
	ev.Timestamp = tx.e.now()
	tx.events = append(tx.events, ev)
}
