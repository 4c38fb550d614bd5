// Package indexer is the synchronization engine: it replays ledger events
// into the off-chain store, keeping the two in eventual agreement, including
// the cascading invariants the ledger does not enforce atomically.
package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/audit"
	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/chain"
	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/ids"
	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/obs"
	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/registry"
	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/stream"
)

const (
	// DefaultInterval is the poll period. A tick is expected to finish well
	// within it; ticks never overlap regardless.
	DefaultInterval = 5 * time.Second
	// DefaultMaxWindow caps how many blocks one tick may process per kind,
	// so catching up after an outage happens in bounded chunks.
	DefaultMaxWindow uint64 = 1000
)

// Poller drives the sync loop: each tick it fans out one task per event
// kind, each with its own persisted watermark, and joins them before
// advancing any watermark.
type Poller struct {
	chain     chain.Client
	store     registry.Store
	stream    *stream.Stream
	interval  time.Duration
	maxWindow uint64
	handlers  map[chain.Kind]handlerFunc
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval overrides the poll period.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMaxWindow caps the per-kind block window of a single tick.
func WithMaxWindow(n uint64) Option {
	return func(p *Poller) {
		if n > 0 {
			p.maxWindow = n
		}
	}
}

// WithStream publishes mutation notifications to st.
func WithStream(st *stream.Stream) Option {
	return func(p *Poller) { p.stream = st }
}

// New builds a poller over the given ledger client and store.
func New(c chain.Client, s registry.Store, opts ...Option) *Poller {
	p := &Poller{
		chain:     c,
		store:     s,
		interval:  DefaultInterval,
		maxWindow: DefaultMaxWindow,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.handlers = p.handlerTable()
	return p
}

// Run executes ticks until ctx is cancelled. The tick body runs inline in
// this goroutine, so a slow tick suppresses timer fires instead of
// overlapping them.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// kindResult is how a per-kind task reports back to the tick; failures cross
// the isolation boundary as values, never as panics.
type kindResult struct {
	kind    chain.Kind
	from    uint64
	to      uint64
	applied int
	advance uint64 // watermark to commit; zero means no advancement
	err     error
}

func (p *Poller) tick(ctx context.Context) {
	start := time.Now()
	ctx = audit.WithRequestID(ctx, ids.New())

	head, err := p.chain.Head(ctx)
	if err != nil {
		obs.Event("error", "indexer: chain head unavailable", map[string]any{"error": err.Error()})
		obs.ObserveTick("error", time.Since(start))
		return
	}
	obs.SetChainHead(head)

	kinds := chain.Kinds()
	results := make([]kindResult, len(kinds))
	var wg sync.WaitGroup
	for i, k := range kinds {
		wg.Add(1)
		go func(i int, k chain.Kind) {
			defer wg.Done()
			results[i] = p.processKind(ctx, k, head)
		}(i, k)
	}
	wg.Wait()

	// Watermarks advance only after the join, and only for kinds whose whole
	// window applied. A failed kind keeps its watermark and retries the same
	// window next tick.
	status := "ok"
	for _, r := range results {
		if r.err != nil {
			status = "partial"
			obs.Event("warn", "indexer: event kind failed, window will be retried", map[string]any{
				"kind": r.kind.String(), "from": r.from, "to": r.to, "error": r.err.Error(),
			})
			continue
		}
		if r.advance == 0 {
			continue
		}
		if err := p.store.SetWatermark(ctx, r.kind.String(), r.advance); err != nil {
			status = "partial"
			obs.Event("warn", "indexer: watermark write failed", map[string]any{
				"kind": r.kind.String(), "block": r.advance, "error": err.Error(),
			})
			continue
		}
		obs.SetWatermark(r.kind.String(), r.advance)
		if r.applied > 0 {
			obs.Event("info", "indexer: window applied", map[string]any{
				"kind": r.kind.String(), "from": r.from, "to": r.to, "events": r.applied,
			})
		}
	}
	obs.ObserveTick(status, time.Since(start))
}

// processKind runs one event kind's share of a tick: compute the window from
// the kind's own watermark, fetch, decode and apply. Any error aborts this
// kind only; sibling kinds are unaffected.
func (p *Poller) processKind(ctx context.Context, k chain.Kind, head uint64) (res kindResult) {
	defer func() {
		if rec := recover(); rec != nil {
			res.err = fmt.Errorf("panic: %v", rec)
		}
	}()
	res.kind = k

	from, to, ok, err := p.window(ctx, k, head)
	if err != nil {
		res.err = err
		return res
	}
	if !ok {
		return res
	}
	res.from, res.to = from, to

	events, err := p.chain.FilterEvents(ctx, k, from, to)
	if err != nil {
		res.err = err
		return res
	}
	for _, ev := range events {
		if err := p.apply(ctx, ev); err != nil {
			res.err = fmt.Errorf("%s at block %d: %w", k, ev.Block(), err)
			return res
		}
		res.applied++
	}
	res.advance = to
	return res
}

func (p *Poller) notify(kind, entity, key string) {
	if p.stream == nil {
		return
	}
	p.stream.Publish(stream.Notification{Kind: kind, Entity: entity, Key: key})
}
