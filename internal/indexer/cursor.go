package indexer

import (
	"context"
	"fmt"

	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/chain"
)

// window computes the next unprocessed block range for one event kind from
// its persisted watermark. ok=false means there is nothing to do this tick.
//
// A kind with no stored watermark starts at (head-1): the engine mirrors
// from process start and deliberately does not replay history. The initial
// watermark is not persisted here; it is committed like any other only after
// the first window applies, which keeps restart semantics uniform.
func (p *Poller) window(ctx context.Context, k chain.Kind, head uint64) (from, to uint64, ok bool, err error) {
	wm, found, err := p.store.Watermark(ctx, k.String())
	if err != nil {
		return 0, 0, false, fmt.Errorf("read watermark: %w", err)
	}
	if !found {
		if head == 0 {
			return 0, 0, false, nil
		}
		wm = head - 1
	}
	if head <= wm {
		return 0, 0, false, nil
	}
	from = wm + 1
	to = head
	if to-from+1 > p.maxWindow {
		to = from + p.maxWindow - 1
	}
	return from, to, true, nil
}
