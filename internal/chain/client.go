package chain

import (
	"context"
	"time"
)

// UserRecord is the contract's current view of an account, used when a
// handler re-reads authoritative state instead of trusting event arguments.
type UserRecord struct {
	PublicKey  string
	RoleCode   uint8
	HospitalID uint64
}

// Client is the read-only ledger interface consumed by the engine. A call may
// fail intermittently; within a call the returned range is assumed gap-free.
type Client interface {
	// Head returns the current chain head block number.
	Head(ctx context.Context) (uint64, error)
	// FilterEvents returns decoded logs of one kind in [from, to], ordered
	// by block then log index.
	FilterEvents(ctx context.Context, kind Kind, from, to uint64) ([]Event, error)
	// UserRecord reads the contract's current record for an address.
	UserRecord(ctx context.Context, address string) (UserRecord, error)
	// BlockTimestamp returns the timestamp of a mined block.
	BlockTimestamp(ctx context.Context, block uint64) (time.Time, error)
}
