package registry

import "context"

// Store is the off-chain mirror of ledger state. Every write is either an
// upsert by natural key or a conditional update that only applies when the
// entity is in an expected source state, so replaying the same ledger event
// is always safe.
type Store interface {
	// Registration requests.
	UpsertRegistrationRequest(ctx context.Context, req RegistrationRequest) error
	GetRegistrationRequest(ctx context.Context, requestID uint64) (RegistrationRequest, error)
	// TransitionRegistrationRequest moves a request from one status to
	// another; returns ErrStale when the request is not in `from`.
	TransitionRegistrationRequest(ctx context.Context, requestID uint64, from, to RequestStatus) error

	// Hospitals.
	UpsertHospital(ctx context.Context, h Hospital) error
	GetHospital(ctx context.Context, hospitalID uint64) (Hospital, error)
	ListHospitals(ctx context.Context) ([]Hospital, error)
	// TransitionHospital is conditional like TransitionRegistrationRequest.
	// IsVerified is derived: true only while the target status is active.
	TransitionHospital(ctx context.Context, hospitalID uint64, from, to HospitalStatus) error

	// Users.
	UpsertUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, address string) (User, error)
	ListUsersByHospital(ctx context.Context, hospitalID uint64) ([]User, error)
	// SetUserPublicKey writes the key, creating a baseline patient row when
	// the user does not exist yet. Writing the same key twice is a no-op.
	SetUserPublicKey(ctx context.Context, address, publicKey string) error
	// DemoteUser resets a user to the baseline patient role: role=Patient,
	// professional status revoked, affiliation cleared.
	DemoteUser(ctx context.Context, address string) error
	// RevokeHospitalStaff bulk-revokes every user affiliated with the
	// hospital regardless of current status, returning how many rows changed.
	RevokeHospitalStaff(ctx context.Context, hospitalID uint64) (int64, error)

	// Records.
	UpsertRecord(ctx context.Context, r Record) error
	GetRecord(ctx context.Context, recordID uint64) (Record, error)
	ListRecordsByOwner(ctx context.Context, owner string) ([]Record, error)

	// Access requests and grants.
	UpsertAccessRequest(ctx context.Context, req AccessRequest) error
	GetAccessRequest(ctx context.Context, requestID uint64) (AccessRequest, error)
	UpsertAccessGrant(ctx context.Context, g AccessGrant) error
	// DeleteAccessGrants removes grants for the professional limited to the
	// given record ids. Deleting an absent grant is a no-op.
	DeleteAccessGrants(ctx context.Context, professional string, recordIDs []uint64) (int64, error)
	ListGrantsForProfessional(ctx context.Context, professional string) ([]AccessGrant, error)

	// Per-event-kind sync watermarks. Watermark reports ok=false when no
	// watermark has been stored for the kind yet. SetWatermark is monotonic:
	// a lower block number than the stored one is ignored.
	Watermark(ctx context.Context, kind string) (uint64, bool, error)
	SetWatermark(ctx context.Context, kind string, block uint64) error
}
