package indexer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/chain"
	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/registry"
)

func TestHandlerTableCoversAllKinds(t *testing.T) {
	p, _ := newTestPoller(newFakeChain(0))
	for _, k := range chain.Kinds() {
		if _, ok := p.handlers[k]; !ok {
			t.Fatalf("no handler registered for %s", k)
		}
	}
	if len(p.handlers) != len(chain.Kinds()) {
		t.Fatalf("handler table has %d entries, want %d", len(p.handlers), len(chain.Kinds()))
	}
}

func TestUnknownRoleCodeMapsToSentinel(t *testing.T) {
	ctx := context.Background()
	fc := newFakeChain(10)
	p, store := newTestPoller(fc)

	fc.add(chain.InstitutionVerified{BlockNumber: 11, RequestID: 1, HospitalID: 1, Name: "General", Admin: "0xAAA"})
	p.tick(ctx)

	if err := p.apply(ctx, chain.RoleAssigned{BlockNumber: 12, Account: "0x42", RoleCode: 99, HospitalID: 1}); err != nil {
		t.Fatal(err)
	}
	u, err := store.GetUser(ctx, "0x42")
	if err != nil {
		t.Fatal(err)
	}
	if u.Role != registry.RoleUnassigned {
		t.Fatalf("unknown code mapped to %q", u.Role)
	}
}

func TestRoleAssignedUnknownHospitalSkipped(t *testing.T) {
	ctx := context.Background()
	p, store := newTestPoller(newFakeChain(10))

	err := p.apply(ctx, chain.RoleAssigned{BlockNumber: 11, Account: "0x43", RoleCode: 2, HospitalID: 77})
	if err != nil {
		t.Fatalf("skip must not surface as failure: %v", err)
	}
	if _, err := store.GetUser(ctx, "0x43"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("user created despite missing hospital: %v", err)
	}
}

func TestPublicKeySavedRereadsChain(t *testing.T) {
	ctx := context.Background()
	fc := newFakeChain(10)
	p, store := newTestPoller(fc)

	fc.users["0xkey"] = chain.UserRecord{PublicKey: "pk-current"}
	if err := p.apply(ctx, chain.PublicKeySaved{BlockNumber: 11, Account: "0xKEY"}); err != nil {
		t.Fatal(err)
	}
	u, err := store.GetUser(ctx, "0xkey")
	if err != nil || u.PublicKey != "pk-current" {
		t.Fatalf("public key not taken from chain state: %+v, err=%v", u, err)
	}

	// Same value again is a no-op; a role upsert later must not clobber it.
	if err := p.apply(ctx, chain.PublicKeySaved{BlockNumber: 12, Account: "0xKEY"}); err != nil {
		t.Fatal(err)
	}
	fc.add(chain.InstitutionVerified{BlockNumber: 13, RequestID: 9, HospitalID: 2, Name: "West", Admin: "0x900"})
	p.tick(ctx)
	if err := p.apply(ctx, chain.RoleAssigned{BlockNumber: 14, Account: "0xKEY", RoleCode: 2, HospitalID: 2}); err != nil {
		t.Fatal(err)
	}
	u, _ = store.GetUser(ctx, "0xkey")
	if u.PublicKey != "pk-current" {
		t.Fatalf("role upsert clobbered public key: %+v", u)
	}
}

func TestPublicKeySavedEmptyKeySkipped(t *testing.T) {
	ctx := context.Background()
	fc := newFakeChain(10)
	p, store := newTestPoller(fc)

	if err := p.apply(ctx, chain.PublicKeySaved{BlockNumber: 11, Account: "0xempty"}); err != nil {
		t.Fatalf("empty key must skip, not fail: %v", err)
	}
	if _, err := store.GetUser(ctx, "0xempty"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("user created for empty key: %v", err)
	}
}

func TestInstitutionVerifiedWithoutRequestStillMirrorsHospital(t *testing.T) {
	ctx := context.Background()
	p, store := newTestPoller(newFakeChain(10))

	if err := p.apply(ctx, chain.InstitutionVerified{BlockNumber: 11, RequestID: 404, HospitalID: 6, Name: "South", Admin: "0x600"}); err != nil {
		t.Fatal(err)
	}
	h, err := store.GetHospital(ctx, 6)
	if err != nil || h.Status != registry.HospitalActive {
		t.Fatalf("hospital not mirrored on anomaly: %+v, err=%v", h, err)
	}
	if _, err := store.GetRegistrationRequest(ctx, 404); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("phantom request created: %v", err)
	}
}

func TestRoleRevokedDemotesToPatient(t *testing.T) {
	ctx := context.Background()
	fc := newFakeChain(10)
	p, store := newTestPoller(fc)

	fc.add(chain.InstitutionVerified{BlockNumber: 11, RequestID: 1, HospitalID: 3, Name: "Central", Admin: "0x700"})
	p.tick(ctx)
	if err := p.apply(ctx, chain.RoleAssigned{BlockNumber: 12, Account: "0x701", RoleCode: 3, HospitalID: 3}); err != nil {
		t.Fatal(err)
	}
	if err := p.apply(ctx, chain.RoleRevoked{BlockNumber: 13, Account: "0x701"}); err != nil {
		t.Fatal(err)
	}
	u, _ := store.GetUser(ctx, "0x701")
	if u.Role != registry.RolePatient || u.ProfessionalStatus != registry.StatusRevoked || u.IsVerified || u.HospitalID != 0 {
		t.Fatalf("demotion incomplete: %+v", u)
	}

	// Replay is idempotent.
	if err := p.apply(ctx, chain.RoleRevoked{BlockNumber: 13, Account: "0x701"}); err != nil {
		t.Fatal(err)
	}
}

func TestAccessGrantedUsesBlockTimestamp(t *testing.T) {
	ctx := context.Background()
	fc := newFakeChain(10)
	p, store := newTestPoller(fc)

	minedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fc.timestamps[11] = minedAt

	if err := p.apply(ctx, chain.AccessGranted{
		BlockNumber: 11, RecordID: 4, Professional: "0x800", Patient: "0x801",
		ExpiresAt: 1800000000, RewrappedKey: "blob",
	}); err != nil {
		t.Fatal(err)
	}
	grants, _ := store.ListGrantsForProfessional(ctx, "0x800")
	if len(grants) != 1 {
		t.Fatalf("expected one grant, got %d", len(grants))
	}
	if !grants[0].CreatedAt.Equal(minedAt) {
		t.Fatalf("createdAt %v, want block time %v", grants[0].CreatedAt, minedAt)
	}
}

func TestAccessRevokedDeletesOnlyNamedRecords(t *testing.T) {
	ctx := context.Background()
	fc := newFakeChain(10)
	p, store := newTestPoller(fc)

	for _, rid := range []uint64{1, 2, 3} {
		if err := p.apply(ctx, chain.AccessGranted{
			BlockNumber: 11, RecordID: rid, Professional: "0x900", Patient: "0x901", RewrappedKey: "k",
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.apply(ctx, chain.AccessRevoked{BlockNumber: 12, Professional: "0x900", RecordIDs: []uint64{1, 3}}); err != nil {
		t.Fatal(err)
	}
	grants, _ := store.ListGrantsForProfessional(ctx, "0x900")
	if len(grants) != 1 || grants[0].RecordID != 2 {
		t.Fatalf("unexpected surviving grants: %+v", grants)
	}

	// Revoking already-absent grants is a no-op.
	if err := p.apply(ctx, chain.AccessRevoked{BlockNumber: 13, Professional: "0x900", RecordIDs: []uint64{1, 3}}); err != nil {
		t.Fatal(err)
	}
}

func TestInstitutionRevokedUnknownHospitalSkipped(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPoller(newFakeChain(10))
	if err := p.apply(ctx, chain.InstitutionRevoked{BlockNumber: 11, HospitalID: 404}); err != nil {
		t.Fatalf("unknown hospital must skip, not fail: %v", err)
	}
}

func TestInstitutionRevokedWithoutRevokingMark(t *testing.T) {
	ctx := context.Background()
	fc := newFakeChain(10)
	p, store := newTestPoller(fc)

	fc.add(chain.InstitutionVerified{BlockNumber: 11, RequestID: 1, HospitalID: 8, Name: "Plain", Admin: "0xa00"})
	p.tick(ctx)

	// No optimistic revoking mark: the chain event still forces the hospital
	// out of active and the cascade runs.
	if err := p.apply(ctx, chain.InstitutionRevoked{BlockNumber: 12, HospitalID: 8}); err != nil {
		t.Fatal(err)
	}
	h, _ := store.GetHospital(ctx, 8)
	if h.Status != registry.HospitalRevoked || h.IsVerified {
		t.Fatalf("hospital not forced to revoked: %+v", h)
	}
	admin, _ := store.GetUser(ctx, "0xa00")
	if admin.ProfessionalStatus != registry.StatusRevoked {
		t.Fatalf("admin not swept: %+v", admin)
	}
}
