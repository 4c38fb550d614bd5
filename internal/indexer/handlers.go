package indexer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/chain"
	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/obs"
	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/registry"
)

type handlerFunc func(ctx context.Context, ev chain.Event) error

// errSkip marks an ordering anomaly or otherwise unusable event. Skipped
// events are logged and counted but do not block the window: replaying them
// would not change the missing precondition.
var errSkip = errors.New("event skipped")

// apply dispatches one decoded event to its handler and records the outcome.
func (p *Poller) apply(ctx context.Context, ev chain.Event) error {
	h, ok := p.handlers[ev.Kind()]
	if !ok {
		obs.RecordEvent(ev.Kind().String(), "skipped")
		return nil
	}
	err := h(ctx, ev)
	switch {
	case err == nil:
		obs.RecordEvent(ev.Kind().String(), "applied")
		return nil
	case errors.Is(err, errSkip):
		obs.RecordEvent(ev.Kind().String(), "skipped")
		obs.Event("warn", "indexer: event skipped", map[string]any{
			"kind": ev.Kind().String(), "block": ev.Block(), "reason": err.Error(),
		})
		return nil
	default:
		obs.RecordEvent(ev.Kind().String(), "failed")
		return err
	}
}

// handlerTable binds every event kind to its handler. The table covers the
// closed Kind set exhaustively; a kind without an entry would be silently
// skipped, which the kind test guards against.
func (p *Poller) handlerTable() map[chain.Kind]handlerFunc {
	return map[chain.Kind]handlerFunc{
		chain.KindRegistrationRequested: func(ctx context.Context, ev chain.Event) error {
			return p.handleRegistrationRequested(ctx, ev.(chain.RegistrationRequested))
		},
		chain.KindInstitutionVerified: func(ctx context.Context, ev chain.Event) error {
			return p.handleInstitutionVerified(ctx, ev.(chain.InstitutionVerified))
		},
		chain.KindInstitutionRevoked: func(ctx context.Context, ev chain.Event) error {
			return p.handleInstitutionRevoked(ctx, ev.(chain.InstitutionRevoked))
		},
		chain.KindRoleAssigned: func(ctx context.Context, ev chain.Event) error {
			return p.handleRoleAssigned(ctx, ev.(chain.RoleAssigned))
		},
		chain.KindRoleRevoked: func(ctx context.Context, ev chain.Event) error {
			return p.handleRoleRevoked(ctx, ev.(chain.RoleRevoked))
		},
		chain.KindPublicKeySaved: func(ctx context.Context, ev chain.Event) error {
			return p.handlePublicKeySaved(ctx, ev.(chain.PublicKeySaved))
		},
		chain.KindRecordAdded: func(ctx context.Context, ev chain.Event) error {
			return p.handleRecordAdded(ctx, ev.(chain.RecordAdded))
		},
		chain.KindAccessRequested: func(ctx context.Context, ev chain.Event) error {
			return p.handleAccessRequested(ctx, ev.(chain.AccessRequested))
		},
		chain.KindAccessGranted: func(ctx context.Context, ev chain.Event) error {
			return p.handleAccessGranted(ctx, ev.(chain.AccessGranted))
		},
		chain.KindAccessRevoked: func(ctx context.Context, ev chain.Event) error {
			return p.handleAccessRevoked(ctx, ev.(chain.AccessRevoked))
		},
	}
}

// roleNames is the fixed on-chain role code mapping. Unknown codes map to the
// unassigned sentinel instead of failing.
var roleNames = map[uint8]registry.Role{
	1: registry.RolePatient,
	2: registry.RoleDoctor,
	3: registry.RoleLabTechnician,
	4: registry.RoleHospitalAdmin,
}

func roleForCode(code uint8) registry.Role {
	if r, ok := roleNames[code]; ok {
		return r
	}
	return registry.RoleUnassigned
}

func (p *Poller) handleRegistrationRequested(ctx context.Context, e chain.RegistrationRequested) error {
	return p.store.UpsertRegistrationRequest(ctx, registry.RegistrationRequest{
		RequestID:        e.RequestID,
		InstitutionName:  e.Name,
		RequesterAddress: e.Requester,
		Status:           registry.RequestPending,
	})
}

// handleInstitutionVerified finalizes a registration request and mirrors the
// new hospital together with its admin user. The request transition prefers
// verifying->approved (the write path marks verifying optimistically before
// submission); a request still pending is accepted too, since the engine may
// be the only writer during replay. A request in any other state is an
// ordering anomaly: logged, while the hospital itself is still mirrored
// because the chain has already committed the verification.
func (p *Poller) handleInstitutionVerified(ctx context.Context, e chain.InstitutionVerified) error {
	err := p.store.TransitionRegistrationRequest(ctx, e.RequestID, registry.RequestVerifying, registry.RequestApproved)
	if errors.Is(err, registry.ErrStale) {
		err = p.store.TransitionRegistrationRequest(ctx, e.RequestID, registry.RequestPending, registry.RequestApproved)
	}
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, registry.ErrStale):
		obs.Event("warn", "indexer: verification without matching request", map[string]any{
			"request_id": e.RequestID, "hospital_id": e.HospitalID,
		})
	default:
		return err
	}

	if err := p.store.UpsertHospital(ctx, registry.Hospital{
		HospitalID:   e.HospitalID,
		Name:         e.Name,
		AdminAddress: e.Admin,
		Status:       registry.HospitalActive,
	}); err != nil {
		return err
	}
	return p.store.UpsertUser(ctx, registry.User{
		Address:            e.Admin,
		Role:               registry.RoleHospitalAdmin,
		HospitalID:         e.HospitalID,
		ProfessionalStatus: registry.StatusApproved,
		IsVerified:         true,
	})
}

// handleInstitutionRevoked is two-phase: mark the hospital revoked, then
// cascade over its staff. The chain is authoritative, so a hospital that
// never showed the optimistic revoking mark is still forced out of active;
// a hospital already revoked means replay, and the cascade re-runs so a
// previously interrupted sweep completes.
func (p *Poller) handleInstitutionRevoked(ctx context.Context, e chain.InstitutionRevoked) error {
	err := p.store.TransitionHospital(ctx, e.HospitalID, registry.HospitalRevoking, registry.HospitalRevoked)
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrNotFound):
		return fmt.Errorf("%w: revocation of unknown hospital %d", errSkip, e.HospitalID)
	case errors.Is(err, registry.ErrStale):
		h, gerr := p.store.GetHospital(ctx, e.HospitalID)
		if gerr != nil {
			return gerr
		}
		if h.Status != registry.HospitalRevoked {
			obs.Event("warn", "indexer: revocation without revoking mark", map[string]any{
				"hospital_id": e.HospitalID, "status": string(h.Status),
			})
			if terr := p.store.TransitionHospital(ctx, e.HospitalID, h.Status, registry.HospitalRevoked); terr != nil {
				return terr
			}
		}
	default:
		return err
	}

	_, err = p.revokeHospitalStaff(ctx, e.HospitalID)
	return err
}

func (p *Poller) handleRoleAssigned(ctx context.Context, e chain.RoleAssigned) error {
	if e.HospitalID != 0 {
		h, err := p.store.GetHospital(ctx, e.HospitalID)
		if errors.Is(err, registry.ErrNotFound) {
			return fmt.Errorf("%w: role assignment for unknown hospital %d", errSkip, e.HospitalID)
		}
		if err != nil {
			return err
		}
		// Hospital status is the authoritative guard: a stale or replayed
		// assignment must not resurrect staff of a revoked institution.
		if h.Status != registry.HospitalActive {
			return fmt.Errorf("%w: role assignment for %s hospital %d", errSkip, h.Status, e.HospitalID)
		}
	}
	return p.store.UpsertUser(ctx, registry.User{
		Address:            e.Account,
		Role:               roleForCode(e.RoleCode),
		HospitalID:         e.HospitalID,
		ProfessionalStatus: registry.StatusApproved,
		IsVerified:         true,
	})
}

func (p *Poller) handleRoleRevoked(ctx context.Context, e chain.RoleRevoked) error {
	return p.store.DemoteUser(ctx, e.Account)
}

// handlePublicKeySaved re-reads the key from the contract instead of trusting
// event arguments, so replays of stale logs still store the current value.
func (p *Poller) handlePublicKeySaved(ctx context.Context, e chain.PublicKeySaved) error {
	rec, err := p.chain.UserRecord(ctx, e.Account)
	if err != nil {
		return err
	}
	if rec.PublicKey == "" {
		return fmt.Errorf("%w: empty public key for %s", errSkip, e.Account)
	}
	if err := p.store.SetUserPublicKey(ctx, e.Account, rec.PublicKey); err != nil {
		return err
	}
	p.notify("public-key-saved", "users", registry.NormalizeAddress(e.Account))
	return nil
}

func (p *Poller) handleRecordAdded(ctx context.Context, e chain.RecordAdded) error {
	return p.store.UpsertRecord(ctx, registry.Record{
		RecordID:   e.RecordID,
		Owner:      e.Owner,
		Title:      e.Title,
		IPFSHash:   e.IPFSHash,
		Category:   e.Category,
		IsVerified: true,
		UploadedBy: e.UploadedBy,
		Timestamp:  time.Unix(int64(e.Timestamp), 0).UTC(),
	})
}

func (p *Poller) handleAccessRequested(ctx context.Context, e chain.AccessRequested) error {
	return p.store.UpsertAccessRequest(ctx, registry.AccessRequest{
		RequestID:           e.RequestID,
		RecordIDs:           e.RecordIDs,
		ProfessionalAddress: e.Professional,
		PatientAddress:      e.Patient,
		Status:              registry.AccessPending,
	})
}

// handleAccessGranted stamps createdAt from the originating block so replays
// are deterministic regardless of wall-clock time.
func (p *Poller) handleAccessGranted(ctx context.Context, e chain.AccessGranted) error {
	createdAt, err := p.chain.BlockTimestamp(ctx, e.BlockNumber)
	if err != nil {
		return err
	}
	if err := p.store.UpsertAccessGrant(ctx, registry.AccessGrant{
		RecordID:            e.RecordID,
		ProfessionalAddress: e.Professional,
		PatientAddress:      e.Patient,
		ExpiresAt:           time.Unix(int64(e.ExpiresAt), 0).UTC(),
		RewrappedKey:        e.RewrappedKey,
		CreatedAt:           createdAt,
	}); err != nil {
		return err
	}
	p.notify("access-granted", "access_grants", grantRef(e.RecordID, e.Professional))
	return nil
}

func (p *Poller) handleAccessRevoked(ctx context.Context, e chain.AccessRevoked) error {
	if _, err := p.store.DeleteAccessGrants(ctx, e.Professional, e.RecordIDs); err != nil {
		return err
	}
	p.notify("access-revoked", "access_grants", registry.NormalizeAddress(e.Professional))
	return nil
}

func grantRef(recordID uint64, professional string) string {
	return strconv.FormatUint(recordID, 10) + ":" + registry.NormalizeAddress(professional)
}
