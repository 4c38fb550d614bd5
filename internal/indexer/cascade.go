package indexer

import (
	"context"
	"strconv"

	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/audit"
	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/obs"
)

// revokeHospitalStaff is the cascade phase of institution revocation: every
// user affiliated with the hospital, the admin included, loses approval in
// one bulk store operation. Unconditional across prior statuses so users
// caught mid-transition are swept too. Re-running after a partial failure is
// safe; the bulk update is idempotent.
func (p *Poller) revokeHospitalStaff(ctx context.Context, hospitalID uint64) (int64, error) {
	n, err := p.store.RevokeHospitalStaff(ctx, hospitalID)
	if err != nil {
		return 0, err
	}
	obs.AddCascadeRevoked(n)
	_ = audit.LogEvent(ctx, "hospital.staff_revoked", map[string]any{
		"hospital_id": hospitalID,
		"users":       n,
	})
	p.notify("hospital-revoked", "hospitals", strconv.FormatUint(hospitalID, 10))
	return n, nil
}
