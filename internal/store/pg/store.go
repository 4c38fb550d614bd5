// Package pg implements registry.Store on PostgreSQL. Every write is an
// upsert keyed by the entity's natural key or a conditional update guarded by
// the expected source state, so replayed ledger events are harmless.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/registry"
)

type Store struct {
	db *sql.DB
}

var _ registry.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (used by tests).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// --- registration requests ---

func (s *Store) UpsertRegistrationRequest(ctx context.Context, req registry.RegistrationRequest) error {
	_, err := s.db.ExecContext(ctx, `
		insert into registration_requests(request_id, institution_name, requester_address, status)
		values ($1,$2,$3,$4)
		on conflict (request_id) do update
		set institution_name = excluded.institution_name,
		    requester_address = excluded.requester_address,
		    status = excluded.status
	`, req.RequestID, req.InstitutionName, registry.NormalizeAddress(req.RequesterAddress), req.Status)
	return err
}

func (s *Store) GetRegistrationRequest(ctx context.Context, requestID uint64) (registry.RegistrationRequest, error) {
	var req registry.RegistrationRequest
	err := s.db.QueryRowContext(ctx, `
		select request_id, institution_name, requester_address, status
		from registration_requests where request_id=$1
	`, requestID).Scan(&req.RequestID, &req.InstitutionName, &req.RequesterAddress, &req.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.RegistrationRequest{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.RegistrationRequest{}, err
	}
	return req, nil
}

func (s *Store) TransitionRegistrationRequest(ctx context.Context, requestID uint64, from, to registry.RequestStatus) error {
	res, err := s.db.ExecContext(ctx, `
		update registration_requests set status=$3
		where request_id=$1 and status=$2
	`, requestID, from, to)
	if err != nil {
		return err
	}
	return transitionOutcome(ctx, res, func() (bool, error) {
		var one int
		err := s.db.QueryRowContext(ctx, `select 1 from registration_requests where request_id=$1`, requestID).Scan(&one)
		return adaptExists(err)
	})
}

// --- hospitals ---

func (s *Store) UpsertHospital(ctx context.Context, h registry.Hospital) error {
	_, err := s.db.ExecContext(ctx, `
		insert into hospitals(hospital_id, name, admin_address, status, is_verified)
		values ($1,$2,$3,$4,$5)
		on conflict (hospital_id) do update
		set name = excluded.name,
		    admin_address = excluded.admin_address,
		    status = excluded.status,
		    is_verified = excluded.is_verified
	`, h.HospitalID, h.Name, registry.NormalizeAddress(h.AdminAddress), h.Status, h.Status == registry.HospitalActive)
	return err
}

func (s *Store) GetHospital(ctx context.Context, hospitalID uint64) (registry.Hospital, error) {
	var h registry.Hospital
	err := s.db.QueryRowContext(ctx, `
		select hospital_id, name, admin_address, status, is_verified
		from hospitals where hospital_id=$1
	`, hospitalID).Scan(&h.HospitalID, &h.Name, &h.AdminAddress, &h.Status, &h.IsVerified)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Hospital{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.Hospital{}, err
	}
	return h, nil
}

func (s *Store) ListHospitals(ctx context.Context) ([]registry.Hospital, error) {
	rows, err := s.db.QueryContext(ctx, `
		select hospital_id, name, admin_address, status, is_verified
		from hospitals order by hospital_id asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []registry.Hospital
	for rows.Next() {
		var h registry.Hospital
		if err := rows.Scan(&h.HospitalID, &h.Name, &h.AdminAddress, &h.Status, &h.IsVerified); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) TransitionHospital(ctx context.Context, hospitalID uint64, from, to registry.HospitalStatus) error {
	res, err := s.db.ExecContext(ctx, `
		update hospitals set status=$3, is_verified=$4
		where hospital_id=$1 and status=$2
	`, hospitalID, from, to, to == registry.HospitalActive)
	if err != nil {
		return err
	}
	return transitionOutcome(ctx, res, func() (bool, error) {
		var one int
		err := s.db.QueryRowContext(ctx, `select 1 from hospitals where hospital_id=$1`, hospitalID).Scan(&one)
		return adaptExists(err)
	})
}

// --- users ---

// UpsertUser leaves public_key untouched; keys are written only through
// SetUserPublicKey.
func (s *Store) UpsertUser(ctx context.Context, u registry.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users(address, role, hospital_id, requested_hospital_id, professional_status, is_verified)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (address) do update
		set role = excluded.role,
		    hospital_id = excluded.hospital_id,
		    requested_hospital_id = excluded.requested_hospital_id,
		    professional_status = excluded.professional_status,
		    is_verified = excluded.is_verified
	`, registry.NormalizeAddress(u.Address), u.Role, u.HospitalID, u.RequestedHospitalID, u.ProfessionalStatus, u.IsVerified)
	return err
}

func (s *Store) GetUser(ctx context.Context, address string) (registry.User, error) {
	var u registry.User
	var publicKey sql.NullString
	err := s.db.QueryRowContext(ctx, `
		select address, role, hospital_id, requested_hospital_id, professional_status, public_key, is_verified
		from users where address=$1
	`, registry.NormalizeAddress(address)).Scan(
		&u.Address, &u.Role, &u.HospitalID, &u.RequestedHospitalID,
		&u.ProfessionalStatus, &publicKey, &u.IsVerified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.User{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.User{}, err
	}
	if publicKey.Valid {
		u.PublicKey = publicKey.String
	}
	return u, nil
}

func (s *Store) ListUsersByHospital(ctx context.Context, hospitalID uint64) ([]registry.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select address, role, hospital_id, requested_hospital_id, professional_status, public_key, is_verified
		from users where hospital_id=$1 order by address asc
	`, hospitalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (s *Store) SetUserPublicKey(ctx context.Context, address, publicKey string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users(address, role, professional_status, public_key, is_verified)
		values ($1,'Patient','pending',$2,false)
		on conflict (address) do update
		set public_key = excluded.public_key
	`, registry.NormalizeAddress(address), publicKey)
	return err
}

func (s *Store) DemoteUser(ctx context.Context, address string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users(address, role, professional_status, is_verified)
		values ($1,'Patient','revoked',false)
		on conflict (address) do update
		set role = 'Patient',
		    professional_status = 'revoked',
		    is_verified = false,
		    hospital_id = 0,
		    requested_hospital_id = 0
	`, registry.NormalizeAddress(address))
	return err
}

// RevokeHospitalStaff is the cascade: one bulk statement, no per-row loop, so
// there is no partial-cascade window inside the store.
func (s *Store) RevokeHospitalStaff(ctx context.Context, hospitalID uint64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update users set professional_status = 'revoked', is_verified = false
		where hospital_id = $1
		  and (professional_status <> 'revoked' or is_verified)
	`, hospitalID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- records ---

func (s *Store) UpsertRecord(ctx context.Context, r registry.Record) error {
	_, err := s.db.ExecContext(ctx, `
		insert into records(record_id, owner_address, title, ipfs_hash, category, is_verified, uploaded_by, recorded_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
		on conflict (record_id) do nothing
	`, r.RecordID, registry.NormalizeAddress(r.Owner), r.Title, r.IPFSHash, r.Category, r.IsVerified,
		registry.NormalizeAddress(r.UploadedBy), r.Timestamp)
	return err
}

func (s *Store) GetRecord(ctx context.Context, recordID uint64) (registry.Record, error) {
	var r registry.Record
	err := s.db.QueryRowContext(ctx, `
		select record_id, owner_address, title, ipfs_hash, category, is_verified, uploaded_by, recorded_at
		from records where record_id=$1
	`, recordID).Scan(&r.RecordID, &r.Owner, &r.Title, &r.IPFSHash, &r.Category, &r.IsVerified, &r.UploadedBy, &r.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Record{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.Record{}, err
	}
	return r, nil
}

func (s *Store) ListRecordsByOwner(ctx context.Context, owner string) ([]registry.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		select record_id, owner_address, title, ipfs_hash, category, is_verified, uploaded_by, recorded_at
		from records where owner_address=$1 order by record_id asc
	`, registry.NormalizeAddress(owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []registry.Record
	for rows.Next() {
		var r registry.Record
		if err := rows.Scan(&r.RecordID, &r.Owner, &r.Title, &r.IPFSHash, &r.Category, &r.IsVerified, &r.UploadedBy, &r.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- access requests ---

func (s *Store) UpsertAccessRequest(ctx context.Context, req registry.AccessRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into access_requests(request_id, professional_address, patient_address, status)
		values ($1,$2,$3,$4)
		on conflict (request_id) do update
		set professional_address = excluded.professional_address,
		    patient_address = excluded.patient_address,
		    status = excluded.status
	`, req.RequestID, registry.NormalizeAddress(req.ProfessionalAddress),
		registry.NormalizeAddress(req.PatientAddress), req.Status); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from access_request_records where request_id=$1`, req.RequestID); err != nil {
		return err
	}
	for _, rid := range req.RecordIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into access_request_records(request_id, record_id) values ($1,$2)
			on conflict do nothing
		`, req.RequestID, rid); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetAccessRequest(ctx context.Context, requestID uint64) (registry.AccessRequest, error) {
	var req registry.AccessRequest
	err := s.db.QueryRowContext(ctx, `
		select request_id, professional_address, patient_address, status
		from access_requests where request_id=$1
	`, requestID).Scan(&req.RequestID, &req.ProfessionalAddress, &req.PatientAddress, &req.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.AccessRequest{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.AccessRequest{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select record_id from access_request_records where request_id=$1 order by record_id asc
	`, requestID)
	if err != nil {
		return registry.AccessRequest{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var rid uint64
		if err := rows.Scan(&rid); err != nil {
			return registry.AccessRequest{}, err
		}
		req.RecordIDs = append(req.RecordIDs, rid)
	}
	return req, rows.Err()
}

// --- access grants ---

func (s *Store) UpsertAccessGrant(ctx context.Context, g registry.AccessGrant) error {
	_, err := s.db.ExecContext(ctx, `
		insert into access_grants(record_id, professional_address, patient_address, expires_at, rewrapped_key, created_at)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (record_id, professional_address) do update
		set patient_address = excluded.patient_address,
		    expires_at = excluded.expires_at,
		    rewrapped_key = excluded.rewrapped_key,
		    created_at = excluded.created_at
	`, g.RecordID, registry.NormalizeAddress(g.ProfessionalAddress), registry.NormalizeAddress(g.PatientAddress),
		g.ExpiresAt, g.RewrappedKey, g.CreatedAt)
	return err
}

func (s *Store) DeleteAccessGrants(ctx context.Context, professional string, recordIDs []uint64) (int64, error) {
	if len(recordIDs) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		delete from access_grants
		where professional_address = $1 and record_id = any($2)
	`, registry.NormalizeAddress(professional), int64Slice(recordIDs))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) ListGrantsForProfessional(ctx context.Context, professional string) ([]registry.AccessGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select record_id, professional_address, patient_address, expires_at, rewrapped_key, created_at
		from access_grants where professional_address=$1 order by record_id asc
	`, registry.NormalizeAddress(professional))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []registry.AccessGrant
	for rows.Next() {
		var g registry.AccessGrant
		if err := rows.Scan(&g.RecordID, &g.ProfessionalAddress, &g.PatientAddress, &g.ExpiresAt, &g.RewrappedKey, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// --- watermarks ---

func (s *Store) Watermark(ctx context.Context, kind string) (uint64, bool, error) {
	var block int64
	err := s.db.QueryRowContext(ctx, `
		select block_number from sync_watermarks where kind=$1
	`, kind).Scan(&block)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SetWatermark is monotonic at the SQL level: a replayed lower block never
// moves the watermark backwards.
func (s *Store) SetWatermark(ctx context.Context, kind string, block uint64) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sync_watermarks(kind, block_number, updated_at)
		values ($1,$2,now())
		on conflict (kind) do update
		set block_number = greatest(sync_watermarks.block_number, excluded.block_number),
		    updated_at = now()
	`, kind, int64(block))
	return err
}

// --- helpers ---

func scanUsers(rows *sql.Rows) ([]registry.User, error) {
	var out []registry.User
	for rows.Next() {
		var u registry.User
		var publicKey sql.NullString
		if err := rows.Scan(&u.Address, &u.Role, &u.HospitalID, &u.RequestedHospitalID,
			&u.ProfessionalStatus, &publicKey, &u.IsVerified); err != nil {
			return nil, err
		}
		if publicKey.Valid {
			u.PublicKey = publicKey.String
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// transitionOutcome turns "zero rows updated" into ErrNotFound or ErrStale
// depending on whether the row exists at all.
func transitionOutcome(ctx context.Context, res sql.Result, exists func() (bool, error)) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	ok, err := exists()
	if err != nil {
		return err
	}
	if !ok {
		return registry.ErrNotFound
	}
	return registry.ErrStale
}

func adaptExists(err error) (bool, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func int64Slice(in []uint64) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}
