package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/AnuragShetty1/blockchain-medical-records-sub000/internal/registry"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestUpsertUserDoesNotTouchPublicKey(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("insert into users").WithArgs(
		"0xabc", string(registry.RoleDoctor), uint64(7), uint64(0),
		string(registry.StatusApproved), true,
	).WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpsertUser(context.Background(), registry.User{
		Address:            "0xABC",
		Role:               registry.RoleDoctor,
		HospitalID:         7,
		ProfessionalStatus: registry.StatusApproved,
		IsVerified:         true,
		PublicKey:          "should-be-ignored",
	})
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransitionHospitalStale(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("update hospitals set status").
		WithArgs(uint64(3), string(registry.HospitalRevoking), string(registry.HospitalRevoked), false).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select 1 from hospitals").WithArgs(uint64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	err := s.TransitionHospital(context.Background(), 3, registry.HospitalRevoking, registry.HospitalRevoked)
	if !errors.Is(err, registry.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransitionRegistrationRequestNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("update registration_requests set status").
		WithArgs(uint64(99), string(registry.RequestPending), string(registry.RequestApproved)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select 1 from registration_requests").WithArgs(uint64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	err := s.TransitionRegistrationRequest(context.Background(), 99, registry.RequestPending, registry.RequestApproved)
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRevokeHospitalStaffReturnsAffectedCount(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("update users set professional_status = 'revoked'").
		WithArgs(uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.RevokeHospitalStaff(context.Background(), 5)
	if err != nil {
		t.Fatalf("RevokeHospitalStaff: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 revoked users, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsertAccessRequestRewritesRecordSet(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("insert into access_requests").
		WithArgs(uint64(12), "0xprof", "0xpatient", string(registry.AccessPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from access_request_records").
		WithArgs(uint64(12)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into access_request_records").
		WithArgs(uint64(12), uint64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into access_request_records").
		WithArgs(uint64(12), uint64(101)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.UpsertAccessRequest(context.Background(), registry.AccessRequest{
		RequestID:           12,
		RecordIDs:           []uint64{100, 101},
		ProfessionalAddress: "0xProf",
		PatientAddress:      "0xPatient",
		Status:              registry.AccessPending,
	})
	if err != nil {
		t.Fatalf("UpsertAccessRequest: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteAccessGrantsEmptySetIsNoop(t *testing.T) {
	s, mock := newMockStore(t)

	n, err := s.DeleteAccessGrants(context.Background(), "0xprof", nil)
	if err != nil {
		t.Fatalf("DeleteAccessGrants: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 deletions, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWatermarkRoundTrip(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("select block_number from sync_watermarks").
		WithArgs("RecordAdded").
		WillReturnRows(sqlmock.NewRows([]string{"block_number"}))

	_, found, err := s.Watermark(context.Background(), "RecordAdded")
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if found {
		t.Fatalf("expected missing watermark")
	}

	mock.ExpectExec("insert into sync_watermarks").
		WithArgs("RecordAdded", int64(120)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.SetWatermark(context.Background(), "RecordAdded", 120); err != nil {
		t.Fatalf("SetWatermark: %v", err)
	}

	mock.ExpectQuery("select block_number from sync_watermarks").
		WithArgs("RecordAdded").
		WillReturnRows(sqlmock.NewRows([]string{"block_number"}).AddRow(int64(120)))

	wm, found, err := s.Watermark(context.Background(), "RecordAdded")
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if !found || wm != 120 {
		t.Fatalf("unexpected watermark: %d found=%v", wm, found)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetUserNullPublicKey(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"address", "role", "hospital_id", "requested_hospital_id",
		"professional_status", "public_key", "is_verified",
	}).AddRow("0xabc", string(registry.RolePatient), int64(0), int64(0), string(registry.StatusPending), nil, false)
	mock.ExpectQuery("select address, role, hospital_id").WithArgs("0xabc").WillReturnRows(rows)

	u, err := s.GetUser(context.Background(), "0xABC")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.PublicKey != "" {
		t.Fatalf("expected empty public key, got %q", u.PublicKey)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsertRecordIsInsertOnly(t *testing.T) {
	s, mock := newMockStore(t)

	ts := time.Unix(1_700_000_000, 0).UTC()
	mock.ExpectExec("insert into records").WithArgs(
		uint64(44), "0xowner", "X-Ray", "QmHash", "Imaging", true, "0xdoc", ts,
	).WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpsertRecord(context.Background(), registry.Record{
		RecordID:   44,
		Owner:      "0xOwner",
		Title:      "X-Ray",
		IPFSHash:   "QmHash",
		Category:   "Imaging",
		IsVerified: true,
		UploadedBy: "0xDoc",
		Timestamp:  ts,
	})
	if err != nil {
		t.Fatalf("UpsertRecord: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
