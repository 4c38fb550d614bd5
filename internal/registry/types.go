package registry

import (
	"errors"
	"strings"
	"time"
)

// RequestStatus tracks a registration request through the verification flow.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestVerifying RequestStatus = "verifying"
	RequestApproved  RequestStatus = "approved"
	RequestRejected  RequestStatus = "rejected"
	RequestFailed    RequestStatus = "failed"
)

// HospitalStatus is the lifecycle of a verified institution.
type HospitalStatus string

const (
	HospitalActive   HospitalStatus = "active"
	HospitalRevoking HospitalStatus = "revoking"
	HospitalRevoked  HospitalStatus = "revoked"
)

// ProfessionalStatus is the lifecycle of a user's institutional standing.
type ProfessionalStatus string

const (
	StatusPending   ProfessionalStatus = "pending"
	StatusVerifying ProfessionalStatus = "verifying"
	StatusApproved  ProfessionalStatus = "approved"
	StatusRevoking  ProfessionalStatus = "revoking"
	StatusRevoked   ProfessionalStatus = "revoked"
	StatusRejected  ProfessionalStatus = "rejected"
)

// Role names mirror the on-chain role enumeration.
type Role string

const (
	RolePatient       Role = "Patient"
	RoleDoctor        Role = "Doctor"
	RoleLabTechnician Role = "LabTechnician"
	RoleHospitalAdmin Role = "HospitalAdmin"
	RoleUnassigned    Role = "Unassigned Professional"
)

// RegistrationRequest is a petition to create an institution. Keyed by the
// on-chain request id; never deleted.
type RegistrationRequest struct {
	RequestID        uint64        `json:"request_id"`
	InstitutionName  string        `json:"institution_name"`
	RequesterAddress string        `json:"requester_address"`
	Status           RequestStatus `json:"status"`
}

// Hospital is a verified institution. Keyed by the on-chain hospital id.
type Hospital struct {
	HospitalID   uint64         `json:"hospital_id"`
	Name         string         `json:"name"`
	AdminAddress string         `json:"admin_address"`
	Status       HospitalStatus `json:"status"`
	IsVerified   bool           `json:"is_verified"`
}

// User is keyed by lowercase address. HospitalID zero means unaffiliated.
// PublicKey is opaque and written only through SetUserPublicKey.
type User struct {
	Address             string             `json:"address"`
	Role                Role               `json:"role"`
	HospitalID          uint64             `json:"hospital_id,omitempty"`
	RequestedHospitalID uint64             `json:"requested_hospital_id,omitempty"`
	ProfessionalStatus  ProfessionalStatus `json:"professional_status"`
	PublicKey           string             `json:"public_key,omitempty"`
	IsVerified          bool               `json:"is_verified"`
}

// Record is an immutable pointer to an encrypted off-chain document.
// The engine never interprets IPFSHash; it is an opaque reference.
type Record struct {
	RecordID   uint64    `json:"record_id"`
	Owner      string    `json:"owner"`
	Title      string    `json:"title"`
	IPFSHash   string    `json:"ipfs_hash"`
	Category   string    `json:"category"`
	IsVerified bool      `json:"is_verified"`
	UploadedBy string    `json:"uploaded_by"`
	Timestamp  time.Time `json:"timestamp"`
}

// AccessStatus is the lifecycle of a professional's access request.
type AccessStatus string

const (
	AccessPending  AccessStatus = "pending"
	AccessApproved AccessStatus = "approved"
	AccessRejected AccessStatus = "rejected"
)

// AccessRequest is a professional's petition to view a set of records.
// Approval happens off-ledger; the engine only creates and reads these.
type AccessRequest struct {
	RequestID           uint64       `json:"request_id"`
	RecordIDs           []uint64     `json:"record_ids"`
	ProfessionalAddress string       `json:"professional_address"`
	PatientAddress      string       `json:"patient_address"`
	Status              AccessStatus `json:"status"`
}

// AccessGrant is keyed by (record id, professional address): at most one
// live grant per pair. RewrappedKey is opaque ciphertext.
type AccessGrant struct {
	RecordID            uint64    `json:"record_id"`
	ProfessionalAddress string    `json:"professional_address"`
	PatientAddress      string    `json:"patient_address"`
	ExpiresAt           time.Time `json:"expires_at"`
	RewrappedKey        string    `json:"rewrapped_key"`
	CreatedAt           time.Time `json:"created_at"`
}

var (
	ErrNotFound = errors.New("not found")
	// ErrStale means a conditional update found the entity in a state other
	// than the expected source state.
	ErrStale = errors.New("entity not in expected state")
)

// NormalizeAddress lowercases an address so that mixed-case ledger data maps
// to a single natural key.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
