// Package chain defines the ledger-facing types of the sync engine: the
// closed set of event kinds emitted by the registry contract, their decoded
// payloads, and the read-only client interface.
package chain

// Kind identifies one of the contract's event signatures. The set is closed;
// the engine's handler table covers every kind.
type Kind int

const (
	KindRegistrationRequested Kind = iota
	KindInstitutionVerified
	KindInstitutionRevoked
	KindRoleAssigned
	KindRoleRevoked
	KindPublicKeySaved
	KindRecordAdded
	KindAccessRequested
	KindAccessGranted
	KindAccessRevoked
	kindCount
)

var kindNames = [kindCount]string{
	"RegistrationRequested",
	"InstitutionVerified",
	"InstitutionRevoked",
	"RoleAssigned",
	"RoleRevoked",
	"PublicKeySaved",
	"RecordAdded",
	"ProfessionalAccessRequested",
	"AccessGranted",
	"AccessRevoked",
}

func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return "Unknown"
	}
	return kindNames[k]
}

// Kinds returns all event kinds in dispatch order.
func Kinds() []Kind {
	out := make([]Kind, kindCount)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// Event is a decoded ledger log. Each kind has its own payload struct.
type Event interface {
	Kind() Kind
	Block() uint64
}

// RegistrationRequested: a petition to create an institution was submitted.
type RegistrationRequested struct {
	BlockNumber uint64
	RequestID   uint64
	Name        string
	Requester   string
}

// InstitutionVerified: a registration request was approved and a hospital
// came into existence with the given admin.
type InstitutionVerified struct {
	BlockNumber uint64
	RequestID   uint64
	HospitalID  uint64
	Name        string
	Admin       string
}

// InstitutionRevoked: a hospital left the active state.
type InstitutionRevoked struct {
	BlockNumber uint64
	HospitalID  uint64
}

// RoleAssigned: an account was granted a professional role at a hospital.
type RoleAssigned struct {
	BlockNumber uint64
	Account     string
	RoleCode    uint8
	HospitalID  uint64
}

// RoleRevoked: an account lost its professional role.
type RoleRevoked struct {
	BlockNumber uint64
	Account     string
}

// PublicKeySaved: an account stored its encryption public key on chain.
// The payload deliberately carries no key material; the handler re-reads the
// authoritative value from the contract.
type PublicKeySaved struct {
	BlockNumber uint64
	Account     string
}

// RecordAdded: a patient record pointer was anchored on chain.
type RecordAdded struct {
	BlockNumber uint64
	RecordID    uint64
	Owner       string
	Title       string
	IPFSHash    string
	Category    string
	UploadedBy  string
	Timestamp   uint64
}

// AccessRequested: a professional asked for access to a set of records.
type AccessRequested struct {
	BlockNumber  uint64
	RequestID    uint64
	RecordIDs    []uint64
	Professional string
	Patient      string
}

// AccessGranted: a patient shared a rewrapped record key with a professional.
type AccessGranted struct {
	BlockNumber  uint64
	RecordID     uint64
	Professional string
	Patient      string
	ExpiresAt    uint64
	RewrappedKey string
}

// AccessRevoked: a patient withdrew a professional's access to records.
type AccessRevoked struct {
	BlockNumber  uint64
	Professional string
	RecordIDs    []uint64
}

func (e RegistrationRequested) Kind() Kind { return KindRegistrationRequested }
func (e InstitutionVerified) Kind() Kind   { return KindInstitutionVerified }
func (e InstitutionRevoked) Kind() Kind    { return KindInstitutionRevoked }
func (e RoleAssigned) Kind() Kind          { return KindRoleAssigned }
func (e RoleRevoked) Kind() Kind           { return KindRoleRevoked }
func (e PublicKeySaved) Kind() Kind        { return KindPublicKeySaved }
func (e RecordAdded) Kind() Kind           { return KindRecordAdded }
func (e AccessRequested) Kind() Kind       { return KindAccessRequested }
func (e AccessGranted) Kind() Kind         { return KindAccessGranted }
func (e AccessRevoked) Kind() Kind         { return KindAccessRevoked }

func (e RegistrationRequested) Block() uint64 { return e.BlockNumber }
func (e InstitutionVerified) Block() uint64   { return e.BlockNumber }
func (e InstitutionRevoked) Block() uint64    { return e.BlockNumber }
func (e RoleAssigned) Block() uint64          { return e.BlockNumber }
func (e RoleRevoked) Block() uint64           { return e.BlockNumber }
func (e PublicKeySaved) Block() uint64        { return e.BlockNumber }
func (e RecordAdded) Block() uint64           { return e.BlockNumber }
func (e AccessRequested) Block() uint64       { return e.BlockNumber }
func (e AccessGranted) Block() uint64         { return e.BlockNumber }
func (e AccessRevoked) Block() uint64         { return e.BlockNumber }
