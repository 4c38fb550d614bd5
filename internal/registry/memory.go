package registry

import (
	"context"
	"sync"
)

type grantKey struct {
	RecordID     uint64
	Professional string
}

// InMemory implements Store with in-process concurrency safety. Used by the
// engine tests and by local runs without a database.
type InMemory struct {
	mu         sync.RWMutex
	requests   map[uint64]RegistrationRequest
	hospitals  map[uint64]Hospital
	users      map[string]User
	records    map[uint64]Record
	accessReqs map[uint64]AccessRequest
	grants     map[grantKey]AccessGrant
	watermarks map[string]uint64
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		requests:   make(map[uint64]RegistrationRequest),
		hospitals:  make(map[uint64]Hospital),
		users:      make(map[string]User),
		records:    make(map[uint64]Record),
		accessReqs: make(map[uint64]AccessRequest),
		grants:     make(map[grantKey]AccessGrant),
		watermarks: make(map[string]uint64),
	}
}

func (s *InMemory) UpsertRegistrationRequest(ctx context.Context, req RegistrationRequest) error {
	req.RequesterAddress = NormalizeAddress(req.RequesterAddress)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.RequestID] = req
	return nil
}

func (s *InMemory) GetRegistrationRequest(ctx context.Context, requestID uint64) (RegistrationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	if !ok {
		return RegistrationRequest{}, ErrNotFound
	}
	return req, nil
}

func (s *InMemory) TransitionRegistrationRequest(ctx context.Context, requestID uint64, from, to RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if req.Status != from {
		return ErrStale
	}
	req.Status = to
	s.requests[requestID] = req
	return nil
}

func (s *InMemory) UpsertHospital(ctx context.Context, h Hospital) error {
	h.AdminAddress = NormalizeAddress(h.AdminAddress)
	h.IsVerified = h.Status == HospitalActive
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hospitals[h.HospitalID] = h
	return nil
}

func (s *InMemory) GetHospital(ctx context.Context, hospitalID uint64) (Hospital, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hospitals[hospitalID]
	if !ok {
		return Hospital{}, ErrNotFound
	}
	return h, nil
}

func (s *InMemory) ListHospitals(ctx context.Context) ([]Hospital, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Hospital, 0, len(s.hospitals))
	for _, h := range s.hospitals {
		out = append(out, h)
	}
	return out, nil
}

func (s *InMemory) TransitionHospital(ctx context.Context, hospitalID uint64, from, to HospitalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hospitals[hospitalID]
	if !ok {
		return ErrNotFound
	}
	if h.Status != from {
		return ErrStale
	}
	h.Status = to
	h.IsVerified = to == HospitalActive
	s.hospitals[hospitalID] = h
	return nil
}

// UpsertUser overwrites role, affiliation and verification state but keeps an
// already stored public key: keys are written only via SetUserPublicKey.
func (s *InMemory) UpsertUser(ctx context.Context, u User) error {
	u.Address = NormalizeAddress(u.Address)
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.users[u.Address]; ok && u.PublicKey == "" {
		u.PublicKey = prev.PublicKey
	}
	s.users[u.Address] = u
	return nil
}

func (s *InMemory) GetUser(ctx context.Context, address string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[NormalizeAddress(address)]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *InMemory) ListUsersByHospital(ctx context.Context, hospitalID uint64) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []User
	for _, u := range s.users {
		if u.HospitalID == hospitalID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *InMemory) SetUserPublicKey(ctx context.Context, address, publicKey string) error {
	address = NormalizeAddress(address)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[address]
	if !ok {
		u = User{Address: address, Role: RolePatient, ProfessionalStatus: StatusPending}
	}
	u.PublicKey = publicKey
	s.users[address] = u
	return nil
}

func (s *InMemory) DemoteUser(ctx context.Context, address string) error {
	address = NormalizeAddress(address)
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[address]
	if !ok {
		u = User{Address: address}
	}
	u.Role = RolePatient
	u.ProfessionalStatus = StatusRevoked
	u.IsVerified = false
	u.HospitalID = 0
	u.RequestedHospitalID = 0
	s.users[address] = u
	return nil
}

func (s *InMemory) RevokeHospitalStaff(ctx context.Context, hospitalID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for addr, u := range s.users {
		if u.HospitalID != hospitalID {
			continue
		}
		if u.ProfessionalStatus == StatusRevoked && !u.IsVerified {
			continue
		}
		u.ProfessionalStatus = StatusRevoked
		u.IsVerified = false
		s.users[addr] = u
		n++
	}
	return n, nil
}

func (s *InMemory) UpsertRecord(ctx context.Context, r Record) error {
	r.Owner = NormalizeAddress(r.Owner)
	r.UploadedBy = NormalizeAddress(r.UploadedBy)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.RecordID] = r
	return nil
}

func (s *InMemory) GetRecord(ctx context.Context, recordID uint64) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[recordID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (s *InMemory) ListRecordsByOwner(ctx context.Context, owner string) ([]Record, error) {
	owner = NormalizeAddress(owner)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, r := range s.records {
		if r.Owner == owner {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *InMemory) UpsertAccessRequest(ctx context.Context, req AccessRequest) error {
	req.ProfessionalAddress = NormalizeAddress(req.ProfessionalAddress)
	req.PatientAddress = NormalizeAddress(req.PatientAddress)
	req.RecordIDs = append([]uint64(nil), req.RecordIDs...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessReqs[req.RequestID] = req
	return nil
}

func (s *InMemory) GetAccessRequest(ctx context.Context, requestID uint64) (AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.accessReqs[requestID]
	if !ok {
		return AccessRequest{}, ErrNotFound
	}
	req.RecordIDs = append([]uint64(nil), req.RecordIDs...)
	return req, nil
}

func (s *InMemory) UpsertAccessGrant(ctx context.Context, g AccessGrant) error {
	g.ProfessionalAddress = NormalizeAddress(g.ProfessionalAddress)
	g.PatientAddress = NormalizeAddress(g.PatientAddress)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grantKey{g.RecordID, g.ProfessionalAddress}] = g
	return nil
}

func (s *InMemory) DeleteAccessGrants(ctx context.Context, professional string, recordIDs []uint64) (int64, error) {
	professional = NormalizeAddress(professional)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range recordIDs {
		key := grantKey{id, professional}
		if _, ok := s.grants[key]; ok {
			delete(s.grants, key)
			n++
		}
	}
	return n, nil
}

func (s *InMemory) ListGrantsForProfessional(ctx context.Context, professional string) ([]AccessGrant, error) {
	professional = NormalizeAddress(professional)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AccessGrant
	for key, g := range s.grants {
		if key.Professional == professional {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *InMemory) Watermark(ctx context.Context, kind string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wm, ok := s.watermarks[kind]
	return wm, ok, nil
}

func (s *InMemory) SetWatermark(ctx context.Context, kind string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.watermarks[kind]; ok && cur >= block {
		return nil
	}
	s.watermarks[kind] = block
	return nil
}
