package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

type listResponse[T any] struct {
	Items []T       `json:"items"`
	Count int       `json:"count"`
	AsOf  time.Time `json:"as_of"`
}

func newListResponse[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Count: len(items), AsOf: time.Now().UTC()}
}

func (a *API) handleHospitalsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	hospitals, err := a.store.ListHospitals(r.Context())
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(hospitals))
}

func (a *API) handleHospitalResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/hospitals/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if rest, ok := strings.CutSuffix(path, "/staff"); ok {
		id, err := parseID(rest)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "hospital id must be a positive integer")
			return
		}
		staff, err := a.store.ListUsersByHospital(r.Context(), id)
		if err != nil {
			handleStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newListResponse(staff))
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, err := parseID(path)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "hospital id must be a positive integer")
		return
	}
	h, err := a.store.GetHospital(r.Context(), id)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	addr := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	if addr == "" || strings.Contains(addr, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	u, err := a.store.GetUser(r.Context(), addr)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) handleRecordResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/records/")
	if path == "" || strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, err := parseID(path)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "record id must be a positive integer")
		return
	}
	rec, err := a.store.GetRecord(r.Context(), id)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handlePatientResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/patients/")
	addr, ok := strings.CutSuffix(path, "/records")
	if !ok || addr == "" || strings.Contains(addr, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	records, err := a.store.ListRecordsByOwner(r.Context(), addr)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(records))
}

func (a *API) handleProfessionalResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/professionals/")
	addr, ok := strings.CutSuffix(path, "/grants")
	if !ok || addr == "" || strings.Contains(addr, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	grants, err := a.store.ListGrantsForProfessional(r.Context(), addr)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(grants))
}

func (a *API) handleRegistrationResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/registrations/")
	if path == "" || strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, err := parseID(path)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "request id must be a positive integer")
		return
	}
	req, err := a.store.GetRegistrationRequest(r.Context(), id)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func parseID(raw string) (uint64, error) {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "/")
	return strconv.ParseUint(raw, 10, 64)
}
