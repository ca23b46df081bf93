package helpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/stacklok/fieldsync/internal/records"
)

// Batch is one bulk ingest request received by the fake remote
type Batch struct {
	Path     string
	DeviceID string
	Token    string
	Records  []records.Record
}

// FakeRemote is an ingest service that records every batch it receives
type FakeRemote struct {
	*httptest.Server

	mu       sync.Mutex
	batches  []Batch
	failPath map[string]int
}

// NewFakeRemote starts a fake ingest service
func NewFakeRemote() *FakeRemote {
	f := &FakeRemote{failPath: make(map[string]int)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// FailPath makes requests to path answer with status until cleared
func (f *FakeRemote) FailPath(path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPath[path] = status
}

// ClearFailures restores normal responses for every path
func (f *FakeRemote) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPath = make(map[string]int)
}

// Batches returns the batches received so far
func (f *FakeRemote) Batches() []Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Batch, len(f.batches))
	copy(out, f.batches)
	return out
}

// RecordIDs returns the IDs received on path, in arrival order
func (f *FakeRemote) RecordIDs(path string) []string {
	var ids []string
	for _, b := range f.Batches() {
		if b.Path != path {
			continue
		}
		for _, r := range b.Records {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func (f *FakeRemote) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		w.WriteHeader(http.StatusOK)
		return
	}

	f.mu.Lock()
	status, failing := f.failPath[r.URL.Path]
	f.mu.Unlock()
	if failing {
		http.Error(w, `{"success":false,"message":"ingest unavailable"}`, status)
		return
	}

	var recs []records.Record
	if err := json.NewDecoder(r.Body).Decode(&recs); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.batches = append(f.batches, Batch{
		Path:     r.URL.Path,
		DeviceID: r.Header.Get("X-Device-ID"),
		Token:    r.Header.Get("Authorization"),
		Records:  recs,
	})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"success":true}`))
}
