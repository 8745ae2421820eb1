package sync

import (
	"sync"
	"sync/atomic"
)

// maxRecordedErrors caps the diagnostic error slice so a long watch-mode run
// cannot grow it without bound; the atomic counters below remain accurate
// regardless of the cap.
const maxRecordedErrors = 1000

// RunStats is the shared, concurrency-safe counter set a WorkerPool updates
// as actions complete. Counters are atomics; the error/conflict slices are
// guarded by a mutex, mirroring the split the teacher's WorkerPool uses
// between its atomic succeeded/failed fields and its mutex-guarded errors
// slice.
type RunStats struct {
	Created              atomic.Int64
	Updated              atomic.Int64
	Skipped              atomic.Int64
	Deleted              atomic.Int64
	BytesTransferred     atomic.Int64
	FilesVerified        atomic.Int64
	VerificationFailures atomic.Int64
	DroppedErrors        atomic.Int64

	mu     sync.Mutex
	errors []error
}

// RecordError appends err to the diagnostic list, dropping it (and counting
// the drop) once the list reaches maxRecordedErrors.
func (s *RunStats) RecordError(err error) {
	if err == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.errors) >= maxRecordedErrors {
		s.DroppedErrors.Add(1)
		return
	}

	s.errors = append(s.errors, err)
}

// Errors returns a copy of the recorded errors.
func (s *RunStats) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]error, len(s.errors))
	copy(out, s.errors)

	return out
}

// Snapshot captures a point-in-time, immutable copy of the counters for
// reporting (e.g. the NDJSON summary event).
func (s *RunStats) Snapshot() Stats {
	return Stats{
		Created:              s.Created.Load(),
		Updated:              s.Updated.Load(),
		Skipped:              s.Skipped.Load(),
		Deleted:              s.Deleted.Load(),
		BytesTransferred:     s.BytesTransferred.Load(),
		FilesVerified:        s.FilesVerified.Load(),
		VerificationFailures: s.VerificationFailures.Load(),
	}
}
