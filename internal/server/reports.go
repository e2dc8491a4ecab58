package server

import (
	"sync"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-ingest/constants"
	"github.com/joseph-ayodele/receipts-ingest/internal/entity"
)

const defaultReportCapacity = 10000

// ReportStore keeps the latest report per submission in memory. When full,
// the oldest submission is forgotten.
type ReportStore struct {
	mu       sync.RWMutex
	capacity int
	reports  map[uuid.UUID]entity.SubmissionReport
	order    []uuid.UUID
}

func NewReportStore(capacity int) *ReportStore {
	if capacity <= 0 {
		capacity = defaultReportCapacity
	}
	return &ReportStore{capacity: capacity, reports: make(map[uuid.UUID]entity.SubmissionReport)}
}

// Record stores r. A terminal report is never replaced by a pending or
// queued one, so a late QUEUED update cannot hide a finished result.
func (s *ReportStore) Record(r entity.SubmissionReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.reports[r.SubmissionID]; ok {
		if terminal(cur.Status) && !terminal(r.Status) {
			return
		}
		s.reports[r.SubmissionID] = r
		return
	}
	s.insertLocked(r)
}

// Pending counts one more photo for a submission that is still collecting.
func (s *ReportStore) Pending(id uuid.UUID, submitter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.reports[id]
	if !ok {
		s.insertLocked(entity.SubmissionReport{
			SubmissionID: id,
			Submitter:    submitter,
			Status:       constants.SubmissionPending,
			Photos:       1,
		})
		return
	}
	if cur.Status == constants.SubmissionPending {
		cur.Photos++
		s.reports[id] = cur
	}
}

func (s *ReportStore) Get(id uuid.UUID) (entity.SubmissionReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	return r, ok
}

func (s *ReportStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}

func (s *ReportStore) insertLocked(r entity.SubmissionReport) {
	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.reports, oldest)
	}
	s.reports[r.SubmissionID] = r
	s.order = append(s.order, r.SubmissionID)
}

func terminal(st constants.SubmissionStatus) bool {
	switch st {
	case constants.SubmissionPersisted, constants.SubmissionPartial, constants.SubmissionFailed:
		return true
	}
	return false
}
