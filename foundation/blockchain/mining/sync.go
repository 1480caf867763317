package mining

import (
	"errors"
	"sync"
)

// DefaultBatch is the number of hashes each worker of a SyncSearcher
// computes per hash count request.
const DefaultBatch = 100

// SyncSearcher is the single threaded reference searcher. Work only happens
// inside RequestHashCount, a fixed batch per worker, so results are fully
// deterministic.
type SyncSearcher struct {
	mu      sync.Mutex
	batch   int
	workers []syncWorker
	reports []Report
}

type syncWorker struct {
	job    *Job
	nonce  uint64
	solved bool
}

// NewSyncSearcher constructs a reference searcher that computes batch hashes
// per worker on every hash count request.
func NewSyncSearcher(batch int) *SyncSearcher {
	if batch <= 0 {
		batch = DefaultBatch
	}

	return &SyncSearcher{
		batch: batch,
	}
}

// Start creates the specified number of workers.
func (s *SyncSearcher) Start(workers int) (int, error) {
	if workers <= 0 {
		return 0, errors.New("no workers requested")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.workers = make([]syncWorker, workers)
	s.reports = nil

	return workers, nil
}

// Search hands the job to every worker. Each worker starts from a nonce
// offset by its position so the workers don't overlap.
func (s *SyncSearcher) Search(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.workers {
		s.workers[i] = syncWorker{
			job:   &job,
			nonce: uint64(i) * 1_000_000,
		}
	}
}

// RequestHashCount runs one batch on every worker with an unsolved job and
// queues the reports.
func (s *SyncSearcher) RequestHashCount() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.workers {
		w := &s.workers[i]

		var count int
		for w.job != nil && !w.solved && count < s.batch {
			hash := HashNonce(w.job.BlockData, w.nonce)
			count++

			if isSolved(hash, w.job.Difficulty) {
				w.solved = true
				s.reports = append(s.reports, Report{Worker: i, Kind: ReportSolution, Nonce: w.nonce, Hash: hash, Count: count})
				break
			}
			w.nonce++
		}

		s.reports = append(s.reports, Report{Worker: i, Kind: ReportHashCount, Count: count})
	}
}

// Reports drains the queued reports.
func (s *SyncSearcher) Reports() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	reports := s.reports
	s.reports = nil

	return reports
}

// Stop terminates every worker.
func (s *SyncSearcher) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.workers = nil
	s.reports = nil
}
