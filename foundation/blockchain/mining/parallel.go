package mining

import (
	"errors"
	"math/rand/v2"
	"sync"

	"go.uber.org/ratelimit"
)

// maxReports is the number of reports buffered before workers start to
// drop them.
const maxReports = 256

type commandKind int

const (
	cmdStart commandKind = iota
	cmdHashCount
)

type command struct {
	kind commandKind
	job  Job
}

// ParallelSearcher runs every worker in its own goroutine. Workers receive
// commands over a bounded channel and send reports over a bounded channel
// that is drained by Reports.
type ParallelSearcher struct {
	rate    int
	mu      sync.Mutex
	wg      sync.WaitGroup
	cmds    []chan command
	reports chan Report
}

// NewParallelSearcher constructs a searcher whose workers together compute
// at most rate hashes per second. A rate of zero leaves them unpaced.
func NewParallelSearcher(rate int) *ParallelSearcher {
	return &ParallelSearcher{
		rate: rate,
	}
}

// Start launches the specified number of worker goroutines. Any workers from
// a previous start are stopped first.
func (ps *ParallelSearcher) Start(workers int) (int, error) {
	if workers <= 0 {
		return 0, errors.New("no workers requested")
	}

	ps.Stop()

	ps.mu.Lock()
	defer ps.mu.Unlock()

	reports := make(chan Report, maxReports)
	ps.reports = reports
	ps.cmds = make([]chan command, workers)

	ps.wg.Add(workers)
	for i := range workers {
		limiter := ratelimit.NewUnlimited()
		if ps.rate > 0 {
			limiter = ratelimit.New(max(ps.rate/workers, 1))
		}

		cmds := make(chan command, 1)
		ps.cmds[i] = cmds

		go func() {
			defer ps.wg.Done()
			ps.work(i, cmds, reports, limiter)
		}()
	}

	return workers, nil
}

// Search hands the job to every worker.
func (ps *ParallelSearcher) Search(job Job) {
	ps.send(command{kind: cmdStart, job: job})
}

// RequestHashCount asks every worker to report and reset its hash count.
func (ps *ParallelSearcher) RequestHashCount() {
	ps.send(command{kind: cmdHashCount})
}

// Reports drains the reports sent since the last call.
func (ps *ParallelSearcher) Reports() []Report {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	var reports []Report
	for {
		select {
		case r := <-ps.reports:
			reports = append(reports, r)
		default:
			return reports
		}
	}
}

// Stop terminates every worker and waits for the goroutines to return. It is
// safe to call more than once.
func (ps *ParallelSearcher) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	for _, ch := range ps.cmds {
		close(ch)
	}
	ps.cmds = nil

	ps.wg.Wait()
}

func (ps *ParallelSearcher) send(cmd command) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	for _, ch := range ps.cmds {
		ch <- cmd
	}
}

// work is the worker loop. It hashes while it has an unsolved job and
// checks for commands between every attempt.
func (ps *ParallelSearcher) work(id int, cmds <-chan command, reports chan<- Report, limiter ratelimit.Limiter) {
	var job *Job
	var nonce uint64
	var count int

	report := func(r Report) {
		select {
		case reports <- r:
		default:
		}
	}

	handle := func(cmd command, ok bool) bool {
		if !ok {
			return false
		}

		switch cmd.kind {
		case cmdStart:
			job = &cmd.job
			nonce = rand.Uint64N(1_000_000)
			count = 0
		case cmdHashCount:
			report(Report{Worker: id, Kind: ReportHashCount, Count: count})
			count = 0
		}

		return true
	}

	for {
		if job == nil {
			cmd, ok := <-cmds
			if !handle(cmd, ok) {
				return
			}
			continue
		}

		select {
		case cmd, ok := <-cmds:
			if !handle(cmd, ok) {
				return
			}

		default:
			limiter.Take()

			hash := HashNonce(job.BlockData, nonce)
			count++

			if isSolved(hash, job.Difficulty) {
				report(Report{Worker: id, Kind: ReportSolution, Nonce: nonce, Hash: hash, Count: count})
				job = nil
				continue
			}
			nonce++
		}
	}
}
