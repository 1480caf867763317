package mining_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/btn-network/blockchain/foundation/blockchain/ledger"
	"github.com/btn-network/blockchain/foundation/blockchain/mining"
	"github.com/stretchr/testify/require"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeSearcher records the calls made by the engine.
type fakeSearcher struct {
	started  int
	startErr error
	jobs     []mining.Job
	requests int
	stops    int
	reports  []mining.Report
}

func (f *fakeSearcher) Start(workers int) (int, error) {
	if f.started > 0 && f.startErr != nil {
		return f.started, f.startErr
	}
	return workers, nil
}

func (f *fakeSearcher) Search(job mining.Job) { f.jobs = append(f.jobs, job) }
func (f *fakeSearcher) RequestHashCount()     { f.requests++ }
func (f *fakeSearcher) Stop()                 { f.stops++ }

func (f *fakeSearcher) Reports() []mining.Report {
	r := f.reports
	f.reports = nil
	return r
}

func newEngine(t *testing.T, perf mining.Performance, s mining.Searcher) (*mining.Engine, *ledger.Ledger) {
	t.Helper()

	now := start
	l := ledger.New(ledger.Config{Now: func() time.Time { now = now.Add(time.Millisecond); return now }})

	e, err := mining.New(mining.Config{
		Ledger:      l,
		Searcher:    s,
		Performance: perf,
		Rand:        rand.New(rand.NewPCG(7, 11)),
	})
	require.NoError(t, err)

	return e, l
}

func TestBlockSchedule(t *testing.T) {
	type table struct {
		name     string
		cores    int
		interval time.Duration
	}

	tt := []table{
		{name: "four", cores: 4, interval: 11 * time.Second},
		{name: "eight", cores: 8, interval: 7 * time.Second},
		{name: "sixteen", cores: 16, interval: 5 * time.Second},
	}

	t.Log("Given the need to produce blocks on a schedule.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen running with %d cores.", testID, tst.cores)
			{
				f := func(t *testing.T) {
					fs := fakeSearcher{}
					perf := mining.DefaultPerformance()
					perf.CPUCores = tst.cores

					e, l := newEngine(t, perf, &fs)
					e.Start(start)

					if _, mined := e.Tick(context.Background(), start.Add(tst.interval-time.Millisecond)); mined {
						t.Fatalf("\t%s\tTest %d:\tShould not mine before %v.", failed, testID, tst.interval)
					}
					t.Logf("\t%s\tTest %d:\tShould not mine before %v.", success, testID, tst.interval)

					b, mined := e.Tick(context.Background(), start.Add(tst.interval))
					if !mined {
						t.Fatalf("\t%s\tTest %d:\tShould mine at %v.", failed, testID, tst.interval)
					}
					t.Logf("\t%s\tTest %d:\tShould mine at %v.", success, testID, tst.interval)

					require.Equal(t, mining.DefaultMiner, b.Miner)
					require.Equal(t, 2, l.ChainLength())
					require.InDelta(t, ledger.DefaultMiningReward, l.Balance(mining.DefaultMiner), 1e-12)

					require.Len(t, fs.jobs, 1)
					require.True(t, strings.HasSuffix(fs.jobs[0].BlockData, b.PreviousHash))
					require.True(t, strings.HasPrefix(fs.jobs[0].BlockData, "1"))

					if _, mined := e.Tick(context.Background(), start.Add(tst.interval+time.Second)); mined {
						t.Fatalf("\t%s\tTest %d:\tShould wait a full interval for the next block.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould wait a full interval for the next block.", success, testID)
				}

				t.Run(tst.name, f)
			}
		}
	}
}

func TestHashRateSample(t *testing.T) {
	fs := fakeSearcher{
		reports: []mining.Report{
			{Worker: 0, Kind: mining.ReportHashCount, Count: 40},
			{Worker: 1, Kind: mining.ReportHashCount, Count: 60},
			{Worker: 1, Kind: mining.ReportSolution, Nonce: 12, Hash: "0abc"},
		},
	}

	e, _ := newEngine(t, mining.DefaultPerformance(), &fs)
	require.Zero(t, e.HashRate())

	e.Start(start)
	e.Tick(context.Background(), start.Add(time.Second))

	stats := e.Stats()
	require.GreaterOrEqual(t, stats.HashRate, 800.0)
	require.Less(t, stats.HashRate, 1200.0)
	require.Equal(t, stats.HashRate, float64(int(stats.HashRate)))
	require.Equal(t, 100.0, stats.WorkerHashRate)
	require.Equal(t, 1, fs.requests)
	require.Equal(t, 4, stats.WorkerCount)
	require.InDelta(t, min(100, 100*stats.HashRate/1000), stats.Efficiency, 1e-9)

	// Half the battery and full memory pressure scale the sample down.
	e.SetPerformance(mining.Performance{CPUCores: 4, BatteryLevel: 60, MemoryUsage: 1})
	e.Tick(context.Background(), start.Add(2*time.Second))
	require.Less(t, e.HashRate(), 1200*0.6*0.5)
}

func TestIntensity(t *testing.T) {
	type table struct {
		name   string
		perf   mining.Performance
		hidden bool
		pool   string
		target float64
	}

	tt := []table{
		{name: "full", perf: mining.Performance{BatteryLevel: 100}, target: 1000},
		{name: "low-battery", perf: mining.Performance{BatteryLevel: 15}, target: 300},
		{name: "half-battery", perf: mining.Performance{BatteryLevel: 40}, target: 700},
		{name: "memory", perf: mining.Performance{BatteryLevel: 100, MemoryUsage: 0.9}, target: 500},
		{name: "hidden", perf: mining.Performance{BatteryLevel: 100}, hidden: true, target: 300},
		{name: "everything", perf: mining.Performance{BatteryLevel: 15, MemoryUsage: 0.9}, hidden: true, target: 45},
		{name: "pool", perf: mining.Performance{BatteryLevel: 40, MemoryUsage: 0.9}, pool: "pool-1", target: 525},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			e, _ := newEngine(t, mining.DefaultPerformance(), &fakeSearcher{})

			e.SetHidden(tst.hidden)
			e.SetPerformance(tst.perf)
			if tst.pool != "" {
				e.JoinPool(tst.pool)
			}

			stats := e.Stats()
			if stats.TargetHashRate != tst.target {
				t.Logf("Test %s:\tgot: %g", tst.name, stats.TargetHashRate)
				t.Logf("Test %s:\texp: %g", tst.name, tst.target)
				t.Fatalf("Test %s:\tShould get back the right target hash rate.", tst.name)
			}
			require.Equal(t, tst.hidden, stats.Performance.Hidden)

			if tst.pool != "" {
				e.LeavePool()
				require.Less(t, e.Stats().TargetHashRate, tst.target)
			}
		}

		t.Run(tst.name, f)
	}
}

func TestDefaults(t *testing.T) {
	t.Log("Given the need to mine without reported performance signals.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen constructed from an empty config.", testID)
		{
			l := ledger.New(ledger.Config{})
			e, err := mining.New(mining.Config{Ledger: l, Searcher: &fakeSearcher{}})
			require.NoError(t, err)

			e.Start(start)
			e.Tick(context.Background(), start.Add(time.Second))

			stats := e.Stats()
			if stats.HashRate <= 0 {
				t.Fatalf("\t%s\tTest %d:\tShould sample a hash rate: got %g.", failed, testID, stats.HashRate)
			}
			t.Logf("\t%s\tTest %d:\tShould sample a hash rate.", success, testID)

			require.Equal(t, mining.DefaultPerformance().BatteryLevel, stats.Performance.BatteryLevel)
			require.Equal(t, 4, stats.Performance.CPUCores)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen an update leaves the battery out.", testID)
		{
			e, _ := newEngine(t, mining.Performance{BatteryLevel: 40}, &fakeSearcher{})
			e.SetPerformance(mining.Performance{MemoryUsage: 0.2})

			if got := e.Stats().Performance.BatteryLevel; got != 40 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the last battery level: got %g.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the last battery level.", success, testID)
		}
	}
}

func TestInitialTarget(t *testing.T) {
	type table struct {
		name   string
		perf   mining.Performance
		target float64
	}

	tt := []table{
		{name: "default", perf: mining.Performance{}, target: 1000},
		{name: "half-battery", perf: mining.Performance{BatteryLevel: 40}, target: 700},
		{name: "low-battery-memory", perf: mining.Performance{BatteryLevel: 10, MemoryUsage: 0.9}, target: 150},
		{name: "hidden", perf: mining.Performance{BatteryLevel: 100, Hidden: true}, target: 300},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			l := ledger.New(ledger.Config{})
			e, err := mining.New(mining.Config{
				Ledger:      l,
				Searcher:    &fakeSearcher{},
				Performance: tst.perf,
				Difficulty:  3,
			})
			require.NoError(t, err)

			stats := e.Stats()
			if stats.TargetHashRate != tst.target {
				t.Logf("Test %s:\tgot: %g", tst.name, stats.TargetHashRate)
				t.Logf("Test %s:\texp: %g", tst.name, tst.target)
				t.Fatalf("Test %s:\tShould start with the right target hash rate.", tst.name)
			}
			require.Equal(t, 3, stats.Difficulty)
		}

		t.Run(tst.name, f)
	}
}

func TestMemoryMonitor(t *testing.T) {
	t.Log("Given the need to follow the memory pressure of the host.")
	{
		usage := 0.1
		var reads int
		monitor := func() (float64, error) {
			reads++
			return usage, nil
		}

		l := ledger.New(ledger.Config{})
		e, err := mining.New(mining.Config{
			Ledger:      l,
			Searcher:    &fakeSearcher{},
			Performance: mining.DefaultPerformance(),
			Difficulty:  3,
			Rand:        rand.New(rand.NewPCG(7, 11)),
			Monitor:     monitor,
		})
		require.NoError(t, err)

		e.Start(start)

		testID := 0
		t.Logf("\tTest %d:\tWhen the first reading arrives before any sample.", testID)
		{
			e.Tick(context.Background(), start)

			stats := e.Stats()
			if stats.Difficulty != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould lower the difficulty: got %d.", failed, testID, stats.Difficulty)
			}
			t.Logf("\t%s\tTest %d:\tShould lower the difficulty.", success, testID)

			require.Equal(t, 0.1, stats.Performance.MemoryUsage)
			require.Equal(t, 1, reads)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen memory pressure halves the target.", testID)
		{
			e.Tick(context.Background(), start.Add(time.Second))
			require.Equal(t, 1, reads)

			usage = 0.9
			e.Tick(context.Background(), start.Add(5*time.Second))

			stats := e.Stats()
			if stats.Difficulty != 3 {
				t.Fatalf("\t%s\tTest %d:\tShould raise the difficulty: got %d.", failed, testID, stats.Difficulty)
			}
			t.Logf("\t%s\tTest %d:\tShould raise the difficulty.", success, testID)

			require.Equal(t, 500.0, stats.TargetHashRate)
			require.Equal(t, 2, reads)
		}

		testID = 2
		t.Logf("\tTest %d:\tWhen the next reading follows the lower samples.", testID)
		{
			e.Tick(context.Background(), start.Add(10*time.Second))

			if got := e.Stats().Difficulty; got != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould lower the difficulty again: got %d.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould lower the difficulty again.", success, testID)

			require.Equal(t, 3, reads)
		}

		testID = 3
		t.Logf("\tTest %d:\tWhen the monitor fails.", testID)
		{
			e.Stop()

			cfg := mining.Config{
				Ledger:   l,
				Searcher: &fakeSearcher{},
				Monitor:  func() (float64, error) { return 0, errors.New("no procfs") },
			}
			e, err := mining.New(cfg)
			require.NoError(t, err)

			e.Tick(context.Background(), start)
			if got := e.Stats().Performance.MemoryUsage; got != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the last usage: got %g.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the last usage.", success, testID)
		}
	}
}

func TestDifficulty(t *testing.T) {
	e, _ := newEngine(t, mining.Performance{CPUCores: 16, BatteryLevel: 100}, &fakeSearcher{})

	// An idle engine has no hash rate so the difficulty drifts down to 1.
	for range 5 {
		e.SetPerformance(mining.Performance{BatteryLevel: 100})
	}
	require.Equal(t, 1, e.Stats().Difficulty)

	// Sixteen cores sample at 4x the target so the difficulty climbs to 6.
	e.Start(start)
	e.Tick(context.Background(), start.Add(time.Second))
	for range 10 {
		e.SetPerformance(mining.Performance{BatteryLevel: 100})
	}
	require.Equal(t, 6, e.Stats().Difficulty)
}

func TestProcessUserAction(t *testing.T) {
	e, l := newEngine(t, mining.DefaultPerformance(), &fakeSearcher{})
	e.Start(start)
	e.Tick(context.Background(), start.Add(time.Second))
	sampled := e.HashRate()

	now := start.Add(1500 * time.Millisecond)
	tx, err := e.ProcessUserAction("click", now)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(tx.ID, "action_"))
	require.Equal(t, mining.RewardSender, tx.From)
	require.Equal(t, mining.DefaultMiner, tx.To)
	require.InDelta(t, 0.0005, tx.Amount, 1e-12)
	require.InDelta(t, 0.0005, l.Balance(mining.DefaultMiner), 1e-12)
	require.Empty(t, l.Pending())

	require.Equal(t, float64(int(sampled*1.5)), e.HashRate())

	// The boost is undone before the next sample once it expires.
	e.Tick(context.Background(), now.Add(2*time.Second))
	require.NotEqual(t, float64(int(sampled*1.5)), e.HashRate())

	require.Equal(t, 5.0, mining.ActionMultiplier("invite"))
	require.Equal(t, 1.0, mining.ActionMultiplier("unknown"))
}

func TestStop(t *testing.T) {
	fs := fakeSearcher{}
	e, _ := newEngine(t, mining.DefaultPerformance(), &fs)

	e.Start(start)
	e.Start(start)
	e.Tick(context.Background(), start.Add(time.Second))
	require.True(t, e.IsActive())

	e.Stop()
	e.Stop()

	require.Equal(t, 1, fs.stops)
	require.False(t, e.IsActive())

	stats := e.Stats()
	require.Zero(t, stats.HashRate)
	require.Zero(t, stats.WorkerCount)

	if _, mined := e.Tick(context.Background(), start.Add(time.Hour)); mined {
		t.Fatal("Should not mine after stop.")
	}
}

func TestWorkerStartFailure(t *testing.T) {
	fs := fakeSearcher{started: 2, startErr: errors.New("no more workers")}

	var warned bool
	now := start
	l := ledger.New(ledger.Config{Now: func() time.Time { now = now.Add(time.Millisecond); return now }})
	e, err := mining.New(mining.Config{
		Ledger:      l,
		Searcher:    &fs,
		Performance: mining.Performance{CPUCores: 8, BatteryLevel: 100},
		EvHandler: func(v string, args ...any) {
			if strings.Contains(v, "WARNING") {
				warned = true
			}
		},
	})
	require.NoError(t, err)

	e.Start(start)
	require.True(t, warned)
	require.Equal(t, 2, e.Stats().WorkerCount)

	_, mined := e.Tick(context.Background(), start.Add(7*time.Second))
	require.True(t, mined)
}

func TestSyncSearcher(t *testing.T) {
	s := mining.NewSyncSearcher(50)

	n, err := s.Start(2)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	s.Search(mining.Job{BlockData: "1" + "1700000000000" + strings.Repeat("0", 64), Difficulty: 1})

	var solution *mining.Report
	var hashes int
	for i := 0; i < 100 && solution == nil; i++ {
		s.RequestHashCount()
		for _, r := range s.Reports() {
			switch r.Kind {
			case mining.ReportHashCount:
				hashes += r.Count
			case mining.ReportSolution:
				solution = &r
			}
		}
	}

	require.NotNil(t, solution)
	require.Positive(t, hashes)
	require.Equal(t, mining.HashNonce("1"+"1700000000000"+strings.Repeat("0", 64), solution.Nonce), solution.Hash)
	require.True(t, strings.HasPrefix(solution.Hash, "0"))

	s.Stop()
	s.RequestHashCount()
	require.Empty(t, s.Reports())

	_, err = s.Start(0)
	require.Error(t, err)
}

func TestParallelSearcher(t *testing.T) {
	s := mining.NewParallelSearcher(0)

	n, err := s.Start(2)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	defer s.Stop()

	job := mining.Job{BlockData: "2" + "1700000000000" + strings.Repeat("0", 64), Difficulty: 2}
	s.Search(job)

	deadline := time.Now().Add(10 * time.Second)
	var solution *mining.Report
	for solution == nil && time.Now().Before(deadline) {
		s.RequestHashCount()
		for _, r := range s.Reports() {
			if r.Kind == mining.ReportSolution {
				solution = &r
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.NotNil(t, solution)
	require.Equal(t, mining.HashNonce(job.BlockData, solution.Nonce), solution.Hash)
	require.True(t, strings.HasPrefix(solution.Hash, "00"))

	s.Stop()
	s.Stop()
}
