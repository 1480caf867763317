// Package mining implements the adaptive mining loop. The engine produces
// blocks on a schedule derived from the device performance, samples a
// displayed hash rate, tunes its difficulty and credits immediate rewards
// for user actions. Time only advances through Tick.
package mining

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/btn-network/blockchain/foundation/blockchain/ledger"
	"github.com/google/uuid"
)

// Set of values that drive the mining schedule and rewards.
const (
	BaseHashRate    = 1000
	BaseReward      = 0.001
	ActionReward    = BaseReward * 0.5
	RewardSender    = "network"
	DefaultMiner    = "user"
	maxWorkers      = 4
	maxDifficulty   = 6
	minDifficulty   = 1
	sampleInterval  = time.Second
	monitorInterval = 5 * time.Second
	boostDuration   = 2 * time.Second
	boostFactor     = 1.5
	poolFactor      = 1.5
)

// actionMultipliers holds the per action multiplier table. The fixed action
// reward does not consult it.
var actionMultipliers = map[string]float64{
	"click":  1.1,
	"share":  2.0,
	"invite": 5.0,
	"visit":  1.5,
	"form":   1.3,
	"scroll": 1.05,
	"hover":  1.02,
	"focus":  1.08,
}

// Ledger represents the ledger behavior the engine needs.
type Ledger interface {
	AddBlock(ctx context.Context, miner string) (ledger.Block, error)
	Credit(tx ledger.Transaction) error
}

// Performance is a snapshot of the device signals that drive the intensity
// policy. MemoryUsage is a fraction in [0,1] and BatteryLevel a percentage.
// A zero BatteryLevel is treated as not reported.
type Performance struct {
	CPUCores     int     `json:"cpuCores"`
	MemoryUsage  float64 `json:"memoryUsage"`
	BatteryLevel float64 `json:"batteryLevel"`
	ThermalState string  `json:"thermalState"`
	Hidden       bool    `json:"isHidden"`
}

// DefaultPerformance returns the performance assumed before any signal is
// reported.
func DefaultPerformance() Performance {
	return Performance{
		CPUCores:     4,
		MemoryUsage:  0,
		BatteryLevel: 100,
		ThermalState: "normal",
	}
}

// Stats represents the public mining figures.
type Stats struct {
	HashRate       float64     `json:"hashRate"`
	Difficulty     int         `json:"difficulty"`
	TargetHashRate float64     `json:"targetHashRate"`
	WorkerCount    int         `json:"workerCount"`
	Performance    Performance `json:"performance"`
	Efficiency     float64     `json:"efficiency"`
	Active         bool        `json:"active"`
	WorkerHashRate float64     `json:"workerHashRate"`
	Pool           string      `json:"pool,omitempty"`
}

// Config represents the configuration required to construct an engine.
type Config struct {
	Ledger      Ledger
	Miner       string
	Searcher    Searcher
	Performance Performance
	Difficulty  int
	Rand        *rand.Rand
	EvHandler   func(v string, args ...any)

	// Monitor reports the memory usage as a fraction. When set it is read
	// every five seconds and the intensity policy is recomputed.
	Monitor func() (float64, error)
}

// Engine manages the mining state. It is Idle until Start and goes back to
// Idle on Stop.
type Engine struct {
	mu        sync.Mutex
	ledger    Ledger
	miner     string
	searcher  Searcher
	monitor   func() (float64, error)
	rng       *rand.Rand
	evHandler func(v string, args ...any)

	active         bool
	perf           Performance
	pool           string
	hashRate       float64
	workerHashRate float64
	target         float64
	difficulty     int
	workerCount    int

	nextBlock   time.Time
	nextSample  time.Time
	nextMonitor time.Time

	boosted      bool
	boostUntil   time.Time
	boostRestore float64
}

// New constructs an idle mining engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("mining engine requires a ledger")
	}

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Miner == "" {
		cfg.Miner = DefaultMiner
	}
	if cfg.Searcher == nil {
		cfg.Searcher = NewSyncSearcher(DefaultBatch)
	}
	if cfg.Performance.CPUCores <= 0 {
		cfg.Performance.CPUCores = DefaultPerformance().CPUCores
	}
	if cfg.Performance.BatteryLevel <= 0 {
		cfg.Performance.BatteryLevel = DefaultPerformance().BatteryLevel
	}
	if cfg.Performance.ThermalState == "" {
		cfg.Performance.ThermalState = DefaultPerformance().ThermalState
	}
	if cfg.Difficulty <= 0 {
		cfg.Difficulty = ledger.DefaultDifficulty
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	e := Engine{
		ledger:     cfg.Ledger,
		miner:      cfg.Miner,
		searcher:   cfg.Searcher,
		monitor:    cfg.Monitor,
		rng:        cfg.Rand,
		evHandler:  ev,
		perf:       cfg.Performance,
		difficulty: cfg.Difficulty,
	}

	// The configured difficulty stands until the first signal arrives.
	e.retarget()

	return &e, nil
}

// Start moves the engine to Active, starts the search workers and arms both
// schedules. Starting an active engine does nothing.
func (e *Engine) Start(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active {
		return
	}

	e.active = true

	workers := min(e.perf.CPUCores, maxWorkers)
	started, err := e.searcher.Start(workers)
	if err != nil {
		e.evHandler("mining: Start: WARNING: started %d of %d workers: %s", started, workers, err)
	}
	e.workerCount = max(started, 0)

	e.nextSample = now.Add(sampleInterval)
	e.nextBlock = now.Add(e.blockInterval())

	e.evHandler("mining: Start: workers[%d]: blockInterval[%v]: target[%g]", e.workerCount, e.blockInterval(), e.target)
}

// Stop moves the engine to Idle, terminates the workers and clears both
// schedules. It is safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active {
		return
	}

	e.searcher.Stop()

	e.active = false
	e.workerCount = 0
	e.hashRate = 0
	e.workerHashRate = 0
	e.boosted = false
	e.nextBlock = time.Time{}
	e.nextSample = time.Time{}

	e.evHandler("mining: Stop: stopped")
}

// Tick runs every task that is due at now. The memory monitor runs whether
// or not the engine is mining. A restored boost is applied next, then the
// hash rate sample and then block production. The mined block is returned
// when one was produced.
func (e *Engine) Tick(ctx context.Context, now time.Time) (ledger.Block, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.monitor != nil && !now.Before(e.nextMonitor) {
		e.sampleMemory()
		e.nextMonitor = now.Add(monitorInterval)
	}

	if !e.active {
		return ledger.Block{}, false
	}

	if e.boosted && !now.Before(e.boostUntil) {
		e.hashRate = e.boostRestore
		e.boosted = false
	}

	if !now.Before(e.nextSample) {
		e.sampleHashRate()
		e.nextSample = now.Add(sampleInterval)
	}

	if now.Before(e.nextBlock) {
		return ledger.Block{}, false
	}
	e.nextBlock = now.Add(e.blockInterval())

	block, err := e.ledger.AddBlock(ctx, e.miner)
	if err != nil {
		e.evHandler("mining: Tick: ERROR: mining block: %s", err)
		return ledger.Block{}, false
	}

	e.searcher.Search(Job{
		BlockData:  fmt.Sprintf("%d%d%s", block.Index, block.Timestamp, block.PreviousHash),
		Difficulty: e.difficulty,
	})

	e.evHandler("mining: Tick: mined blk[%d]: reward[%g]: difficulty[%d]", block.Index, block.Reward, e.difficulty)

	return block, true
}

// =============================================================================

// SetPerformance replaces the performance snapshot and recomputes the
// intensity policy. The hidden flag is kept as is.
func (e *Engine) SetPerformance(perf Performance) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if perf.CPUCores <= 0 {
		perf.CPUCores = e.perf.CPUCores
	}
	if perf.BatteryLevel <= 0 {
		perf.BatteryLevel = e.perf.BatteryLevel
	}
	if perf.ThermalState == "" {
		perf.ThermalState = e.perf.ThermalState
	}
	perf.Hidden = e.perf.Hidden

	e.perf = perf
	e.adjustIntensity()
}

// SetHidden records whether the node is running in the background and
// recomputes the intensity policy.
func (e *Engine) SetHidden(hidden bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.perf.Hidden = hidden
	e.adjustIntensity()
}

// JoinPool joins the named mining pool, which raises the target hash rate.
func (e *Engine) JoinPool(poolID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pool = poolID
	e.adjustIntensity()

	e.evHandler("mining: JoinPool: pool[%s]: target[%g]", poolID, e.target)
}

// LeavePool leaves the current mining pool.
func (e *Engine) LeavePool() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.evHandler("mining: LeavePool: pool[%s]", e.pool)

	e.pool = ""
	e.adjustIntensity()
}

// ProcessUserAction credits the fixed action reward to the miner and boosts
// the displayed hash rate for a short time. The reward is applied directly,
// it never enters the pending pool.
func (e *Engine) ProcessUserAction(action string, now time.Time) (ledger.Transaction, error) {
	tx := ledger.Transaction{
		ID:        fmt.Sprintf("action_%d_%s", now.UnixMilli(), uuid.NewString()),
		From:      RewardSender,
		To:        e.miner,
		Amount:    ActionReward,
		Timestamp: now.UnixMilli(),
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ledger.Credit(tx); err != nil {
		return ledger.Transaction{}, fmt.Errorf("crediting action %s: %w", action, err)
	}

	if !e.boosted {
		e.boostRestore = e.hashRate
	}
	e.boosted = true
	e.boostUntil = now.Add(boostDuration)
	e.hashRate = math.Floor(e.hashRate * boostFactor)

	e.evHandler("mining: ProcessUserAction: action[%s]: reward[%g]", action, tx.Amount)

	return tx, nil
}

// ActionMultiplier returns the multiplier registered for the action, or 1.
func ActionMultiplier(action string) float64 {
	if m, exists := actionMultipliers[action]; exists {
		return m
	}
	return 1.0
}

// =============================================================================

// Stats returns the public mining figures.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	var efficiency float64
	if e.target > 0 {
		efficiency = math.Min(100, 100*e.hashRate/e.target)
	}

	return Stats{
		HashRate:       e.hashRate,
		Difficulty:     e.difficulty,
		TargetHashRate: e.target,
		WorkerCount:    e.workerCount,
		Performance:    e.perf,
		Efficiency:     efficiency,
		Active:         e.active,
		WorkerHashRate: e.workerHashRate,
		Pool:           e.pool,
	}
}

// HashRate returns the displayed hash rate.
func (e *Engine) HashRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.hashRate
}

// IsActive reports whether the engine is mining.
func (e *Engine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.active
}

// Miner returns the address credited by the engine.
func (e *Engine) Miner() string {
	return e.miner
}

// =============================================================================

// blockInterval returns the block production interval for the current core
// count.
func (e *Engine) blockInterval() time.Duration {
	return max(5*time.Second, 15*time.Second-time.Duration(e.perf.CPUCores)*time.Second)
}

// sampleHashRate folds the worker reports and recomputes the displayed hash
// rate from the target, a random jitter and the device factors.
func (e *Engine) sampleHashRate() {
	var hashes int
	for _, r := range e.searcher.Reports() {
		switch r.Kind {
		case ReportSolution:
			e.evHandler("mining: sample: worker[%d]: solution: nonce[%d]: hash[%s]", r.Worker, r.Nonce, r.Hash)
		case ReportHashCount:
			hashes += r.Count
		}
	}
	e.workerHashRate = float64(hashes) / sampleInterval.Seconds()

	e.searcher.RequestHashCount()

	base := e.target*0.8 + e.rng.Float64()*e.target*0.4
	cpu := float64(e.perf.CPUCores) / 4
	battery := e.perf.BatteryLevel / 100
	memory := 1 - e.perf.MemoryUsage*0.5

	e.hashRate = math.Floor(base * cpu * battery * memory)
}

// sampleMemory reads the memory usage from the monitor and recomputes the
// intensity policy. A failed read keeps the last reported usage.
func (e *Engine) sampleMemory() {
	usage, err := e.monitor()
	if err != nil {
		e.evHandler("mining: monitor: WARNING: reading memory usage: %s", err)
		return
	}

	e.perf.MemoryUsage = math.Min(math.Max(usage, 0), 1)
	e.adjustIntensity()
}

// adjustIntensity recomputes the target hash rate and tunes the difficulty.
func (e *Engine) adjustIntensity() {
	e.retarget()

	switch {
	case e.hashRate > e.target*1.2:
		e.difficulty = min(e.difficulty+1, maxDifficulty)
	case e.hashRate < e.target*0.8:
		e.difficulty = max(e.difficulty-1, minDifficulty)
	}
}

// retarget derives the target hash rate from the device signals and the
// pool membership.
func (e *Engine) retarget() {
	factor := 1.0

	switch {
	case e.perf.BatteryLevel < 20:
		factor *= 0.3
	case e.perf.BatteryLevel < 50:
		factor *= 0.7
	}

	if e.perf.MemoryUsage > 0.8 {
		factor *= 0.5
	}

	if e.perf.Hidden {
		factor *= 0.3
	}

	e.target = math.Floor(BaseHashRate * factor)
	if e.pool != "" {
		e.target = math.Floor(e.target * poolFactor)
	}
}
