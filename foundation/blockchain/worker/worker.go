// Package worker implements the clock and the inbound message processing
// for the node.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/btn-network/blockchain/foundation/blockchain/network"
	"github.com/btn-network/blockchain/foundation/blockchain/state"
)

// DefaultTickInterval represents the interval the clock drives the node
// when no interval is configured.
const DefaultTickInterval = time.Second

// maxInboundMessages represents the max number of inbound messages that can
// be queued before new messages are dropped. To keep this simple, a buffered
// channel of this arbitrary number is being used.
const maxInboundMessages = 100

// =============================================================================

// Worker manages the clock and the inbound message queue of the node.
type Worker struct {
	state     *state.State
	wg        sync.WaitGroup
	ticker    *time.Ticker
	shut      chan struct{}
	inbound   chan network.Message
	evHandler state.EventHandler
}

// Run creates a worker, registers the worker with the state package, and
// starts up all the background processes.
func Run(st *state.State, tickInterval time.Duration, evHandler state.EventHandler) {
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}

	w := Worker{
		state:     st,
		ticker:    time.NewTicker(tickInterval),
		shut:      make(chan struct{}),
		inbound:   make(chan network.Message, maxInboundMessages),
		evHandler: evHandler,
	}

	// Register this worker with the state package.
	st.Worker = &w

	// Load the set of operations we need to run.
	operations := []func(){
		w.clockOperations,
		w.inboundOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for range g {
		<-hasStarted
	}
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutines performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: stop ticker")
	w.ticker.Stop()

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// SignalMessage queues an inbound message for processing. If
// maxInboundMessages messages are already queued the message is dropped.
func (w *Worker) SignalMessage(msg network.Message) {
	select {
	case w.inbound <- msg:
	default:
		w.evHandler("worker: SignalMessage: WARNING: queue full, message %s dropped", msg.ID)
	}
}

// =============================================================================

// clockOperations drives the node on every tick of the ticker.
func (w *Worker) clockOperations() {
	w.evHandler("worker: clockOperations: G started")
	defer w.evHandler("worker: clockOperations: G completed")

	// The context is canceled on shutdown so a block being mined is
	// abandoned.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-w.shut
		cancel()
	}()

	for {
		select {
		case now := <-w.ticker.C:
			if !w.isShutdown() {
				w.state.Tick(ctx, now)
			}
		case <-w.shut:
			w.evHandler("worker: clockOperations: received shut signal")
			return
		}
	}
}

// inboundOperations hands queued inbound messages to the state.
func (w *Worker) inboundOperations() {
	w.evHandler("worker: inboundOperations: G started")
	defer w.evHandler("worker: inboundOperations: G completed")

	for {
		select {
		case msg := <-w.inbound:
			if !w.isShutdown() {
				if err := w.state.HandleMessage(msg); err != nil {
					w.evHandler("worker: inboundOperations: ERROR: message %s: %s", msg.ID, err)
				}
			}
		case <-w.shut:
			w.evHandler("worker: inboundOperations: received shut signal")
			return
		}
	}
}

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
