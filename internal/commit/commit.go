// Package commit turns the session's live checkpoint into persisted usage
// records.
//
// The committer is the only writer of usage rows. Flush snapshots elapsed
// time and resets the checkpoint immediately; the storage write itself is
// debounced so a burst of tab switches collapses into one row. A heartbeat
// flushes periodically while a focused domain is active, bounding how much
// unpersisted time a crash can lose.
package commit

import (
	"sync"
	"time"

	"tabward/internal/clock"
	"tabward/internal/debounce"
	"tabward/internal/logging"
	"tabward/internal/metrics"
	"tabward/internal/session"
	"tabward/internal/store"
)

const (
	// WriteDebounce is how long a flushed increment waits for more elapsed
	// time before hitting storage.
	WriteDebounce = 500 * time.Millisecond

	// HeartbeatInterval is how often accrued time on a focused active
	// domain is flushed.
	HeartbeatInterval = 3 * time.Second
)

// Committer accumulates elapsed-time increments and writes them to the
// store on a debounce.
type Committer struct {
	state *session.State
	store *store.Store
	clock clock.Clock
	log   *logging.Logger

	// onCommit runs after each successful storage write, with the domain
	// that was written. The daemon wires the enforcement re-check here.
	onCommit func(d string)

	mu             sync.Mutex
	pendingDomain  string
	pendingSeconds int64

	slot          *debounce.Slot
	writeDebounce time.Duration

	heartbeat time.Duration
	started   bool
	quit      chan struct{}
	done      chan struct{}
}

// Options configures a Committer.
type Options struct {
	State    *session.State
	Store    *store.Store
	Clock    clock.Clock
	Log      *logging.Logger
	OnCommit func(d string)

	// WriteDebounce and Heartbeat default to the package constants when
	// zero.
	WriteDebounce time.Duration
	Heartbeat     time.Duration
}

// New builds a Committer. Call StartHeartbeat to begin periodic flushing.
func New(opts Options) *Committer {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Log == nil {
		opts.Log = logging.Default()
	}
	if opts.WriteDebounce <= 0 {
		opts.WriteDebounce = WriteDebounce
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = HeartbeatInterval
	}
	if opts.OnCommit == nil {
		opts.OnCommit = func(string) {}
	}
	return &Committer{
		state:         opts.State,
		store:         opts.Store,
		clock:         opts.Clock,
		log:           opts.Log.WithComponent("commit"),
		onCommit:      opts.OnCommit,
		slot:          debounce.New(),
		writeDebounce: opts.WriteDebounce,
		heartbeat:     opts.Heartbeat,
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Flush snapshots the elapsed time since the last checkpoint, resets the
// checkpoint, and schedules a debounced write. Safe to call when nothing
// is being tracked.
func (c *Committer) Flush() {
	d, at, ok := c.state.Checkpoint()
	if !ok {
		return
	}

	now := c.clock.Now()
	c.state.ResetCheckpoint(now)

	elapsed := now.Sub(at)
	if elapsed < 0 {
		// Wall clock went backwards (NTP step, suspend). The interval is
		// unmeasurable; discard it rather than corrupt the ledger.
		c.log.Warn("negative elapsed interval discarded", "domain", d, "elapsed", elapsed)
		return
	}

	secs := int64(elapsed / time.Second)
	if secs <= 0 {
		return
	}

	c.mu.Lock()
	if c.pendingDomain != "" && c.pendingDomain != d {
		// Domain changed under a pending increment. Write the old one out
		// now so increments never mix domains.
		prev, prevSecs := c.pendingDomain, c.pendingSeconds
		c.pendingDomain, c.pendingSeconds = "", 0
		c.mu.Unlock()
		c.slot.Cancel()
		c.write(prev, prevSecs)
		c.mu.Lock()
	}
	c.pendingDomain = d
	c.pendingSeconds += secs
	c.mu.Unlock()

	c.slot.Schedule(c.writeDebounce, c.commitPending)
}

// ForceFlush flushes and writes synchronously, bypassing the debounce.
// Used on shutdown and before fast-path blocking so usage is durable.
func (c *Committer) ForceFlush() {
	c.Flush()
	c.slot.Cancel()
	c.commitPending()
}

// PendingSeconds reports the accumulated but unwritten increment. Used by
// the status surface.
func (c *Committer) PendingSeconds() (string, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingDomain, c.pendingSeconds
}

// commitPending writes the accumulated increment, if any.
func (c *Committer) commitPending() {
	c.mu.Lock()
	d, secs := c.pendingDomain, c.pendingSeconds
	c.pendingDomain, c.pendingSeconds = "", 0
	c.mu.Unlock()

	if d == "" || secs <= 0 {
		return
	}
	c.write(d, secs)
}

func (c *Committer) write(d string, secs int64) {
	now := c.clock.Now()
	if err := c.store.AppendUsage(d, secs, store.DateKey(now)); err != nil {
		// The increment is lost but the session keeps accruing; the next
		// heartbeat retries with fresh time.
		metrics.StorageErrors.Inc()
		c.log.Error("usage write failed", "domain", d, "seconds", secs, "error", err)
		return
	}
	metrics.UsageCommits.Inc()
	metrics.SecondsCommitted.Add(uint64(secs))
	c.log.Debug("usage committed", "domain", d, "seconds", secs)
	c.onCommit(d)
}

// StartHeartbeat flushes every heartbeat interval while the window is
// focused and a domain is active.
func (c *Committer) StartHeartbeat() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if c.state.WindowFocused() && c.state.ActiveDomain() != "" {
					c.Flush()
				}
			case <-c.quit:
				return
			}
		}
	}()
}

// Stop halts the heartbeat and writes any pending increment.
func (c *Committer) Stop() {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	if started {
		close(c.quit)
		<-c.done
	}
	c.ForceFlush()
}
