// Package classify assigns browsing domains to categories.
//
// Category resolution order: user override file, persisted classification,
// built-in seed table, then "Other". Newly seen domains are enqueued and
// classified in the background on a batch debounce so a burst of tab
// switches produces one storage write, not one per switch.
package classify

import (
	"sync"
	"time"

	"tabward/internal/debounce"
	"tabward/internal/domain"
	"tabward/internal/logging"
	"tabward/internal/store"
)

// BatchDelay is how long the classification queue waits for more domains
// before flushing.
const BatchDelay = 5 * time.Second

// seedTable maps well-known parent domains to categories. Deliberately
// small; anything unknown stays "Other" until the user overrides it.
var seedTable = map[string]string{
	"youtube.com":   "Video",
	"netflix.com":   "Video",
	"twitch.tv":     "Video",
	"vimeo.com":     "Video",
	"facebook.com":  "Social",
	"instagram.com": "Social",
	"twitter.com":   "Social",
	"x.com":         "Social",
	"tiktok.com":    "Social",
	"reddit.com":    "Social",
	"linkedin.com":  "Social",
	"github.com":    "Work",
	"gitlab.com":    "Work",
	"stackoverflow.com": "Work",
	"docs.google.com":   "Work",
	"wikipedia.org": "Reference",
	"nytimes.com":   "News",
	"bbc.com":       "News",
	"theguardian.com": "News",
	"amazon.com":    "Shopping",
	"ebay.com":      "Shopping",
}

// Classifier resolves and persists domain categories.
type Classifier struct {
	store *store.Store
	log   *logging.Logger

	mu        sync.Mutex
	overrides map[string]string
	queue     map[string]struct{}

	slot       *debounce.Slot
	batchDelay time.Duration
}

// New creates a Classifier backed by st.
func New(st *store.Store, log *logging.Logger) *Classifier {
	if log == nil {
		log = logging.Default()
	}
	return &Classifier{
		store:      st,
		log:        log.WithComponent("classify"),
		overrides:  make(map[string]string),
		queue:      make(map[string]struct{}),
		slot:       debounce.New(),
		batchDelay: BatchDelay,
	}
}

// SetBatchDelay overrides the batch quiet period. Call before the first
// Enqueue.
func (c *Classifier) SetBatchDelay(d time.Duration) {
	if d > 0 {
		c.batchDelay = d
	}
}

// Category returns the category for d, defaulting to "Other".
func (c *Classifier) Category(d string) string {
	c.mu.Lock()
	if cat, ok := c.lookupOverrideLocked(d); ok {
		c.mu.Unlock()
		return cat
	}
	c.mu.Unlock()

	cat, err := c.store.Category(d)
	if err != nil {
		c.log.Warn("category lookup failed", "domain", d, "error", err)
		return store.DefaultCategory
	}
	if cat != store.DefaultCategory {
		return cat
	}
	if seeded, ok := lookupSeed(d); ok {
		return seeded
	}
	return store.DefaultCategory
}

// Enqueue schedules d for background classification. The batch flushes
// after BatchDelay of queue quiet; re-enqueueing restarts the timer.
func (c *Classifier) Enqueue(d string) {
	if d == "" {
		return
	}

	c.mu.Lock()
	c.queue[d] = struct{}{}
	c.mu.Unlock()

	c.slot.Schedule(c.batchDelay, c.flushQueue)
}

// flushQueue resolves and persists everything queued so far.
func (c *Classifier) flushQueue() {
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.queue
	c.queue = make(map[string]struct{})
	c.mu.Unlock()

	resolved := make(map[string]string, len(batch))
	for d := range batch {
		c.mu.Lock()
		cat, ok := c.lookupOverrideLocked(d)
		c.mu.Unlock()
		if !ok {
			cat, ok = lookupSeed(d)
		}
		if !ok {
			cat = store.DefaultCategory
		}
		resolved[d] = cat
	}

	if err := c.store.SetCategories(resolved); err != nil {
		// Dropped batch is recoverable: the domains re-enqueue on their
		// next activation.
		c.log.Warn("classification batch failed", "count", len(resolved), "error", err)
		return
	}
	c.log.Debug("classified batch", "count", len(resolved))
}

// Flush forces any queued classifications to persist now. Used on shutdown.
func (c *Classifier) Flush() {
	c.slot.Cancel()
	c.flushQueue()
}

// lookupOverrideLocked checks the override table for d or a parent of d.
// Caller holds c.mu.
func (c *Classifier) lookupOverrideLocked(d string) (string, bool) {
	if cat, ok := c.overrides[d]; ok {
		return cat, true
	}
	for target, cat := range c.overrides {
		if domain.Matches(target, d) {
			return cat, true
		}
	}
	return "", false
}

// lookupSeed checks the seed table for d or a parent of d.
func lookupSeed(d string) (string, bool) {
	if cat, ok := seedTable[d]; ok {
		return cat, true
	}
	for target, cat := range seedTable {
		if domain.Matches(target, d) {
			return cat, true
		}
	}
	return "", false
}

// SetOverrides replaces the user override table.
func (c *Classifier) SetOverrides(overrides map[string]string) {
	normalized := make(map[string]string, len(overrides))
	for target, cat := range overrides {
		normalized[domain.Normalize(target)] = cat
	}

	c.mu.Lock()
	c.overrides = normalized
	c.mu.Unlock()
}
