// Package rcache implements the read-through cache that sits in front of
// the shard files: an approximately-LRU ordered list of bin indices and a
// map of their decoded contents, refreshed on a fixed cadence from an
// injected loader.
//
// Per the spec's design note, "objectIsBusy" is not a polled boolean flag:
// it is a real sync.Mutex, held for the full critical section of every
// get/update/refresh so the three are genuinely mutually exclusive on one
// Cache instance.
package rcache

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"
)

// Snapshot is the decoded contents of one shard file (on-disk key ->
// payload), held by value so the cache never aliases engine-internal
// state.
type Snapshot map[string]string

// Loader re-reads a bin's shard contents for cache refresh.
type Loader func(bin int) (Snapshot, error)

// Cache is the bounded, approximately-LRU read-through cache of bin
// contents described by the spec: an ordered list L of bin indices (head =
// most recent) and a map M of their snapshots.
type Cache struct {
	mu sync.Mutex // the spec's "objectIsBusy", held for get/update/refresh

	order []int
	data  map[int]Snapshot
	fp    map[int]uint64 // xxhash fingerprint of each cached snapshot

	maxSize     int
	sidecarPath string

	loader      Loader
	updateCycle time.Duration

	sf       singleflight.Group
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	log hclog.Logger
}

// Config configures a Cache.
type Config struct {
	// MaxSize bounds |L|; the tail is evicted once it is exceeded.
	MaxSize int
	// SidecarPath is the *.cache sidecar file populated at startup and
	// rewritten after every refresh pass.
	SidecarPath string
	// UpdateCycle is the background refresh interval. Zero disables the
	// background refresher (callers must invoke Refresh explicitly).
	UpdateCycle time.Duration
	// Loader re-reads a bin's shard contents for the refresh pass.
	Loader Loader
	Logger hclog.Logger
}

// New constructs a Cache and loads its sidecar file, if any.
func New(cfg Config) (*Cache, error) {
	if cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("rcache: MaxSize must be > 0, got %d", cfg.MaxSize)
	}
	log := cfg.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	c := &Cache{
		data:        make(map[int]Snapshot),
		fp:          make(map[int]uint64),
		maxSize:     cfg.MaxSize,
		sidecarPath: cfg.SidecarPath,
		loader:      cfg.Loader,
		updateCycle: cfg.UpdateCycle,
		stopCh:      make(chan struct{}),
		log:         log.Named("cache"),
	}
	c.order = readSidecar(c.sidecarPath, c.log)
	if len(c.order) > c.maxSize {
		c.order = c.order[:c.maxSize]
	}
	return c, nil
}

// Start launches the background refresh goroutine, if UpdateCycle > 0.
func (c *Cache) Start() {
	if c.updateCycle <= 0 {
		return
	}
	c.wg.Add(1)
	go c.refreshLoop()
}

// Close stops the background refresher, waiting up to the spec's 60-second
// drain timeout.
func (c *Cache) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(60 * time.Second):
		return fmt.Errorf("rcache: background refresher did not stop within 60s")
	}
}

// Get returns a copy of the cached snapshot for bin, promoting it one
// position toward the head on a hit. ok is false when bin is not present.
func (c *Cache) Get(bin int) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexOf(bin)
	if idx < 0 {
		return nil, false
	}
	if idx > 0 {
		c.order[idx-1], c.order[idx] = c.order[idx], c.order[idx-1]
	}
	return cloneSnapshot(c.data[bin]), true
}

// Update merges newEntries into bin's cached snapshot if present, or
// inserts a fresh snapshot at the middle position, evicting the tail if
// the cache then exceeds its bound. Use this after an operation that only
// adds or overwrites entries (e.g. sync flushing staged sets); it never
// removes a key already in the cached snapshot.
func (c *Cache) Update(bin int, newEntries Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx := c.indexOf(bin); idx >= 0 {
		existing := c.data[bin]
		if existing == nil {
			existing = make(Snapshot, len(newEntries))
		}
		for k, v := range newEntries {
			existing[k] = v
		}
		c.data[bin] = existing
		c.fp[bin] = fingerprint(existing)
		return
	}
	c.insertNew(bin, newEntries)
}

// Replace installs data as bin's authoritative cached snapshot, discarding
// whatever was cached before -- including keys no longer present. Use this
// after an operation that can delete entries from a bin (e.g. remove),
// where Update's merge would leave ghost entries behind.
func (c *Cache) Replace(bin int, data Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx := c.indexOf(bin); idx >= 0 {
		c.data[bin] = cloneSnapshot(data)
		c.fp[bin] = fingerprint(data)
		return
	}
	c.insertNew(bin, data)
}

// insertNew inserts bin's snapshot at the middle position of the order
// list, evicting the tail if the cache then exceeds its bound. Callers
// must hold c.mu and have already confirmed bin is not present.
func (c *Cache) insertNew(bin int, data Snapshot) {
	mid := len(c.order) / 2
	c.order = append(c.order, 0)
	copy(c.order[mid+1:], c.order[mid:])
	c.order[mid] = bin
	c.data[bin] = cloneSnapshot(data)
	c.fp[bin] = fingerprint(data)

	if len(c.order) > c.maxSize {
		tail := c.order[len(c.order)-1]
		c.order = c.order[:len(c.order)-1]
		delete(c.data, tail)
		delete(c.fp, tail)
	}
}

func (c *Cache) indexOf(bin int) int {
	for i, b := range c.order {
		if b == bin {
			return i
		}
	}
	return -1
}

// Refresh runs one refresh pass, deduplicating concurrent callers (the
// background ticker and any manual trigger) onto a single execution. If
// the cache is already busy with a get/update/refresh, this pass is
// skipped entirely -- it does not wait.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err, _ := c.sf.Do("refresh", func() (any, error) {
		return nil, c.refreshOnce()
	})
	return err
}

func (c *Cache) refreshOnce() error {
	if c.loader == nil {
		return nil
	}
	if !c.mu.TryLock() {
		c.log.Debug("refresh skipped: cache busy")
		return nil
	}
	defer c.mu.Unlock()

	changed := 0
	for _, bin := range c.order {
		fresh, err := c.loader(bin)
		if err != nil {
			c.log.Warn("refresh: loader failed", "bin", bin, "error", err)
			continue
		}
		newFp := fingerprint(fresh)
		if c.fp[bin] != newFp {
			changed++
		}
		c.data[bin] = cloneSnapshot(fresh)
		c.fp[bin] = newFp
	}
	if changed > 0 {
		c.log.Debug("refresh replaced snapshots", "changed", changed, "total", len(c.order))
	}
	return writeSidecar(c.sidecarPath, c.order)
}

func (c *Cache) refreshLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.updateCycle)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Refresh(context.Background()); err != nil {
				c.log.Warn("background refresh failed", "error", err)
			}
		case <-c.stopCh:
			return
		}
	}
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// fingerprint computes a stable xxhash digest of a snapshot's contents, so
// the refresh pass can tell a no-op reload from a real change without a
// deep comparison.
func fingerprint(s Snapshot) uint64 {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := xxhash.New()
	for _, k := range keys {
		d.WriteString(k)
		d.Write([]byte{0})
		d.WriteString(s[k])
		d.Write([]byte{0})
	}
	return d.Sum64()
}

// readSidecar parses a *.cache sidecar file: one or more lines of
// comma-separated decimal bin indices. Non-integer tokens are logged and
// skipped; whitespace around tokens is trimmed.
func readSidecar(path string, log hclog.Logger) []int {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var order []int
	seen := make(map[int]bool)
	for _, line := range strings.Split(string(raw), "\n") {
		for _, tok := range strings.Split(line, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			bin, err := strconv.Atoi(tok)
			if err != nil {
				log.Warn("sidecar: skipping non-integer token", "token", tok)
				continue
			}
			if seen[bin] {
				continue
			}
			seen[bin] = true
			order = append(order, bin)
		}
	}
	return order
}

// writeSidecar rewrites the *.cache sidecar file with the current bin
// order, one comma-separated line.
func writeSidecar(path string, order []int) error {
	if path == "" {
		return nil
	}
	toks := make([]string, len(order))
	for i, b := range order {
		toks[i] = strconv.Itoa(b)
	}
	return os.WriteFile(path, []byte(strings.Join(toks, ",")+"\n"), 0o644)
}
