// Package kv implements the Engine facade: the orchestration layer that
// ties the hasher, record codec, shard manager, parity manager, n-gram
// index, write buffer and read-through cache into the five public
// operations set/get/remove/sync/transfer_from.
//
// This is the disk-facing sibling of the teacher's internal/kv.KVStore,
// which wraps a StorageBackend interface behind a developer-facing API;
// here the "backend" is our own shard+parity+cache stack instead of
// Badger, but the wrapping idiom -- a thin facade type holding the moving
// parts and exposing a small public method set -- is the same.
package kv

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cjcara036/simplekv/internal/config"
	"github.com/cjcara036/simplekv/internal/keyspace"
	"github.com/cjcara036/simplekv/internal/ngram"
	"github.com/cjcara036/simplekv/internal/parity"
	"github.com/cjcara036/simplekv/internal/pool"
	"github.com/cjcara036/simplekv/internal/rcache"
	"github.com/cjcara036/simplekv/internal/shard"
)

// Engine orchestrates the storage engine described by the spec: shard
// layout and addressing, the n-gram wildcard index, parity recovery, the
// KVPool write buffer and the read-through cache.
type Engine struct {
	cfg       config.Config
	shards    *shard.Manager
	parity    *parity.Manager // nil when parity is disabled
	pool      *pool.Pool
	cache     *rcache.Cache
	ownsCache bool

	metrics metricsSink
	log     hclog.Logger
}

// New constructs an Engine per cfg, creating the storage directory and any
// owned cache/parity manager as needed.
func New(cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = hclog.New(&hclog.LoggerOptions{Name: "simplekv", Level: hclog.Info})
	}
	log = log.Named("engine")

	var pm *parity.Manager
	if cfg.EnableParity {
		var err error
		pm, err = parity.NewManager(cfg.StorageDirectory, cfg.ParityGroupCount)
		if err != nil {
			return nil, err
		}
	}

	sm, err := shard.NewManager(cfg.StorageDirectory, cfg.BinCount, cfg.EnableParity, pm, log)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		shards:  sm,
		parity:  pm,
		pool:    pool.New(),
		metrics: newMetricsSink(cfg.MetricsRegistry),
		log:     log,
	}
	sm.SetHooks(
		func(int) { e.metrics.incChecksumMismatch() },
		func(int) { e.metrics.incRecovery() },
	)

	cache := cfg.Cache
	ownsCache := false
	if cache == nil && cfg.CacheSize > 0 {
		loader := func(bin int) (rcache.Snapshot, error) {
			return sm.Read(bin)
		}
		cache, err = rcache.New(rcache.Config{
			MaxSize:     cfg.CacheSize,
			SidecarPath: filepath.Join(cfg.StorageDirectory, "storageIndex.cache"),
			UpdateCycle: time.Duration(cfg.UpdateCycleTimeSec) * time.Second,
			Loader:      loader,
			Logger:      log,
		})
		if err != nil {
			return nil, err
		}
		cache.Start()
		ownsCache = true
	}
	e.cache = cache
	e.ownsCache = ownsCache

	e.log.Info("engine opened", "dir", cfg.StorageDirectory, "bins", cfg.BinCount, "parity", cfg.EnableParity)
	return e, nil
}

// Close stops the cache's background refresher, if this Engine owns it.
// Idempotent; safe to call multiple times.
func (e *Engine) Close() error {
	if !e.ownsCache || e.cache == nil {
		return nil
	}
	err := e.cache.Close()
	e.cache = nil
	return err
}

// Set stages key/value pairs into the write buffer. A wildcard key in
// pairs is not stored literally: it is expanded against the current index
// and the value is staged for every key it currently matches. When
// genNgram is true, the n-gram posting lists for non-wildcard input keys
// are updated. Set never fails synchronously and never writes a shard:
// shard writes are deferred to Sync, and Set only reads shards to merge
// posting lists and to expand wildcard keys.
func (e *Engine) Set(pairs map[string]string, genNgram bool) {
	for k, v := range pairs {
		if strings.Contains(k, ngram.Wildcard) {
			matches := e.resolveWildcard(k)
			if len(matches) == 0 {
				e.log.Debug("wildcard set matched no keys", "pattern", k)
				continue
			}
			for _, mk := range matches {
				e.pool.Set(keyspace.Join(keyspace.KeyVal, mk), v)
			}
			continue
		}
		e.pool.Set(keyspace.Join(keyspace.KeyVal, k), v)
		if genNgram {
			e.updateNGrams(k)
		}
	}
	e.metrics.incSets(len(pairs))
}

// Get resolves each lookup key (expanding wildcards against the index)
// and returns the subset that currently has a value, consulting the
// write buffer, then the cache, then the shard file.
func (e *Engine) Get(keys []string) map[string]string {
	result := make(map[string]string)
	for _, q := range keys {
		if strings.Contains(q, ngram.Wildcard) {
			for _, mk := range e.resolveWildcard(q) {
				if v, ok := e.getCurrent(keyspace.Join(keyspace.KeyVal, mk)); ok {
					result[mk] = v
				}
			}
			continue
		}
		if v, ok := e.getCurrent(keyspace.Join(keyspace.KeyVal, q)); ok {
			result[q] = v
		}
	}
	e.metrics.incGets(len(keys))
	return result
}

type removalKind int

const (
	removeValue removalKind = iota
	removePosting
)

type removalOp struct {
	onDiskKey string
	kind      removalKind
	userKey   string // only set for removePosting
}

// Remove deletes value records (and purges the removed keys from every
// posting list they appear in) for each literal key, or for every key
// currently matched by a wildcard entry. Unlike Set, Remove takes effect
// immediately against the shards -- it is not staged in the write buffer.
// I/O errors are logged per shard and do not abort the sweep.
func (e *Engine) Remove(keys []string) {
	targets := make(map[string]bool)
	for _, q := range keys {
		if strings.Contains(q, ngram.Wildcard) {
			for _, mk := range e.resolveWildcard(q) {
				targets[mk] = true
			}
			continue
		}
		targets[q] = true
	}
	if len(targets) == 0 {
		return
	}

	byBin := make(map[int][]removalOp)
	for k := range targets {
		valKey := keyspace.Join(keyspace.KeyVal, k)
		e.pool.Delete(valKey)
		bin := keyspace.Hash(valKey, e.shards.BinCount())
		byBin[bin] = append(byBin[bin], removalOp{onDiskKey: valKey, kind: removeValue})

		for _, g := range ngram.Generate(k) {
			gramKey := keyspace.Join(keyspace.Trigram, g)
			if staged, ok := e.pool.Get(gramKey); ok {
				cleaned := ngram.RemoveKey(ngram.ParsePostingList(staged), k)
				e.pool.Set(gramKey, ngram.FormatPostingList(cleaned))
			}
			gbin := keyspace.Hash(gramKey, e.shards.BinCount())
			byBin[gbin] = append(byBin[gbin], removalOp{onDiskKey: gramKey, kind: removePosting, userKey: k})
		}
	}

	bins := make([]int, 0, len(byBin))
	for b := range byBin {
		bins = append(bins, b)
	}

	e.forEachBin(bins, func(bin int) error {
		unlock := e.shards.Lock(bin)
		defer unlock()

		pairs, err := e.readBin(bin)
		if err != nil {
			e.log.Warn("remove: read bin failed", "bin", bin, "error", err)
			return err
		}
		changed := false
		for _, op := range byBin[bin] {
			switch op.kind {
			case removeValue:
				if _, ok := pairs[op.onDiskKey]; ok {
					delete(pairs, op.onDiskKey)
					changed = true
				}
			case removePosting:
				payload, ok := pairs[op.onDiskKey]
				if !ok {
					continue
				}
				remaining := ngram.RemoveKey(ngram.ParsePostingList(payload), op.userKey)
				if len(remaining) == 0 {
					delete(pairs, op.onDiskKey)
				} else {
					pairs[op.onDiskKey] = ngram.FormatPostingList(remaining)
				}
				changed = true
			}
		}
		if !changed {
			return nil
		}
		if err := e.shards.Write(bin, pairs); err != nil {
			e.log.Warn("remove: write bin failed", "bin", bin, "error", err)
			return err
		}
		if e.cache != nil {
			e.cache.Replace(bin, pairs)
		}
		return nil
	})

	e.metrics.incRemoves(len(targets))
}

// Sync flushes the write buffer to the shards: the write buffer is drained
// in one step when Sync starts, before any bin is written, then the
// drained entries are grouped by destination bin and each bin is processed
// under its lock (read current shard, overlay staged entries, write back,
// refresh parity). Drained entries are not put back if a bin fails.
func (e *Engine) Sync() error {
	start := time.Now()
	staged := e.pool.Snapshot()

	byBin := make(map[int]map[string]string)
	for onDiskKey, payload := range staged {
		bin := keyspace.Hash(onDiskKey, e.shards.BinCount())
		m, ok := byBin[bin]
		if !ok {
			m = make(map[string]string)
			byBin[bin] = m
		}
		m[onDiskKey] = payload
	}

	bins := make([]int, 0, len(byBin))
	for b := range byBin {
		bins = append(bins, b)
	}

	var mu sync.Mutex
	var firstErr error
	recordErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	e.forEachBin(bins, func(bin int) error {
		unlock := e.shards.Lock(bin)
		defer unlock()

		current, err := e.readBin(bin)
		if err != nil {
			e.log.Warn("sync: read bin failed", "bin", bin, "error", err)
			recordErr(err)
			return err
		}

		entries := byBin[bin]
		merged := make(map[string]string, len(current)+len(entries))
		for k, v := range current {
			merged[k] = v
		}
		for k, v := range entries {
			merged[k] = v
		}

		if err := e.shards.Write(bin, merged); err != nil {
			e.log.Warn("sync: write bin failed", "bin", bin, "error", err)
			recordErr(err)
			return err
		}
		if e.cache != nil {
			e.cache.Update(bin, entries)
		}
		return nil
	})

	e.metrics.incSync()
	e.metrics.observeSyncDuration(time.Since(start).Seconds())
	e.log.Info("sync complete", "bins_touched", len(bins), "error", firstErr)
	return firstErr
}

// TransferFrom copies every value record currently stored in src into
// this engine's write buffer (not yet persisted until Sync). Unlike
// Sync/Remove, an I/O error while reading src aborts immediately and is
// returned to the caller.
func (e *Engine) TransferFrom(src *Engine, genNgram bool) error {
	for bin := 0; bin < src.shards.BinCount(); bin++ {
		pairs, err := src.readBin(bin)
		if err != nil {
			return fmt.Errorf("kv: transfer_from: read source bin %d: %w", bin, err)
		}
		for onDiskKey, value := range pairs {
			ns, name, ok := keyspace.Split(onDiskKey)
			if !ok || ns != keyspace.KeyVal {
				continue
			}
			e.pool.Set(keyspace.Join(keyspace.KeyVal, name), value)
			if genNgram {
				e.updateNGrams(name)
			}
		}
	}
	return nil
}

// getCurrent resolves an on-disk key's current payload: the write buffer
// first, then the cache/shard.
func (e *Engine) getCurrent(onDiskKey string) (string, bool) {
	if v, ok := e.pool.Get(onDiskKey); ok {
		return v, true
	}
	bin := keyspace.Hash(onDiskKey, e.shards.BinCount())
	pairs, err := e.readBin(bin)
	if err != nil {
		e.log.Warn("read failed", "key", onDiskKey, "bin", bin, "error", err)
		return "", false
	}
	v, ok := pairs[onDiskKey]
	return v, ok
}

// readBin returns bin's current contents, consulting the cache before
// falling through to the shard file and populating the cache on a miss.
func (e *Engine) readBin(bin int) (map[string]string, error) {
	if e.cache != nil {
		if snap, ok := e.cache.Get(bin); ok {
			e.metrics.incCacheHit()
			return snap, nil
		}
		e.metrics.incCacheMiss()
	}
	pairs, err := e.shards.Read(bin)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Replace(bin, pairs)
	}
	return pairs, nil
}

// updateNGrams merges k into the posting list of every one of its 8-grams,
// consulting the write buffer before the shards and always writing the
// merged list back to the write buffer (sync is what persists it).
func (e *Engine) updateNGrams(k string) {
	for _, g := range ngram.Generate(k) {
		onDisk := keyspace.Join(keyspace.Trigram, g)
		current, _ := e.getCurrent(onDisk)
		merged := ngram.MergeInsert(ngram.ParsePostingList(current), k)
		e.pool.Set(onDisk, ngram.FormatPostingList(merged))
	}
}

// resolveWildcard expands a wildcard pattern into its n-gram candidate
// set: the pattern's wildcard-free 8-grams seed and restrict an
// intersection of posting lists. A pattern with no such grams (shorter
// than 8 non-wildcard contiguous characters) has no candidate set to
// build from and resolves to no matches.
func (e *Engine) resolveWildcard(pattern string) []string {
	grams := ngram.Generate(pattern)
	if len(grams) == 0 {
		return nil
	}
	lists := make([][]string, 0, len(grams))
	for _, g := range grams {
		payload, _ := e.getCurrent(keyspace.Join(keyspace.Trigram, g))
		lists = append(lists, ngram.ParsePostingList(payload))
	}
	return ngram.Intersect(lists)
}

// forEachBin fans bins out across a worker pool sized to GOMAXPROCS,
// running fn once per bin. Per-bin errors are returned by fn to its
// caller for logging/aggregation; forEachBin itself does not abort
// remaining bins when one fails.
func (e *Engine) forEachBin(bins []int, fn func(bin int) error) {
	limit := int64(runtime.GOMAXPROCS(0))
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)
	ctx := context.Background()

	var g errgroup.Group
	for _, b := range bins {
		bin := b
		if err := sem.Acquire(ctx, 1); err != nil {
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			return fn(bin)
		})
	}
	_ = g.Wait()
}
