// Package config defines the plain configuration struct accepted by the
// engine constructor, validated directly in the constructor the way the
// teacher's storage.NewWithShards validates its shard count -- no config
// file format or env parsing library, matching the teacher's hand-rolled
// struct-and-constructor convention.
package config

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cjcara036/simplekv/internal/rcache"
)

// Config configures an Engine.
type Config struct {
	// StorageDirectory is the root for shard and parity files; created if
	// missing.
	StorageDirectory string
	// BinCount is the number of shards (B); immutable after construction.
	BinCount int
	// EnableParity, if false, disables checksum verification retries and
	// parity files entirely.
	EnableParity bool
	// ParityGroupCount is the number of members per parity group (P).
	// Ignored when EnableParity is false.
	ParityGroupCount int
	// CacheSize bounds the read-through cache, used only when Cache is
	// nil (in which case the engine constructs its own).
	CacheSize int
	// UpdateCycleTimeSec is the background cache refresh interval, in
	// seconds. Zero disables the background refresher.
	UpdateCycleTimeSec int

	// Cache, if non-nil, is used instead of constructing one from
	// CacheSize/UpdateCycleTimeSec.
	Cache *rcache.Cache
	// MetricsRegistry, if non-nil, activates Prometheus metrics
	// registered into it. Nil means metrics are a no-op.
	MetricsRegistry *prometheus.Registry
	// Logger, if nil, defaults to a named hclog logger at Info level.
	Logger hclog.Logger
}

// Validate checks the fields a running engine cannot tolerate being wrong,
// mirroring the teacher's inline constructor validation.
func (c Config) Validate() error {
	if c.StorageDirectory == "" {
		return fmt.Errorf("config: StorageDirectory must not be empty")
	}
	if c.BinCount <= 0 {
		return fmt.Errorf("config: BinCount must be > 0, got %d", c.BinCount)
	}
	if c.EnableParity && c.ParityGroupCount <= 0 {
		return fmt.Errorf("config: ParityGroupCount must be > 0 when EnableParity is set, got %d", c.ParityGroupCount)
	}
	if c.Cache == nil && c.CacheSize < 0 {
		return fmt.Errorf("config: CacheSize must be >= 0, got %d", c.CacheSize)
	}
	return nil
}
