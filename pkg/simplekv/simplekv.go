// Package simplekv is the public, importable surface of the storage
// engine: a thin re-export of internal/kv and internal/config, the same
// pkg/-wraps-internal/ layering the teacher uses for its own pkg/client.
package simplekv

import (
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cjcara036/simplekv/internal/config"
	"github.com/cjcara036/simplekv/internal/kv"
	"github.com/cjcara036/simplekv/internal/rcache"
)

// Engine is the storage engine facade: set/get/remove/sync/transfer_from
// over sharded, checksummed, optionally parity-protected storage with an
// n-gram wildcard index and a read-through cache.
type Engine = kv.Engine

// Config configures an Engine. See internal/config.Config for field docs.
type Config = config.Config

// Cache is a read-through cache instance, for callers that want to share
// one cache across engines or tune it beyond what Config exposes directly.
type Cache = rcache.Cache

// Logger is re-exported so callers can construct one without importing
// hclog directly.
type Logger = hclog.Logger

// MetricsRegistry is re-exported so callers can construct one without
// importing prometheus directly.
type MetricsRegistry = prometheus.Registry

// New constructs an Engine per cfg.
func New(cfg Config) (*Engine, error) {
	return kv.New(cfg)
}

// NewLogger returns an hclog.Logger named "simplekv" at the given level
// (e.g. hclog.Info, hclog.Debug).
func NewLogger(level hclog.Level) Logger {
	return hclog.New(&hclog.LoggerOptions{Name: "simplekv", Level: level})
}
