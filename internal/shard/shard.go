// Package shard implements the on-disk shard (bin) file: a self-describing
// text file guarded by a CRC32 checksum, addressed by bin index, with
// checksum-mismatch/empty-file recovery delegated to a parity group when
// parity is enabled.
//
// This package is the disk-facing sibling of the teacher's
// internal/storage.KVStorage: same idea (a fixed array of independently
// locked shards addressed by a hash of the key) rebuilt around a textual,
// checksummed record format instead of an embedded database.
package shard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/cjcara036/simplekv/internal/parity"
	"github.com/cjcara036/simplekv/internal/record"
)

// MaxRecoveryCount bounds how many times a failed read or write retries
// after invoking parity recovery before the error is surfaced to the
// caller.
const MaxRecoveryCount = 5

var (
	// ErrChecksumMismatch is returned when a shard's stored checksum does
	// not match the recomputed checksum of its data section.
	ErrChecksumMismatch = errors.New("shard: checksum mismatch")
	// ErrEmptyFile is returned when a shard file exists but contains no
	// checksum header at all (distinct from a file that was never
	// created, which reads as an empty shard with no error).
	ErrEmptyFile = errors.New("shard: empty file")
	// ErrRecoveryExhausted is returned when MaxRecoveryCount recovery
	// attempts all failed to produce a readable/writable shard.
	ErrRecoveryExhausted = errors.New("shard: recovery exhausted")
)

// Manager owns the directory of shard files, their per-bin locks, and the
// (optional) parity manager used to recover damaged shards.
type Manager struct {
	dir         string
	binCount    int
	enableCheck bool // verify checksums and attempt recovery
	locks       []sync.Mutex

	parity *parity.Manager // nil when parity is disabled

	log hclog.Logger

	onChecksumMismatch func(bin int)
	onRecover          func(bin int)
}

// SetHooks installs optional observability callbacks invoked as the retry
// loop in Read/Write detects a damaged shard and attempts recovery. Either
// field may be nil. Intended for the engine's metrics wiring; the shard
// package itself has no metrics dependency.
func (m *Manager) SetHooks(onChecksumMismatch, onRecover func(bin int)) {
	m.onChecksumMismatch = onChecksumMismatch
	m.onRecover = onRecover
}

// NewManager constructs a shard Manager. When enableParity is true, pm must
// be a non-nil parity.Manager rooted at the same directory with the same
// group size.
func NewManager(dir string, binCount int, enableParity bool, pm *parity.Manager, log hclog.Logger) (*Manager, error) {
	if binCount <= 0 {
		return nil, fmt.Errorf("shard: binCount must be > 0, got %d", binCount)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("shard: create storage directory: %w", err)
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Manager{
		dir:         dir,
		binCount:    binCount,
		enableCheck: enableParity,
		locks:       make([]sync.Mutex, binCount),
		parity:      pm,
		log:         log.Named("shard"),
	}, nil
}

// BinCount returns the configured number of bins.
func (m *Manager) BinCount() int { return m.binCount }

// Path returns the on-disk path of the shard file for bin i.
func (m *Manager) Path(bin int) string {
	return filepath.Join(m.dir, fmt.Sprintf("storageBin_%d.dat", bin))
}

// Lock acquires the per-bin lock for bin and returns a function that
// releases it. Callers hold this lock across the full read-modify-write
// cycle for a bin, per the spec's concurrency model.
func (m *Manager) Lock(bin int) func() {
	l := &m.locks[bin]
	l.Lock()
	return l.Unlock
}

// Read loads and verifies the contents of bin, returning its decoded
// key/value pairs. A shard file that does not exist yet reads as an empty,
// valid shard. Checksums are verified only when parity is enabled; a
// checksum mismatch or fully empty (zero-byte) file then triggers parity
// recovery, or is surfaced as an error when no parity manager is set. With
// parity disabled, an empty file is surfaced as an error and the checksum
// is not compared.
func (m *Manager) Read(bin int) (map[string]string, error) {
	for attempt := 0; ; attempt++ {
		pairs, err := m.readOnce(bin)
		if err == nil {
			return pairs, nil
		}
		if !errors.Is(err, ErrChecksumMismatch) && !errors.Is(err, ErrEmptyFile) {
			return nil, err
		}
		if errors.Is(err, ErrChecksumMismatch) && m.onChecksumMismatch != nil {
			m.onChecksumMismatch(bin)
		}
		if !m.enableCheck || m.parity == nil {
			return nil, err
		}
		if attempt >= MaxRecoveryCount {
			return nil, fmt.Errorf("%w: bin %d: %v", ErrRecoveryExhausted, bin, err)
		}
		m.log.Warn("recovering damaged shard", "bin", bin, "attempt", attempt+1, "cause", err)
		if rerr := m.recover(bin); rerr != nil {
			return nil, fmt.Errorf("shard: recovery failed for bin %d: %w", bin, rerr)
		}
		if m.onRecover != nil {
			m.onRecover(bin)
		}
	}
}

func (m *Manager) readOnce(bin int) (map[string]string, error) {
	raw, err := os.ReadFile(m.Path(bin))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("shard: read bin %d: %w", bin, err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyFile
	}

	lines := strings.Split(string(raw), record.LineSeparator)
	var checksumLine string
	var dataLines []string
	for _, l := range lines {
		if record.IsIgnorable(l) {
			continue
		}
		if checksumLine == "" {
			checksumLine = l
			continue
		}
		dataLines = append(dataLines, l)
	}
	if checksumLine == "" {
		return nil, ErrEmptyFile
	}

	want, err := strconv.ParseUint(strings.TrimSpace(checksumLine), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: bin %d: malformed checksum header", ErrChecksumMismatch, bin)
	}
	if m.enableCheck {
		got := record.ChecksumOf(dataLines)
		if uint64(got) != want {
			return nil, fmt.Errorf("%w: bin %d: want %d got %d", ErrChecksumMismatch, bin, want, got)
		}
	}

	pairs := make(map[string]string, len(dataLines))
	for _, l := range dataLines {
		k, v, ok := record.Decode(l)
		if !ok {
			continue // parse-malformed-line: silently skipped
		}
		pairs[k] = v
	}
	return pairs, nil
}

// Write serializes pairs (the full contents of bin, already merged) to the
// shard file and, when parity is enabled, refreshes the parity file of the
// containing group.
func (m *Manager) Write(bin int, pairs map[string]string) error {
	for attempt := 0; ; attempt++ {
		err := m.writeOnce(bin, pairs)
		if err == nil {
			return nil
		}
		if !m.enableCheck || m.parity == nil {
			return err
		}
		if attempt >= MaxRecoveryCount {
			return fmt.Errorf("%w: bin %d: %v", ErrRecoveryExhausted, bin, err)
		}
		m.log.Warn("write failed, attempting recovery before retry", "bin", bin, "attempt", attempt+1, "cause", err)
		if rerr := m.recover(bin); rerr != nil {
			return fmt.Errorf("shard: recovery failed for bin %d: %w", bin, rerr)
		}
		if m.onRecover != nil {
			m.onRecover(bin)
		}
	}
}

func (m *Manager) writeOnce(bin int, pairs map[string]string) error {
	data := record.FormatFile(pairs)
	if err := os.WriteFile(m.Path(bin), data, 0o644); err != nil {
		return fmt.Errorf("shard: write bin %d: %w", bin, err)
	}
	if m.enableCheck && m.parity != nil {
		if err := m.refreshParity(bin); err != nil {
			return fmt.Errorf("shard: parity refresh for bin %d: %w", bin, err)
		}
	}
	return nil
}

func (m *Manager) refreshParity(bin int) error {
	start, end := parity.GroupRange(bin, m.parity.GroupSize())
	return m.parity.UpdateGroup(start, end, m.memberPaths(start, end))
}

func (m *Manager) recover(bin int) error {
	start, end := parity.GroupRange(bin, m.parity.GroupSize())
	return m.parity.RecoverMember(start, end, m.memberPaths(start, end), bin-start)
}

// memberPaths returns the shard file paths for every bin in [start, end],
// in order, for handing to the parity manager.
func (m *Manager) memberPaths(start, end int) []string {
	paths := make([]string, 0, end-start+1)
	for i := start; i <= end && i < m.binCount; i++ {
		paths = append(paths, m.Path(i))
	}
	return paths
}
