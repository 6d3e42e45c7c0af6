package kv

import (
	"os"
	"testing"

	"github.com/cjcara036/simplekv/internal/config"
	"github.com/cjcara036/simplekv/internal/keyspace"
)

func newTestEngine(t *testing.T, binCount int, enableParity bool, groupSize int) *Engine {
	t.Helper()
	e, err := New(config.Config{
		StorageDirectory: t.TempDir(),
		BinCount:         binCount,
		EnableParity:     enableParity,
		ParityGroupCount: groupSize,
		CacheSize:        4,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// S1: basic set/sync/get.
func TestScenarioBasic(t *testing.T) {
	e := newTestEngine(t, 4, true, 2)
	e.Set(map[string]string{"alpha": "1", "beta": "2"}, true)
	if err := e.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	got := e.Get([]string{"alpha", "beta", "missing"})
	want := map[string]string{"alpha": "1", "beta": "2"}
	if len(got) != len(want) || got["alpha"] != "1" || got["beta"] != "2" {
		t.Fatalf("Get = %v, want %v", got, want)
	}
	if _, ok := got["missing"]; ok {
		t.Fatalf("Get returned a value for a missing key: %v", got)
	}
}

// S2: overwrite.
func TestScenarioOverwrite(t *testing.T) {
	e := newTestEngine(t, 4, true, 2)
	e.Set(map[string]string{"k": "v1"}, true)
	if err := e.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	e.Set(map[string]string{"k": "v2"}, true)
	if err := e.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	got := e.Get([]string{"k"})
	if got["k"] != "v2" {
		t.Fatalf("Get(k) = %v, want v2", got)
	}
}

// S3: wildcard lookup.
func TestScenarioWildcard(t *testing.T) {
	e := newTestEngine(t, 4, true, 2)
	e.Set(map[string]string{
		"applepie":    "A",
		"appletart":   "B",
		"orangejuice": "C",
	}, true)
	if err := e.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	got := e.Get([]string{"apple***"})
	if _, ok := got["applepie"]; !ok {
		t.Fatalf("Get(apple***) missing applepie: %v", got)
	}
	if _, ok := got["appletart"]; !ok {
		t.Fatalf("Get(apple***) missing appletart: %v", got)
	}
	if _, ok := got["orangejuice"]; ok {
		t.Fatalf("Get(apple***) unexpectedly matched orangejuice: %v", got)
	}
}

// S4: recovery after deleting a shard file outright.
func TestScenarioRecoveryAfterDeletion(t *testing.T) {
	e := newTestEngine(t, 4, true, 2)
	pairs := make(map[string]string)
	for i := 0; i < 12; i++ {
		pairs[string(rune('a'+i))] = string(rune('A' + i))
	}
	e.Set(pairs, false)
	if err := e.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	binPath := e.shards.Path(0)
	original, err := os.ReadFile(binPath)
	if err != nil {
		t.Skip("no key routed to bin 0 in this fixture; nothing to recover")
	}
	if err := os.Remove(binPath); err != nil {
		t.Fatalf("Remove(bin0): %v", err)
	}

	// Find a key that was routed to bin 0 by re-reading through the engine.
	found := false
	for k, v := range pairs {
		got := e.Get([]string{k})
		if got[k] == v {
			found = true
		}
	}
	if !found {
		t.Fatalf("no key recovered correctly after bin 0 deletion")
	}

	recovered, err := os.ReadFile(binPath)
	if err != nil {
		t.Fatalf("ReadFile(bin0) after recovery: %v", err)
	}
	if string(recovered) != string(original) {
		t.Fatalf("recovered bin0 not byte-equal to original")
	}
}

// S5: single-byte corruption.
func TestScenarioCorruption(t *testing.T) {
	e := newTestEngine(t, 4, true, 2)
	e.Set(map[string]string{"corruptme": "value"}, false)
	if err := e.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	bin := keyspace.Hash("KEYVAL~corruptme", e.shards.BinCount())
	path := e.shards.Path(bin)
	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	corrupted := append([]byte{}, original...)
	corrupted[len(corrupted)-2] ^= 0xFF
	if err := os.WriteFile(path, corrupted, 0o644); err != nil {
		t.Fatalf("WriteFile corrupted: %v", err)
	}

	got := e.Get([]string{"corruptme"})
	if got["corruptme"] != "value" {
		t.Fatalf("Get after corruption = %v, want value", got)
	}
	recovered, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile after recovery: %v", err)
	}
	if string(recovered) != string(original) {
		t.Fatalf("recovered shard not byte-equal to original")
	}
}

// S6: remove purges the index.
func TestScenarioRemovePurgesIndex(t *testing.T) {
	e := newTestEngine(t, 4, true, 2)
	e.Set(map[string]string{"abcdefghij": "X"}, true)
	if err := e.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	e.Remove([]string{"abcdefghij"})

	got := e.Get([]string{"abcde*ghij"})
	if len(got) != 0 {
		t.Fatalf("Get after remove = %v, want empty", got)
	}
}

// Invariant 6: n-gram coverage.
func TestInvariantNGramCoverage(t *testing.T) {
	e := newTestEngine(t, 4, false, 0)
	e.Set(map[string]string{"longenoughkey": "v"}, true)

	for _, g := range []string{"longenou", "ongenoug", "ngenough", "genoughk", "enoughke", "noughkey"} {
		got := e.Get([]string{g[:7] + "*"})
		_ = got // 8-char patterns with a '*' have no wildcard-free gram and match nothing; just ensure no panic
	}
	matches := e.resolveWildcard("longenou*")
	found := false
	for _, m := range matches {
		if m == "longenoughkey" {
			found = true
		}
	}
	if !found {
		t.Fatalf("resolveWildcard did not surface longenoughkey: %v", matches)
	}
}

// Invariant 8: no-ghost index.
func TestInvariantNoGhostIndex(t *testing.T) {
	e := newTestEngine(t, 4, false, 0)
	e.Set(map[string]string{"abcdefghij": "X"}, true)
	if err := e.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	e.Remove([]string{"abcdefghij"})
	if err := e.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	matches := e.resolveWildcard("abcdefgh")
	for _, m := range matches {
		if m == "abcdefghij" {
			t.Fatalf("removed key still present in posting list: %v", matches)
		}
	}
}

func TestTransferFrom(t *testing.T) {
	src := newTestEngine(t, 4, false, 0)
	src.Set(map[string]string{"shared": "srcval"}, true)
	if err := src.Sync(); err != nil {
		t.Fatalf("src.Sync: %v", err)
	}

	dst := newTestEngine(t, 4, false, 0)
	if err := dst.TransferFrom(src, true); err != nil {
		t.Fatalf("TransferFrom: %v", err)
	}
	if err := dst.Sync(); err != nil {
		t.Fatalf("dst.Sync: %v", err)
	}

	got := dst.Get([]string{"shared"})
	if got["shared"] != "srcval" {
		t.Fatalf("dst.Get(shared) = %v, want srcval", got)
	}
}

