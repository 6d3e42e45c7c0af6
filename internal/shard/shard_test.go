package shard

import (
	"os"
	"testing"

	"github.com/cjcara036/simplekv/internal/parity"
)

func newManager(t *testing.T, enableParity bool, groupSize int) (*Manager, *parity.Manager) {
	t.Helper()
	dir := t.TempDir()
	var pm *parity.Manager
	if enableParity {
		var err error
		pm, err = parity.NewManager(dir, groupSize)
		if err != nil {
			t.Fatalf("parity.NewManager: %v", err)
		}
	}
	m, err := NewManager(dir, 4, enableParity, pm, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, pm
}

func TestReadMissingShardIsEmpty(t *testing.T) {
	m, _ := newManager(t, false, 2)
	pairs, err := m.Read(0)
	if err != nil {
		t.Fatalf("Read(missing) error: %v", err)
	}
	if len(pairs) != 0 {
		t.Fatalf("Read(missing) = %v, want empty", pairs)
	}
}

func TestWriteThenRead(t *testing.T) {
	m, _ := newManager(t, false, 2)
	want := map[string]string{"a~KEYVAL": "1", "b~KEYVAL": "2"}
	if err := m.Write(0, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := m.Read(0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Read() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("Read()[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestChecksumMismatchWithoutParityErrors(t *testing.T) {
	m, _ := newManager(t, false, 2)
	if err := m.Write(0, map[string]string{"k~KEYVAL": "v"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	path := m.Path(0)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	corrupted := append([]byte{}, raw...)
	corrupted[len(corrupted)-1] ^= 0xFF
	if err := os.WriteFile(path, corrupted, 0o644); err != nil {
		t.Fatalf("WriteFile corrupted: %v", err)
	}

	m2, err := NewManager(m.dir, 4, true, nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := m2.Read(0); err == nil {
		t.Fatalf("Read(corrupted, checksum on, no parity manager) did not error")
	}
}

func TestChecksumMismatchRecoversFromParity(t *testing.T) {
	m, _ := newManager(t, true, 2)

	if err := m.Write(0, map[string]string{"k0~KEYVAL": "v0"}); err != nil {
		t.Fatalf("Write(0): %v", err)
	}
	if err := m.Write(1, map[string]string{"k1~KEYVAL": "v1"}); err != nil {
		t.Fatalf("Write(1): %v", err)
	}

	path := m.Path(0)
	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile original: %v", err)
	}
	corrupted := append([]byte{}, original...)
	corrupted[0] ^= 0xFF
	if err := os.WriteFile(path, corrupted, 0o644); err != nil {
		t.Fatalf("WriteFile corrupted: %v", err)
	}

	got, err := m.Read(0)
	if err != nil {
		t.Fatalf("Read(bin0) after corruption did not recover: %v", err)
	}
	if got["k0~KEYVAL"] != "v0" {
		t.Fatalf("recovered bin0 = %v, want k0~KEYVAL=v0", got)
	}

	recovered, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile recovered: %v", err)
	}
	if string(recovered) != string(original) {
		t.Fatalf("recovered bytes differ from original")
	}
}

func TestWritePersistsAcrossManagerInstances(t *testing.T) {
	dir := t.TempDir()
	m1, err := NewManager(dir, 2, false, nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m1.Write(1, map[string]string{"only~KEYVAL": "val"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	m2, err := NewManager(dir, 2, false, nil, nil)
	if err != nil {
		t.Fatalf("NewManager (reopen): %v", err)
	}
	got, err := m2.Read(1)
	if err != nil {
		t.Fatalf("Read (reopen): %v", err)
	}
	if got["only~KEYVAL"] != "val" {
		t.Fatalf("Read (reopen) = %v", got)
	}
}
