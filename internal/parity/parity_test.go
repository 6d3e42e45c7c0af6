package parity

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGroupRange(t *testing.T) {
	cases := []struct {
		bin, groupSize, wantStart, wantEnd int
	}{
		{0, 2, 0, 1},
		{1, 2, 0, 1},
		{2, 2, 2, 3},
		{3, 2, 2, 3},
		{4, 3, 3, 5},
		{5, 3, 3, 5},
	}
	for _, c := range cases {
		start, end := GroupRange(c.bin, c.groupSize)
		if start != c.wantStart || end != c.wantEnd {
			t.Fatalf("GroupRange(%d, %d) = (%d, %d), want (%d, %d)",
				c.bin, c.groupSize, start, end, c.wantStart, c.wantEnd)
		}
	}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func TestUpdateGroupThenRecoverMissingMember(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, 2)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	bin0 := filepath.Join(dir, "storageBin_0.dat")
	bin1 := filepath.Join(dir, "storageBin_1.dat")
	writeFile(t, bin0, []byte("hello world"))
	writeFile(t, bin1, []byte("bye!!"))

	members := []string{bin0, bin1}
	if err := m.UpdateGroup(0, 1, members); err != nil {
		t.Fatalf("UpdateGroup: %v", err)
	}

	want1, err := os.ReadFile(bin1)
	if err != nil {
		t.Fatalf("ReadFile(bin1): %v", err)
	}

	// Destroy bin1 and recover it from parity + bin0.
	if err := os.Remove(bin1); err != nil {
		t.Fatalf("Remove(bin1): %v", err)
	}
	if err := m.RecoverMember(0, 1, members, 1); err != nil {
		t.Fatalf("RecoverMember: %v", err)
	}

	got, err := os.ReadFile(bin1)
	if err != nil {
		t.Fatalf("ReadFile(bin1) after recovery: %v", err)
	}
	if string(got) != string(want1) {
		t.Fatalf("recovered bin1 = %q, want %q", got, want1)
	}
}

func TestXorFilesTreatsMissingAsZero(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.dat")
	writeFile(t, present, []byte{0x0F, 0xF0, 0xAA})
	missing := filepath.Join(dir, "missing.dat")

	var buf fakeWriter
	if err := xorFiles([]string{present, missing}, &buf); err != nil {
		t.Fatalf("xorFiles: %v", err)
	}
	want := []byte{0x0F, 0xF0, 0xAA}
	if string(buf) != string(want) {
		t.Fatalf("xorFiles output = %v, want %v", []byte(buf), want)
	}
}

func TestXorFilesOutputLengthIsMax(t *testing.T) {
	dir := t.TempDir()
	short := filepath.Join(dir, "short.dat")
	long := filepath.Join(dir, "long.dat")
	writeFile(t, short, []byte{0xFF})
	writeFile(t, long, []byte{0x00, 0x00, 0x00})

	var buf fakeWriter
	if err := xorFiles([]string{short, long}, &buf); err != nil {
		t.Fatalf("xorFiles: %v", err)
	}
	want := []byte{0xFF, 0x00, 0x00}
	if string(buf) != string(want) {
		t.Fatalf("xorFiles output = %v, want %v", []byte(buf), want)
	}
}

func TestRecoverMemberOutOfRange(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, 2)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	members := []string{filepath.Join(dir, "a"), filepath.Join(dir, "b")}
	if err := m.RecoverMember(0, 1, members, 5); err == nil {
		t.Fatalf("RecoverMember with out-of-range index did not error")
	}
}

type fakeWriter []byte

func (w *fakeWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
