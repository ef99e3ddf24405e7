package atomicio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMakeDirsIdempotent(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "logdir", "exp")
	b := filepath.Join(root, "results", "exp")

	for i := 0; i < 2; i++ {
		if err := MakeDirs(root, a, b); err != nil {
			t.Fatalf("MakeDirs pass %d: %v", i, err)
		}
	}
	for _, p := range []string{a, b} {
		if fi, err := os.Stat(p); err != nil || !fi.IsDir() {
			t.Errorf("%s is not a directory (err=%v)", p, err)
		}
	}
}

func TestMakeDirsOverFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "file")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := MakeDirs(filepath.Join(file, "sub")); err == nil {
		t.Error("expected error creating a directory under a file")
	}
}

func TestWriteCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hparams.csv")
	header := []string{"lr", "name"}
	rows := [][]string{{"0.1", "a,b"}}

	if err := WriteCSV(path, header, rows); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	gotHeader, gotRows, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(gotHeader) != 2 || gotHeader[1] != "name" {
		t.Errorf("header = %v", gotHeader)
	}
	if len(gotRows) != 1 || gotRows[0][1] != "a,b" {
		t.Errorf("rows = %v", gotRows)
	}
}

func TestWriteCSVOverwritesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metrics.csv")

	if err := WriteCSV(path, []string{"epoch"}, [][]string{{"0"}}); err != nil {
		t.Fatal(err)
	}
	if err := WriteCSV(path, []string{"epoch"}, [][]string{{"0"}, {"1"}}); err != nil {
		t.Fatal(err)
	}

	_, rows, err := ReadCSV(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("rows = %d, want 2", len(rows))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the target file", len(entries))
	}
}

func TestWriteCSVFailureLeavesTargetAbsent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	path := filepath.Join(dir, "hparams.csv")

	if err := WriteCSV(path, []string{"a"}, nil); err == nil {
		t.Fatal("expected error writing into a missing directory")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("target exists after failed write: %v", err)
	}
}

func TestWriteCSVRenameFailureKeepsOldContent(t *testing.T) {
	dir := t.TempDir()
	// A directory in place of the target makes the rename fail.
	path := filepath.Join(dir, "target")
	if err := os.Mkdir(path, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "keep"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	if err := WriteCSV(path, []string{"a"}, [][]string{{"1"}}); err == nil {
		t.Fatal("expected rename error")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temp file left behind: %d entries", len(entries))
	}
}

func TestReadCSVMissing(t *testing.T) {
	if _, _, err := ReadCSV(filepath.Join(t.TempDir(), "nope.csv")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, ""},
		{"adam", "adam"},
		{0.001, "0.001"},
		{float32(0.5), "0.5"},
		{42, "42"},
		{int64(7), "7"},
		{true, "true"},
		{[]int{1}, "[1]"},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Errorf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
