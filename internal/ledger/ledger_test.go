package ledger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/IshaanNene/phonegoat/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func TestOpenMissingFileIsEmpty(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "data.json"), testLogger)
	if l.Len() != 0 {
		t.Errorf("expected empty ledger, got %d", l.Len())
	}
}

func TestOpenCorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	os.WriteFile(path, []byte(`{"data": {"1": `), 0o644)

	l := Open(path, testLogger)
	if l.Len() != 0 {
		t.Errorf("expected empty ledger, got %d", l.Len())
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "data.json")
	l := Open(path, testLogger)

	block := types.BlockID(42)
	l.Put("2", types.Record{Phone: "+79990000000", NotFormattedPhone: "79990000000", Source: types.SourceAPI, SiteBlockID: &block})
	l.Put("1", types.FailedRecord(nil))
	if err := l.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	reloaded := Open(path, testLogger)
	if reloaded.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", reloaded.Len())
	}
	rec, ok := reloaded.Get("2")
	if !ok || rec.Source != types.SourceAPI || rec.SiteBlockID == nil || *rec.SiteBlockID != 42 {
		t.Errorf("record not restored: %+v", rec)
	}
	if reloaded.Resolved() != 1 {
		t.Errorf("expected 1 resolved, got %d", reloaded.Resolved())
	}
}

func TestSaveIsDeterministic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	l := Open(path, testLogger)
	for _, id := range []string{"30", "4", "100"} {
		l.Put(id, types.Record{Phone: "+7" + id, NotFormattedPhone: "7" + id, Source: types.SourceDirect})
	}
	l.Save()
	first, _ := os.ReadFile(path)

	Open(path, testLogger).Save()
	second, _ := os.ReadFile(path)

	if !bytes.Equal(first, second) {
		t.Error("re-saving an unchanged ledger changed its bytes")
	}
	if !bytes.Contains(first, []byte(`"data"`)) {
		t.Error("missing data envelope")
	}
	if bytes.Contains(first, []byte("siteBlockId")) {
		t.Error("siteBlockId must be omitted when absent")
	}
}

func TestIDsNumericOrder(t *testing.T) {
	l := Open(filepath.Join(t.TempDir(), "data.json"), testLogger)
	for _, id := range []string{"100", "9", "abc", "20"} {
		l.Put(id, types.FailedRecord(nil))
	}
	got := l.IDs()
	want := []string{"9", "20", "100", "abc"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("IDs = %v, want %v", got, want)
		}
	}
}

func TestReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	l := Open(path, testLogger)
	l.Put("1", types.FailedRecord(nil))
	l.Save()

	if err := l.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if l.Len() != 0 || l.Has("1") {
		t.Error("records survived reset")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("ledger file survived reset")
	}
}
