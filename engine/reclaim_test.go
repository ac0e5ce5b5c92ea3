package engine

import (
	"errors"
	"testing"

	"github.com/epokhe/binlog/ierr"
)

func TestPurgeNoReadersReturnsZero(t *testing.T) {
	e := openTempEngine(t, nil)

	removed, errs, err := e.Purge()
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if removed != 0 || errs != 0 {
		t.Errorf("got (removed=%d, errs=%d), want (0, 0)", removed, errs)
	}
}

func TestPurgeRemovesOnlyCommonlyAckedEntries(t *testing.T) {
	e := openTempEngine(t, nil)

	entry0, err := e.Create(map[string]any{"owner": "alice"})
	if err != nil {
		t.Fatalf("Create entry0 failed: %v", err)
	}
	entry1, err := e.Create(map[string]any{"owner": "bob"})
	if err != nil {
		t.Fatalf("Create entry1 failed: %v", err)
	}

	if _, err := e.RegisterReader("r1"); err != nil {
		t.Fatalf("RegisterReader r1 failed: %v", err)
	}
	if _, err := e.RegisterReader("r2"); err != nil {
		t.Fatalf("RegisterReader r2 failed: %v", err)
	}

	r1, err := e.Reader("r1")
	if err != nil {
		t.Fatalf("Reader r1 failed: %v", err)
	}
	if err := r1.Ack(entry0); err != nil {
		t.Fatalf("r1 ack entry0 failed: %v", err)
	}
	if err := r1.Ack(entry1); err != nil {
		t.Fatalf("r1 ack entry1 failed: %v", err)
	}
	if err := r1.Commit(); err != nil {
		t.Fatalf("r1 commit failed: %v", err)
	}

	r2, err := e.Reader("r2")
	if err != nil {
		t.Fatalf("Reader r2 failed: %v", err)
	}
	if err := r2.Ack(entry0); err != nil {
		t.Fatalf("r2 ack entry0 failed: %v", err)
	}
	// r2 does not ack entry1.
	if err := r2.Commit(); err != nil {
		t.Fatalf("r2 commit failed: %v", err)
	}

	removed, errs, err := e.Purge()
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if removed != 1 || errs != 0 {
		t.Fatalf("got (removed=%d, errs=%d), want (1, 0)", removed, errs)
	}

	r3, err := e.Reader("r1")
	if err != nil {
		t.Fatalf("Reader r1 failed: %v", err)
	}
	if _, err := r3.Get(entry0.Pk); !errors.Is(err, ierr.NotFound) {
		t.Errorf("expected entry0 to be gone after purge, got %v", err)
	}
	if _, err := r3.Get(entry1.Pk); err != nil {
		t.Errorf("expected entry1 to survive purge, got %v", err)
	}
}

func TestRemoveReturnsFalseUntilEveryReaderHasAcked(t *testing.T) {
	e := openTempEngine(t, nil)

	entry, err := e.Create(map[string]any{"owner": "alice"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := e.RegisterReader("r1"); err != nil {
		t.Fatalf("RegisterReader failed: %v", err)
	}
	if _, err := e.RegisterReader("r2"); err != nil {
		t.Fatalf("RegisterReader failed: %v", err)
	}

	ok, err := e.Remove(entry)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if ok {
		t.Fatalf("expected Remove to return false before any reader acked")
	}

	r1, err := e.Reader("r1")
	if err != nil {
		t.Fatalf("Reader r1 failed: %v", err)
	}
	if err := r1.Ack(entry); err != nil {
		t.Fatalf("ack failed: %v", err)
	}
	if err := r1.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	ok, err = e.Remove(entry)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if ok {
		t.Fatalf("expected Remove to still return false: r2 has not acked")
	}

	r2, err := e.Reader("r2")
	if err != nil {
		t.Fatalf("Reader r2 failed: %v", err)
	}
	if err := r2.Ack(entry); err != nil {
		t.Fatalf("ack failed: %v", err)
	}
	if err := r2.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	ok, err = e.Remove(entry)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected Remove to succeed once every reader has acked")
	}

	r3, err := e.Reader("r1")
	if err != nil {
		t.Fatalf("Reader r1 failed: %v", err)
	}
	if _, err := r3.Get(entry.Pk); !errors.Is(err, ierr.NotFound) {
		t.Errorf("expected entry to be gone, got %v", err)
	}
}

func TestRemoveWithNoReadersFails(t *testing.T) {
	e := openTempEngine(t, nil)

	entry, err := e.Create(map[string]any{"owner": "alice"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err = e.Remove(entry)
	if !errors.Is(err, ierr.ReaderNotFound) {
		t.Errorf("expected ReaderNotFound, got %v", err)
	}
}
