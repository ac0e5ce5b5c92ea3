package logwriter

import (
	"errors"
	"fmt"
	"testing"

	"github.com/epokhe/binlog/ierr"
)

func openTempWriter(t *testing.T, opts ...Option) *Writer {
	t.Helper()
	w, err := Open(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestAppendRotatesSegmentsAtMaxLogEvents(t *testing.T) {
	w := openTempWriter(t, WithMaxLogEvents(10))

	var lastSeg int64
	for i := 0; i < 25; i++ {
		seg, _, err := w.Append([]byte(fmt.Sprintf("%d", i)))
		if err != nil {
			t.Fatalf("Append(%d) failed: %v", i, err)
		}
		lastSeg = seg
	}

	if lastSeg != 3 {
		t.Fatalf("expected 25 records over maxLogEvents=10 to land in segment 3, got %d", lastSeg)
	}
	if len(w.index) != 3 {
		t.Fatalf("expected 3 segments in logindex, got %d: %v", len(w.index), w.index)
	}
	for i, want := range []string{"log.1", "log.2", "log.3"} {
		if w.index[i].filename != want {
			t.Errorf("index[%d] = %q, want %q", i, w.index[i].filename, want)
		}
	}
}

func TestDeleteRefusesCurrentSegment(t *testing.T) {
	w := openTempWriter(t, WithMaxLogEvents(10))

	if _, _, err := w.Append([]byte("x")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if err := w.Delete(1); !errors.Is(err, ierr.IllegalState) {
		t.Errorf("expected IllegalState deleting the current segment, got %v", err)
	}
}

func TestDeleteSucceedsOnceSegmentIsNoLongerCurrent(t *testing.T) {
	w := openTempWriter(t, WithMaxLogEvents(1))

	for i := 0; i < 2; i++ {
		if _, _, err := w.Append([]byte(fmt.Sprintf("%d", i))); err != nil {
			t.Fatalf("Append(%d) failed: %v", i, err)
		}
	}

	if err := w.Delete(1); err != nil {
		t.Fatalf("expected segment 1 deletable once segment 2 is current, got %v", err)
	}
}

func TestDeleteUnknownSegmentFails(t *testing.T) {
	w := openTempWriter(t, WithMaxLogEvents(10))
	if _, _, err := w.Append([]byte("x")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if err := w.Delete(99); !errors.Is(err, ierr.NotFound) {
		t.Errorf("expected NotFound deleting a never-existed segment, got %v", err)
	}
}

func TestDeleteRefusedWhileReaderIsInsideSegment(t *testing.T) {
	w := openTempWriter(t, WithMaxLogEvents(10))
	for i := 0; i < 25; i++ {
		if _, _, err := w.Append([]byte(fmt.Sprintf("%d", i))); err != nil {
			t.Fatalf("Append(%d) failed: %v", i, err)
		}
	}

	r := w.RegisterReader("reader-a")

	// A reader that has never read anything holds no segment handle, so it
	// does not pin segment 1.
	if err := w.Delete(1); err != nil {
		t.Fatalf("fresh reader should not block delete(1): %v", err)
	}

	// Recreate segment 1's scenario: register a second reader against a
	// fresh writer and advance it partway through segment 1.
	w2 := openTempWriter(t, WithMaxLogEvents(10))
	for i := 0; i < 25; i++ {
		if _, _, err := w2.Append([]byte(fmt.Sprintf("%d", i))); err != nil {
			t.Fatalf("Append(%d) failed: %v", i, err)
		}
	}
	r2 := w2.RegisterReader("reader-b")
	for i := 0; i < 10; i++ {
		if _, ok, err := r2.NextRecord(); err != nil || !ok {
			t.Fatalf("NextRecord(%d) failed: ok=%v err=%v", i, ok, err)
		}
	}
	if err := w2.Delete(1); !errors.Is(err, ierr.IllegalState) {
		t.Errorf("expected delete(1) refused while reader has only consumed segment 1, got %v", err)
	}

	// Consuming the first record of segment 2 releases the segment 1 handle.
	if _, ok, err := r2.NextRecord(); err != nil || !ok {
		t.Fatalf("NextRecord into segment 2 failed: ok=%v err=%v", ok, err)
	}
	if err := w2.Delete(1); err != nil {
		t.Errorf("expected delete(1) to succeed once reader has advanced into segment 2, got %v", err)
	}

	_ = r
}

func TestFreshReaderAfterDeletionSkipsToRemainingRecords(t *testing.T) {
	w := openTempWriter(t, WithMaxLogEvents(10))
	for i := 0; i < 25; i++ {
		if _, _, err := w.Append([]byte(fmt.Sprintf("%d", i))); err != nil {
			t.Fatalf("Append(%d) failed: %v", i, err)
		}
	}

	advance := w.RegisterReader("advance")
	for i := 0; i < 11; i++ {
		if _, ok, err := advance.NextRecord(); err != nil || !ok {
			t.Fatalf("advance NextRecord(%d): ok=%v err=%v", i, ok, err)
		}
	}
	if err := w.Delete(1); err != nil {
		t.Fatalf("Delete(1) failed: %v", err)
	}

	fresh := w.RegisterReader("fresh")
	for want := 10; want < 25; want++ {
		data, ok, err := fresh.NextRecord()
		if err != nil || !ok {
			t.Fatalf("fresh NextRecord at want=%d: ok=%v err=%v", want, ok, err)
		}
		if string(data) != fmt.Sprintf("%d", want) {
			t.Errorf("got %q, want %q", data, fmt.Sprintf("%d", want))
		}
	}

	if _, ok, err := fresh.NextRecord(); err != nil || ok {
		t.Errorf("expected exhaustion after last record, got ok=%v err=%v", ok, err)
	}
}

func TestAppendDeferRotationInvariant(t *testing.T) {
	w := openTempWriter(t, WithMaxLogEvents(1))

	seg1, recNo1, err := w.Append([]byte("a"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if seg1 != 1 || recNo1 != 1 {
		t.Fatalf("got (seg=%d, recNo=%d), want (1, 1)", seg1, recNo1)
	}
	if !w.nextWillRotate {
		t.Fatalf("expected nextWillRotate after filling segment 1")
	}

	seg2, recNo2, err := w.Append([]byte("b"))
	if err != nil {
		t.Fatalf("second Append failed: %v", err)
	}
	if seg2 != 2 || recNo2 != 1 {
		t.Fatalf("got (seg=%d, recNo=%d), want (2, 1)", seg2, recNo2)
	}
}

func TestReopenRecoversTornTail(t *testing.T) {
	dir := t.TempDir()
	w := func() *Writer {
		w, err := Open(dir, WithMaxLogEvents(10))
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		return w
	}()

	for i := 0; i < 3; i++ {
		if _, _, err := w.Append([]byte(fmt.Sprintf("%d", i))); err != nil {
			t.Fatalf("Append(%d) failed: %v", i, err)
		}
	}
	if err := w.current.file.Sync(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	// Simulate a torn tail: append garbage bytes past the last good record.
	if _, err := w.current.file.WriteAt([]byte{0, 1, 2, 3}, w.current.size); err != nil {
		t.Fatalf("corrupt write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	w2, err := Open(dir, WithMaxLogEvents(10))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer w2.Close() // nolint:errcheck

	r := w2.RegisterReader("r")
	for want := 0; want < 3; want++ {
		data, ok, err := r.NextRecord()
		if err != nil || !ok {
			t.Fatalf("NextRecord at want=%d: ok=%v err=%v", want, ok, err)
		}
		if string(data) != fmt.Sprintf("%d", want) {
			t.Errorf("got %q, want %q", data, fmt.Sprintf("%d", want))
		}
	}
	if _, ok, err := r.NextRecord(); err != nil || ok {
		t.Errorf("expected exhaustion after the 3 recovered records, got ok=%v err=%v", ok, err)
	}
}
