package logwriter

import "sync"

// SegReader tracks one consumer's forward-only position in the segment
// chain, independent of the checkpoint-based acknowledgement reader of
// package engine. Besides reading records, it is what Writer.Delete
// consults: a segment the reader currently holds open is refused.
type SegReader struct {
	w    *Writer
	name string

	mu     sync.Mutex
	seg    *segment
	rs     *recordScanner
	segNum int64
}

// RegisterReader creates a SegReader bound to name and tracks it so
// Delete can consult its position. Registering the same name twice
// replaces the previous tracker.
func (w *Writer) RegisterReader(name string) *SegReader {
	w.mu.Lock()
	defer w.mu.Unlock()

	r := &SegReader{w: w, name: name}
	w.readers[name] = r
	return r
}

// Forget stops tracking name, letting Delete proceed past segments it was
// pinning.
func (w *Writer) Forget(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if r, ok := w.readers[name]; ok {
		_ = r.close()
		delete(w.readers, name)
	}
}

func (r *SegReader) close() error {
	if r.seg != nil {
		err := r.seg.close()
		r.seg = nil
		r.rs = nil
		return err
	}
	return nil
}

// openAt opens segment number n for reading and resets the scanner.
func (r *SegReader) openAt(n int64) error {
	if r.seg != nil {
		_ = r.seg.close()
	}
	seg, err := r.w.openSegmentForRead(n)
	if err != nil {
		return err
	}
	r.seg = seg
	r.rs = newRecordScanner(seg.file)
	r.segNum = n
	return nil
}

// NextRecord returns the next record's payload in global order, advancing
// across segment boundaries as needed, starting from the lowest segment
// number still present in the logindex the first time it is called. It
// returns (nil, false, nil) once every segment has been exhausted.
func (r *SegReader) NextRecord() ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seg == nil {
		first, ok := r.w.firstSegment()
		if !ok {
			return nil, false, nil
		}
		if err := r.openAt(first); err != nil {
			return nil, false, err
		}
	}

	for {
		if r.rs.scan() {
			return r.rs.record.data, true, nil
		}
		if r.rs.err != nil {
			return nil, false, r.rs.err
		}

		next, ok := r.w.segmentAfter(r.segNum + 1)
		if !ok {
			return nil, false, nil
		}
		if err := r.openAt(next); err != nil {
			return nil, false, err
		}
	}
}

// openOn reports whether the reader currently holds an open handle on
// segment n. A reader that has not yet read anything, or that has already
// moved on past n, holds no handle on it and does not pin it against
// deletion.
func (r *SegReader) openOn(n int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seg != nil && r.segNum == n
}
