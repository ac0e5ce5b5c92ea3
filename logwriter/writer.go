// Package logwriter implements the segmented append-only log writer of
// spec.md §4.C: a file-per-segment layering, bounded record count per
// segment, with a small separate logindex mapping segment numbers to
// filenames. It is the lower-level alternative to the bolt-backed
// transactional KV façade (package boltstore) — usable on its own when a
// full transactional store is not wanted.
package logwriter

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
)

const logIndexName = "logindex"

// indexEntry is one row of the logindex: a segment number and the
// filename holding it.
type indexEntry struct {
	number   int64
	filename string
}

// Writer is the segmented log writer. A single Writer owns exactly one
// active segment at a time and is not safe to use concurrently from
// multiple writer goroutines without relying on its internal mutex, which
// serializes Append/Delete exactly the way the teacher's db.rw serializes
// Set/merge.
type Writer struct {
	dir    string
	prefix string

	maxLogEvents int64

	mu             sync.Mutex
	index          []indexEntry // sorted ascending by number
	indexFile      *os.File
	current        *segment
	nextWillRotate bool

	readers map[string]*SegReader

	log *zap.SugaredLogger
}

// Option configures a Writer at Open time.
type Option func(*Writer)

// WithMaxLogEvents sets the maximum number of records a single segment may
// hold before rotation. Default 10000.
func WithMaxLogEvents(n int64) Option {
	return func(w *Writer) { w.maxLogEvents = n }
}

// WithPrefix sets the segment filename prefix. Segment files are named
// "<prefix>.<n>". Default "log".
func WithPrefix(prefix string) Option {
	return func(w *Writer) { w.prefix = prefix }
}

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(w *Writer) { w.log = l }
}

// Open opens (creating if necessary) a segmented log writer rooted at
// dir. Unlike the teacher's DB.Open, which eagerly loads every segment on
// open, Open only loads the logindex: the active segment is created or
// reopened lazily on the first Append, exactly as the source writer
// leaves _current_log = None until the first append() call.
func Open(dir string, opts ...Option) (*Writer, error) {
	w := &Writer{
		dir:          dir,
		prefix:       "log",
		maxLogEvents: 10000,
		readers:      make(map[string]*SegReader),
		log:          zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %q: %w", dir, err)
	}

	indexFile, err := createFileDurable(dir, logIndexName)
	if err != nil {
		return nil, fmt.Errorf("open logindex: %w", err)
	}
	w.indexFile = indexFile

	raw, err := os.ReadFile(filepath.Join(dir, logIndexName))
	if err != nil {
		return nil, fmt.Errorf("read logindex: %w", err)
	}
	index, err := parseIndex(raw)
	if err != nil {
		return nil, fmt.Errorf("parse logindex: %w", err)
	}
	w.index = index

	if err := w.warnOnOrphanedSegments(); err != nil {
		return nil, fmt.Errorf("check orphaned segments: %w", err)
	}

	return w, nil
}

func parseIndex(raw []byte) ([]indexEntry, error) {
	var entries []indexEntry
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed logindex line %q", line)
		}
		n, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed logindex segment number %q: %w", parts[0], err)
		}
		entries = append(entries, indexEntry{number: n, filename: parts[1]})
	}
	return entries, nil
}

func serializeIndex(entries []indexEntry) []byte {
	var buf bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&buf, "%d\t%s\n", e.number, e.filename)
	}
	return buf.Bytes()
}

func (w *Writer) segmentName(number int64) string {
	return fmt.Sprintf("%s.%d", w.prefix, number)
}

func (w *Writer) segmentPath(number int64) string {
	return filepath.Join(w.dir, w.segmentName(number))
}

// warnOnOrphanedSegments compares the logindex against the segment files
// actually present on disk, the same mapset.Set difference the teacher's
// checkOrphanedSegments runs over the manifest, generalized from segment
// ids to segment numbers.
func (w *Writer) warnOnOrphanedSegments() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}

	expected := mapset.NewSet[string]()
	for _, e := range w.index {
		expected.Add(e.filename)
	}

	actual := mapset.NewSet[string]()
	prefixDot := w.prefix + "."
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == logIndexName || strings.HasPrefix(name, logIndexName+".") {
			continue
		}
		if strings.HasPrefix(name, prefixDot) {
			actual.Add(name)
		}
	}

	if orphans := actual.Difference(expected); orphans.Cardinality() != 0 {
		w.log.Warnw("orphaned segment files found", "dir", w.dir, "files", orphans.ToSlice())
	}

	return nil
}

func (w *Writer) persistIndex() error {
	f, err := writeFileAtomic(w.indexFile, serializeIndex(w.index))
	if err != nil {
		return fmt.Errorf("persist logindex: %w", err)
	}
	w.indexFile = f
	return nil
}

// Close flushes and closes the active segment and the logindex handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current != nil {
		if err := w.current.file.Sync(); err != nil {
			return err
		}
		if err := w.current.close(); err != nil {
			return err
		}
		w.current = nil
	}
	for _, r := range w.readers {
		_ = r.close()
	}
	return w.indexFile.Close()
}

// setCurrentLog returns the segment new appends should go to, opening or
// creating it as needed. It mirrors the source Writer.set_current_log
// exactly: reuse the last logindex entry if it still has room, otherwise
// roll to a new segment.
func (w *Writer) setCurrentLog() (*segment, error) {
	if len(w.index) == 0 {
		seg, err := createSegment(w.segmentPath(1), 1)
		if err != nil {
			return nil, fmt.Errorf("create first segment: %w", err)
		}
		w.index = append(w.index, indexEntry{number: 1, filename: w.segmentName(1)})
		if err := w.persistIndex(); err != nil {
			_ = seg.close()
			return nil, err
		}
		w.current = seg
		return seg, nil
	}

	last := w.index[len(w.index)-1]
	seg, err := openSegment(filepath.Join(w.dir, last.filename), last.number)
	if err != nil {
		return nil, fmt.Errorf("open segment %d: %w", last.number, err)
	}

	if seg.count >= w.maxLogEvents {
		if err := seg.close(); err != nil {
			return nil, fmt.Errorf("close full segment %d: %w", last.number, err)
		}

		next := last.number + 1
		seg, err = createSegment(w.segmentPath(next), next)
		if err != nil {
			return nil, fmt.Errorf("create segment %d: %w", next, err)
		}
		w.index = append(w.index, indexEntry{number: next, filename: w.segmentName(next)})
		if err := w.persistIndex(); err != nil {
			_ = seg.close()
			return nil, err
		}
	}

	w.current = seg
	return seg, nil
}

// Append writes data as a new record, rotating to a fresh segment first
// if the previous Append filled the current one. It returns the
// (segment number, within-segment recno) global position of the record,
// per spec.md §3's "(segment_number, record_index_within_segment)".
func (w *Writer) Append(data []byte) (segNum int64, recNo int64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.nextWillRotate {
		w.nextWillRotate = false
		if w.current != nil {
			if err := w.current.close(); err != nil {
				return 0, 0, fmt.Errorf("close segment before rotation: %w", err)
			}
			w.current = nil
		}
	}

	if w.current == nil {
		if _, err := w.setCurrentLog(); err != nil {
			return 0, 0, err
		}
	}

	recNo, err = w.current.append(data)
	if err != nil {
		return 0, 0, err
	}

	if recNo >= w.maxLogEvents {
		w.nextWillRotate = true
	}

	return w.current.number, recNo, nil
}

// Delete removes the named segment file and its logindex entry. It
// refuses with ErrSegmentInUse if the segment is the writer's current
// target, or if any registered reader currently holds it open (a reader
// that has not read anything yet holds no segment open), and
// with ErrSegmentNotFound if the segment is not present in the logindex.
func (w *Writer) Delete(segNum int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current != nil && w.current.number == segNum {
		return fmt.Errorf("%w: segment %d is the active write target", ErrSegmentInUse, segNum)
	}
	for name, r := range w.readers {
		if r.openOn(segNum) {
			return fmt.Errorf("%w: reader %q has not advanced past segment %d", ErrSegmentInUse, name, segNum)
		}
	}

	idx := sort.Search(len(w.index), func(i int) bool { return w.index[i].number >= segNum })
	if idx >= len(w.index) || w.index[idx].number != segNum {
		return fmt.Errorf("%w: segment %d", ErrSegmentNotFound, segNum)
	}

	filename := w.index[idx].filename
	w.index = append(w.index[:idx], w.index[idx+1:]...)
	if err := w.persistIndex(); err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(w.dir, filename)); err != nil {
		return fmt.Errorf("remove segment file %q: %w", filename, err)
	}
	return nil
}

// segmentAfter returns the smallest segment number in the logindex that
// is >= n, and whether one exists. Used by SegReader to skip over
// segments deleted out from under it.
func (w *Writer) segmentAfter(n int64) (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, e := range w.index {
		if e.number >= n {
			return e.number, true
		}
	}
	return 0, false
}

// firstSegment returns the lowest segment number currently in the
// logindex, and whether one exists.
func (w *Writer) firstSegment() (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.index) == 0 {
		return 0, false
	}
	return w.index[0].number, true
}

func (w *Writer) openSegmentForRead(number int64) (*segment, error) {
	w.mu.Lock()
	path := w.segmentPath(number)
	w.mu.Unlock()
	return openSegment(path, number)
}
