package logwriter

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/xxh3"
)

// segment is one append-only file in the writer's segment chain. Records
// are addressed within a segment by a 1-based record index (recno),
// matching the spec's "(segment_number, record_index_within_segment)"
// global position.
type segment struct {
	number int64
	file   *os.File
	size   int64 // current on-disk size in bytes
	count  int64 // number of records currently in the segment
}

func createSegment(path string, number int64) (*segment, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create segment file %q: %w", path, err)
	}
	return &segment{number: number, file: f}, nil
}

// openSegment opens an existing segment file and recovers its size and
// record count by scanning it, truncating away any torn tail record the
// way the teacher's parseSegment does.
func openSegment(path string, number int64) (*segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open segment file %q: %w", path, err)
	}

	seg := &segment{number: number, file: f}

	rs := newRecordScanner(f)
	var count int64
	for rs.scan() {
		count++
	}
	if rs.err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("scan segment %d: %w", number, rs.err)
	}

	seg.size = rs.end
	seg.count = count

	if err := seg.file.Truncate(seg.size); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("truncate segment %d: %w", number, err)
	}
	if _, err := seg.file.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("seek to end of segment %d: %w", number, err)
	}

	return seg, nil
}

func (s *segment) close() error {
	return s.file.Close()
}

const hdrLen = 12 // 8-byte xxh3 checksum + 4-byte data length

// append writes data as one record and returns the 1-based recno it was
// assigned within the segment.
func (s *segment) append(data []byte) (int64, error) {
	buf := make([]byte, hdrLen+len(data))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(data)))
	copy(buf[hdrLen:], data)

	checksum := xxh3.Hash(buf[8:])
	binary.BigEndian.PutUint64(buf[0:8], checksum)

	if _, err := s.file.WriteAt(buf, s.size); err != nil {
		return 0, fmt.Errorf("write record to segment %d: %w", s.number, err)
	}

	s.size += int64(len(buf))
	s.count++
	return s.count, nil
}

// scannedRecord is what recordScanner yields as it walks a segment.
type scannedRecord struct {
	data  []byte
	off   int64
	recno int64
}

// recordScanner walks a segment's records from the start, truncating at
// the first sign of a torn tail write exactly as the teacher's
// recordScanner does: mid-file checksum mismatches are hard errors
// (those records were acknowledged to a caller), but a truncated header
// or payload at EOF is treated as an unflushed tail and silently dropped.
type recordScanner struct {
	reader *bufio.Reader
	record *scannedRecord
	end    int64
	recno  int64
	err    error
}

func newRecordScanner(r io.ReaderAt) *recordScanner {
	const maxInt64 = 1<<63 - 1
	sr := io.NewSectionReader(r, 0, maxInt64)
	return &recordScanner{reader: bufio.NewReader(sr)}
}

func (rs *recordScanner) scan() bool {
	if rs.err != nil {
		return false
	}
	rs.record = nil

	isEOF := func(err error) bool {
		return err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF)
	}

	var hdr [hdrLen]byte
	if _, err := io.ReadFull(rs.reader, hdr[:]); err != nil {
		if !isEOF(err) {
			rs.err = fmt.Errorf("read record header: %w", err)
		}
		return false
	}

	checksum := binary.BigEndian.Uint64(hdr[0:8])
	dataLen := binary.BigEndian.Uint32(hdr[8:12])

	buf := make([]byte, hdrLen+dataLen)
	copy(buf, hdr[:])
	if _, err := io.ReadFull(rs.reader, buf[hdrLen:]); err != nil {
		if !isEOF(err) {
			rs.err = fmt.Errorf("read record payload: %w", err)
		}
		return false
	}

	if computed := xxh3.Hash(buf[8:]); computed != checksum {
		rs.err = fmt.Errorf("%w: at offset %d", ErrChecksumMismatch, rs.end)
		return false
	}

	rs.recno++
	rs.record = &scannedRecord{
		data:  buf[hdrLen:],
		off:   rs.end,
		recno: rs.recno,
	}
	rs.end += int64(len(buf))
	return true
}
