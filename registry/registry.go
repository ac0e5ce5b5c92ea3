// Package registry implements the compact, mergeable set of acknowledged
// primary keys each reader's checkpoint carries. It is represented as a
// sorted list of non-overlapping, non-adjacent, closed integer runs
// [lo, hi], so a reader that has acked "everything from 0 to a million"
// costs one run instead of a million set entries. Union and intersection
// are O(#runs(a) + #runs(b)), never O(#elements).
package registry

import (
	"encoding/binary"
	"fmt"
)

// run is a closed, inclusive interval [Lo, Hi] with Lo <= Hi.
type run struct {
	Lo, Hi uint64
}

// Registry is a set of non-negative integers backed by sorted run-length
// segments. The zero value is the empty set and is ready to use.
type Registry struct {
	runs []run
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Contains reports whether pk is a member of the set.
func (r *Registry) Contains(pk uint64) bool {
	i := r.search(pk)
	return i < len(r.runs) && r.runs[i].Lo <= pk
}

// search returns the index of the first run whose Hi is >= pk, i.e. the
// only run that could possibly contain pk.
func (r *Registry) search(pk uint64) int {
	lo, hi := 0, len(r.runs)
	for lo < hi {
		mid := (lo + hi) / 2
		if r.runs[mid].Hi < pk {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Add inserts pk into the set, merging and coalescing runs as needed to
// restore the sorted/non-adjacent invariant.
func (r *Registry) Add(pk uint64) {
	i := r.search(pk)

	// already a member
	if i < len(r.runs) && r.runs[i].Lo <= pk {
		return
	}

	// extend the run to the left if pk is adjacent to it
	if i < len(r.runs) && r.runs[i].Lo == pk+1 {
		r.runs[i].Lo = pk
	} else {
		r.runs = append(r.runs, run{})
		copy(r.runs[i+1:], r.runs[i:])
		r.runs[i] = run{Lo: pk, Hi: pk}
	}

	// merge with the run to the left if now adjacent/overlapping
	if i > 0 && r.runs[i-1].Hi+1 >= r.runs[i].Lo {
		r.runs[i-1].Hi = max(r.runs[i-1].Hi, r.runs[i].Hi)
		r.runs = append(r.runs[:i], r.runs[i+1:]...)
		i--
	}

	// merge with the run to the right if now adjacent/overlapping
	if i+1 < len(r.runs) && r.runs[i].Hi+1 >= r.runs[i+1].Lo {
		r.runs[i].Hi = max(r.runs[i].Hi, r.runs[i+1].Hi)
		r.runs = append(r.runs[:i+1], r.runs[i+2:]...)
	}
}

func max(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// Union returns a new registry containing every pk present in r or in
// other, computed in a single O(#runs(r)+#runs(other)) merge pass.
func (r *Registry) Union(other *Registry) *Registry {
	out := &Registry{}
	a, b := r.runs, other.runs
	var i, j int

	var cur *run
	push := func(x run) {
		if cur != nil && cur.Hi+1 >= x.Lo {
			if x.Hi > cur.Hi {
				cur.Hi = x.Hi
			}
			return
		}
		if cur != nil {
			out.runs = append(out.runs, *cur)
		}
		c := x
		cur = &c
	}

	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i].Lo <= b[j].Lo):
			push(a[i])
			i++
		default:
			push(b[j])
			j++
		}
	}
	if cur != nil {
		out.runs = append(out.runs, *cur)
	}
	return out
}

// Intersect returns a new registry containing every pk present in both r
// and other, computed in a single O(#runs(r)+#runs(other)) sweep.
func (r *Registry) Intersect(other *Registry) *Registry {
	out := &Registry{}
	a, b := r.runs, other.runs
	var i, j int

	for i < len(a) && j < len(b) {
		lo := maxU(a[i].Lo, b[j].Lo)
		hi := minU(a[i].Hi, b[j].Hi)
		if lo <= hi {
			out.runs = append(out.runs, run{Lo: lo, Hi: hi})
		}

		if a[i].Hi < b[j].Hi {
			i++
		} else {
			j++
		}
	}
	return out
}

func maxU(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minU(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// Len returns the number of runs (not elements) in the registry.
func (r *Registry) Len() int { return len(r.runs) }

// Iter calls yield for every pk in the set in ascending order, stopping
// early if yield returns false. It never materializes the full element
// list, so walking an intersection of a million-pk registry costs no
// extra allocation beyond the runs themselves.
func (r *Registry) Iter(yield func(pk uint64) bool) {
	for _, run := range r.runs {
		for pk := run.Lo; ; pk++ {
			if !yield(pk) {
				return
			}
			if pk == run.Hi {
				break
			}
		}
	}
}

// MarshalBinary serializes the registry as a compact run list: a varint
// run count followed by, per run, a varint Lo and a varint run length
// (Hi-Lo).
func (r *Registry) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, binary.MaxVarintLen64*(1+2*len(r.runs)))
	buf = appendUvarint(buf, uint64(len(r.runs)))
	for _, run := range r.runs {
		buf = appendUvarint(buf, run.Lo)
		buf = appendUvarint(buf, run.Hi-run.Lo)
	}
	return buf, nil
}

// UnmarshalBinary replaces the registry's contents with the run list
// encoded in b, as produced by MarshalBinary.
func (r *Registry) UnmarshalBinary(b []byte) error {
	n, b, err := readUvarint(b)
	if err != nil {
		return fmt.Errorf("registry: read run count: %w", err)
	}

	runs := make([]run, 0, n)
	for i := uint64(0); i < n; i++ {
		var lo, width uint64
		lo, b, err = readUvarint(b)
		if err != nil {
			return fmt.Errorf("registry: read run %d lo: %w", i, err)
		}
		width, b, err = readUvarint(b)
		if err != nil {
			return fmt.Errorf("registry: read run %d width: %w", i, err)
		}
		runs = append(runs, run{Lo: lo, Hi: lo + width})
	}

	r.runs = runs
	return nil
}

func appendUvarint(buf []byte, n uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	m := binary.PutUvarint(tmp[:], n)
	return append(buf, tmp[:m]...)
}

func readUvarint(b []byte) (uint64, []byte, error) {
	n, m := binary.Uvarint(b)
	if m <= 0 {
		return 0, nil, fmt.Errorf("malformed varint")
	}
	return n, b[m:], nil
}
