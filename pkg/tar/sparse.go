package tar

import (
	"fmt"
	"math"
)

// SparseExtent records one stored data region of a sparse entry: NumBytes of
// physical data that belong at logical offset Offset. Regions between extents
// are holes, reconstructed as zeros.
type SparseExtent struct {
	Offset   int64
	NumBytes int64
}

// validateSparseExtents checks the ordering and overflow invariants of a
// sparse map against the entry's logical size. The checks mirror those of the
// BSD tar utility.
func validateSparseExtents(extents []SparseExtent, size int64) error {
	if size < 0 {
		return &HeaderError{Reason: "negative sparse entry size"}
	}
	var prevEnd int64
	for _, ext := range extents {
		switch {
		case ext.Offset < 0 || ext.NumBytes < 0:
			return &HeaderError{Reason: "negative sparse extent bounds"}
		case ext.Offset > math.MaxInt64-ext.NumBytes:
			return &HeaderError{Reason: "sparse extent bounds overflow"}
		case ext.Offset+ext.NumBytes > size:
			return &HeaderError{Reason: "sparse extent extends beyond entry size"}
		case ext.Offset < prevEnd:
			return &HeaderError{Reason: "sparse extents overlap or are out of order"}
		}
		prevEnd = ext.Offset + ext.NumBytes
	}
	return nil
}

type segmentKind int

const (
	segmentHole segmentKind = iota
	segmentData
)

// planSegment is one span of an entry's logical byte stream: either a hole of
// zeros or a run of physical data starting at physicalStart bytes into the
// entry's stored data section.
type planSegment struct {
	kind          segmentKind
	length        int64
	physicalStart int64 // data segments only
}

// extentPlan is the derived sequence of alternating hole and data spans that
// reconstructs a sparse entry's logical stream from its stored extents.
type extentPlan struct {
	segments     []planSegment
	logicalSize  int64
	physicalSize int64
}

// resolveExtents validates a sparse map and computes the plan covering the
// full logical size, including a trailing hole after the last extent. An
// empty extent list means the entry is not sparse; callers should read the
// physical bytes directly rather than going through a trivial one-segment
// plan.
func resolveExtents(extents []SparseExtent, size int64) (*extentPlan, error) {
	if err := validateSparseExtents(extents, size); err != nil {
		return nil, err
	}

	plan := &extentPlan{logicalSize: size}
	var logicalCursor, physicalCursor int64
	for _, ext := range extents {
		if ext.Offset < logicalCursor {
			// already rejected by validation; kept as a guard for callers
			// constructing plans from unvalidated maps
			return nil, &HeaderError{Reason: fmt.Sprintf("sparse extent at offset %d behind cursor %d", ext.Offset, logicalCursor)}
		}
		if ext.Offset > logicalCursor {
			plan.segments = append(plan.segments, planSegment{
				kind:   segmentHole,
				length: ext.Offset - logicalCursor,
			})
			logicalCursor = ext.Offset
		}
		if ext.NumBytes > 0 {
			plan.segments = append(plan.segments, planSegment{
				kind:          segmentData,
				length:        ext.NumBytes,
				physicalStart: physicalCursor,
			})
			logicalCursor += ext.NumBytes
			physicalCursor += ext.NumBytes
		}
	}
	if logicalCursor < size {
		plan.segments = append(plan.segments, planSegment{
			kind:   segmentHole,
			length: size - logicalCursor,
		})
	}
	plan.physicalSize = physicalCursor
	return plan, nil
}
