// Package planner partitions a file of known size into the byte ranges that
// segment workers fetch independently.
package planner

import "fmt"

// ByteRange is one contiguous slice of the source file, inclusive on both
// ends. Ranges produced by Plan are sorted by Index, non-overlapping and
// union to exactly [0, totalSize-1].
type ByteRange struct {
	Index     int
	StartByte int64
	EndByte   int64
}

func (r ByteRange) Length() int64 {
	return r.EndByte - r.StartByte + 1
}

// Plan splits totalSize bytes into segments ranges. Every range gets
// totalSize/segments bytes and the last one absorbs the remainder. When the
// file is smaller than the requested segment count, the effective count is
// reduced so no zero-length range is ever produced.
func Plan(totalSize int64, segments int) ([]ByteRange, error) {
	if totalSize <= 0 {
		return nil, fmt.Errorf("invalid total size: %d", totalSize)
	}
	if segments < 1 {
		return nil, fmt.Errorf("invalid segment count: %d", segments)
	}
	if totalSize < int64(segments) {
		segments = int(totalSize)
	}
	base := totalSize / int64(segments)
	ranges := make([]ByteRange, 0, segments)
	for i := 0; i < segments; i++ {
		start := int64(i) * base
		end := start + base - 1
		if i == segments-1 {
			end = totalSize - 1
		}
		ranges = append(ranges, ByteRange{Index: i, StartByte: start, EndByte: end})
	}
	return ranges, nil
}
