package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParseChunkRange parses a comma-separated list of integers and a-b
// inclusive closed ranges (e.g. "1-3,5,8-10") into the set of chunk
// numbers it denotes. An empty string yields an empty, non-nil set.
func ParseChunkRange(s string) (map[uint32]bool, error) {
	out := make(map[uint32]bool)
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if dash := strings.IndexByte(part, '-'); dash >= 0 {
			lo, err := strconv.ParseUint(part[:dash], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("bad range start %q: %w", part, err)
			}
			hi, err := strconv.ParseUint(part[dash+1:], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("bad range end %q: %w", part, err)
			}
			if hi < lo {
				return nil, fmt.Errorf("bad range %q: end before start", part)
			}
			for v := lo; v <= hi; v++ {
				out[uint32(v)] = true
			}
		} else {
			v, err := strconv.ParseUint(part, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("bad chunk number %q: %w", part, err)
			}
			out[uint32(v)] = true
		}
	}
	return out, nil
}

// BuildChunkRanges renders a set of chunk numbers as the compact comma
// range syntax used on the wire, e.g. {1,2,3,5,6} -> "1-3,5-6".
func BuildChunkRanges(nums map[uint32]bool) string {
	if len(nums) == 0 {
		return ""
	}
	sorted := make([]uint32, 0, len(nums))
	for n := range nums {
		sorted = append(sorted, n)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var b strings.Builder
	start := sorted[0]
	prev := sorted[0]
	flush := func(end uint32) {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if start == end {
			fmt.Fprintf(&b, "%d", start)
		} else {
			fmt.Fprintf(&b, "%d-%d", start, end)
		}
	}
	for _, n := range sorted[1:] {
		if n == prev+1 {
			prev = n
			continue
		}
		flush(prev)
		start, prev = n, n
	}
	flush(prev)
	return b.String()
}

// MaxChunkNumber returns the highest chunk number present, and false if
// nums is empty.
func MaxChunkNumber(nums map[uint32]bool) (uint32, bool) {
	var max uint32
	found := false
	for n := range nums {
		if !found || n > max {
			max = n
		}
		found = true
	}
	return max, found
}
