package redact

import "errors"

// ErrLengthChanged is returned when an edit does not preserve the text
// length. The positional diff cannot realign insertions or deletions, so
// such edits are rejected outright rather than misattributed.
var ErrLengthChanged = errors.New("edit changed the text length; only same-length in-place substitution is supported")

// DiffRanges compares two flattened strings position by position and
// returns the contiguous ranges that differ, in order.
func DiffRanges(before, after string) ([]Range, error) {
	b := []rune(before)
	a := []rune(after)
	if len(b) != len(a) {
		return nil, ErrLengthChanged
	}

	var ranges []Range
	open := -1
	for i := range b {
		if b[i] != a[i] {
			if open < 0 {
				open = i
			}
			continue
		}
		if open >= 0 {
			ranges = append(ranges, Range{Start: open, End: i})
			open = -1
		}
	}
	if open >= 0 {
		ranges = append(ranges, Range{Start: open, End: len(b)})
	}
	return ranges, nil
}
