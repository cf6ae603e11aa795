package svs

import "fmt"

// reconcileLengths pads or truncates each integer label stream so every row
// has exactly target entries, padding with zeros on the right. Declared
// lengths equal to the incoming row width are treated as full rows and
// corrected to the target; shorter declared lengths are kept, capped at the
// target. The inputs are not modified.
func reconcileLengths(stream [][]int64, lengths []int64, target int64) ([][]int64, []int64, error) {
	if len(stream) == 0 {
		return nil, nil, fmt.Errorf("svs: reconcileLengths requires a non-empty stream")
	}

	if len(lengths) != len(stream) {
		return nil, nil, fmt.Errorf("svs: reconcileLengths got %d lengths for %d rows", len(lengths), len(stream))
	}

	if target <= 0 {
		return nil, nil, fmt.Errorf("svs: reconcileLengths target must be positive, got %d", target)
	}

	outStream := make([][]int64, len(stream))
	outLengths := make([]int64, len(lengths))

	for i, row := range stream {
		width := int64(len(row))

		l := lengths[i]
		if l < 0 || l > width {
			return nil, nil, fmt.Errorf("svs: reconcileLengths row %d declares length %d for width %d", i, l, width)
		}

		if l == width {
			l = target
		}

		outLengths[i] = min(l, target)

		padded := make([]int64, target)
		copy(padded, row[:min(width, target)])
		outStream[i] = padded
	}

	return outStream, outLengths, nil
}
