package promise

import "strings"

// Sequence utilities for rendered trace lines. These are pure functions over
// ordered string sequences; none of them mutate their inputs, and all of them
// return fresh backing storage so results never alias arguments.

// leadingWhitespace returns the longest prefix of s consisting entirely of
// space and tab characters.
func leadingWhitespace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

// AppendIndented returns lines with newLine appended, after prefixing newLine
// with the leading whitespace of the sequence's last element. When lines is
// empty the new element equals newLine exactly.
//
// This keeps a growing trace visually aligned with the nesting depth of the
// most recently appended frame.
func AppendIndented(lines []string, newLine string) []string {
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines...)
	if len(lines) != 0 {
		newLine = leadingWhitespace(lines[len(lines)-1]) + newLine
	}
	return append(out, newLine)
}

// StripEmptyLines returns lines with empty-string elements removed from the
// leading and trailing edges only. Empty strings strictly between two
// non-empty elements are preserved, so intentional blank separators survive
// while blank padding is trimmed. The operation is idempotent.
func StripEmptyLines(lines []string) []string {
	start := 0
	for start < len(lines) && lines[start] == "" {
		start++
	}
	end := len(lines)
	for end > start && lines[end-1] == "" {
		end--
	}
	out := make([]string, end-start)
	copy(out, lines[start:end])
	return out
}

// ReplaceCommonTrailingElements collapses the longest suffix shared by oldSeq
// and newSeq, under element-wise equality, into a single anchor line plus
// marker.
//
// When the sequences share no trailing elements the result is simply a copy
// of newSeq. Otherwise, with k the length of the common suffix, the result is
// the first len(newSeq)-k elements of newSeq, followed by the first element
// of the common suffix kept verbatim as an anchor, followed by marker in
// place of the remaining k-1 shared elements.
//
// This is the elision step used when stitching the trace of a new
// asynchronous hop onto the trace of its predecessor: frames shared between
// the two captures are typically the caller's own stack above the async
// boundary, and collapsing them keeps multi-hop traces focused on what
// differs per hop.
func ReplaceCommonTrailingElements(oldSeq, newSeq []string, marker string) []string {
	var k int
	for k < len(oldSeq) && k < len(newSeq) &&
		oldSeq[len(oldSeq)-1-k] == newSeq[len(newSeq)-1-k] {
		k++
	}

	if k == 0 {
		out := make([]string, len(newSeq))
		copy(out, newSeq)
		return out
	}

	out := make([]string, 0, len(newSeq)-k+2)
	out = append(out, newSeq[:len(newSeq)-k]...)
	out = append(out, newSeq[len(newSeq)-k], marker)
	return out
}
