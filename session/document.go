package session

import "strings"

// LSP positions address lines by index and columns by UTF-16 code
// units. The conversion below maps a position onto a byte offset in the
// UTF-8 document so incremental edits land correctly on non-BMP
// content.

// Position is a zero-based line/character document position.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open [start, end) document range.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// ContentChange is one element of a didChange contentChanges array. A
// nil Range means full-document replacement.
type ContentChange struct {
	Range *Range `json:"range,omitempty"`
	Text  string `json:"text"`
}

// ApplyChanges applies content changes in order and returns the
// resulting document text.
func ApplyChanges(content string, changes []ContentChange) string {
	for _, change := range changes {
		if change.Range == nil {
			content = change.Text
			continue
		}

		start := byteOffset(content, change.Range.Start)
		end := byteOffset(content, change.Range.End)
		if end < start {
			end = start
		}

		content = content[:start] + change.Text + content[end:]
	}

	return content
}

// byteOffset converts a position to a byte offset. Out-of-range lines
// and characters clamp to the document and line ends respectively, as
// the LSP specification prescribes.
func byteOffset(content string, pos Position) int {
	offset := 0

	for line := 0; line < pos.Line; line++ {
		next := strings.IndexByte(content[offset:], '\n')
		if next < 0 {
			return len(content)
		}
		offset += next + 1
	}

	lineEnd := len(content)
	if next := strings.IndexByte(content[offset:], '\n'); next >= 0 {
		lineEnd = offset + next
	}

	units := 0
	for i, r := range content[offset:lineEnd] {
		if units >= pos.Character {
			return offset + i
		}
		if r > 0xFFFF {
			units += 2 // surrogate pair in UTF-16
		} else {
			units++
		}
	}

	return lineEnd
}
