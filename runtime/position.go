package runtime

// OffsetToLineColumn converts a caret offset, counted in characters, into a
// zero-based line and column. The offset is clamped to [0, len(text)].
func OffsetToLineColumn(text string, offset int) (line, col int) {
	runes := []rune(text)
	offset = max(0, min(offset, len(runes)))

	lineStart := 0
	for i := range offset {
		if runes[i] == '\n' {
			line++
			lineStart = i + 1
		}
	}
	return line, offset - lineStart
}
