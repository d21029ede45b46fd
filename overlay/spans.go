package overlay

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// span describes one contiguous region that changed between two renders:
// old lines [start, end) are replaced by lines, which sit at newStart in
// the new render.
type span struct {
	start    int
	end      int
	newStart int
	lines    []string
}

// lineSpans diffs two renders line-wise and returns the changed regions,
// so an in-place update only rewrites the lines that moved. Returns nil
// when the renders are identical.
func lineSpans(oldLines, newLines []string) []span {
	oldText := strings.Join(oldLines, "\n")
	newText := strings.Join(newLines, "\n")
	if oldText == newText {
		return nil
	}

	dmp := diffmatchpatch.New()
	chars1, chars2, lineArray := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(chars1, chars2, false), lineArray)

	var spans []span
	oldPos, newPos := 0, 0
	for i := 0; i < len(diffs); i++ {
		d := diffs[i]
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			n := countLines(d.Text)
			oldPos += n
			newPos += n

		case diffmatchpatch.DiffDelete:
			n := countLines(d.Text)
			var replacement []string
			// A delete directly followed by an insert is a modification.
			if i+1 < len(diffs) && diffs[i+1].Type == diffmatchpatch.DiffInsert {
				replacement = splitLines(diffs[i+1].Text)
				i++
			}
			spans = append(spans, span{start: oldPos, end: oldPos + n, newStart: newPos, lines: replacement})
			oldPos += n
			newPos += len(replacement)

		case diffmatchpatch.DiffInsert:
			inserted := splitLines(d.Text)
			spans = append(spans, span{start: oldPos, end: oldPos, newStart: newPos, lines: inserted})
			newPos += len(inserted)
		}
	}
	return spans
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

func countLines(text string) int {
	return len(splitLines(text))
}
