package overlay

import "github.com/mattn/go-runewidth"

// Margin keeps the overlay just inside the editor boundary.
const Margin = 2

// Geometry is the computed placement of the float, relative to the whole
// editor grid.
type Geometry struct {
	Anchor string
	Row    int
	Col    int
	Width  int
	Height int
}

// computeGeometry derives the anchor corner and origin from the
// configured position. Unrecognized positions fall through to
// bottom_left.
func computeGeometry(position string, topInset, editorW, editorH, width, height int) Geometry {
	g := Geometry{Width: width, Height: height}
	switch position {
	case "top_right":
		g.Anchor = "NE"
		g.Row = topInset
		g.Col = editorW - Margin
	case "top_left":
		g.Anchor = "NW"
		g.Row = topInset
		g.Col = Margin
	case "bottom_right":
		g.Anchor = "SE"
		g.Row = editorH - Margin
		g.Col = editorW - Margin
	default: // bottom_left
		g.Anchor = "SW"
		g.Row = editorH - height - Margin
		g.Col = Margin
	}
	return g
}

// contentWidth is the float width for the rendered lines: two columns of
// breathing room past the widest line, hard-capped at maxWidth. Width is
// measured in display cells, not bytes.
func contentWidth(lines []string, maxWidth int) int {
	widest := 0
	for _, l := range lines {
		if w := runewidth.StringWidth(l); w > widest {
			widest = w
		}
	}
	w := widest + 2
	if maxWidth > 0 && w > maxWidth {
		w = maxWidth
	}
	if w < 1 {
		w = 1
	}
	return w
}
