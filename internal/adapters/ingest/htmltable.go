package ingest

import (
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

var (
	trSelector      = cascadia.MustCompile("tr")
	tableSelector   = cascadia.MustCompile("table")
	grigliaSelector = cascadia.MustCompile("table.Griglia")
)

// tableTo2D expands an HTML table into a rectangular grid, copying the text
// of spanning cells into every slot they cover. A span of 0 reaches the end
// of the table. The last cell of a row counts as one column wide when sizing
// the grid so trailing colspans do not create empty columns.
func tableTo2D(table *html.Node) [][]string {
	rows := cascadia.QueryAll(table, trSelector)

	colcount := 0
	var spans []int
	for r, tr := range rows {
		cells := rowCells(tr)
		width := len(spans)
		for i, c := range cells {
			if i == len(cells)-1 {
				width++
				continue
			}
			width += spanAttr(c, "colspan", 1)
		}
		colcount = max(colcount, width)

		for _, c := range cells {
			s := spanAttr(c, "rowspan", 0)
			if s == 0 {
				s = len(rows) - r
			}
			spans = append(spans, s)
		}
		next := spans[:0]
		for _, s := range spans {
			if s > 1 {
				next = append(next, s-1)
			}
		}
		spans = next
	}

	grid := make([][]string, len(rows))
	for i := range grid {
		grid[i] = make([]string, colcount)
	}

	pending := make(map[int]int)
	for r, tr := range rows {
		offset := 0
		for col, c := range rowCells(tr) {
			col += offset
			for pending[col] > 0 {
				offset++
				col++
			}

			rowspan := spanAttr(c, "rowspan", 0)
			if rowspan == 0 {
				rowspan = len(rows) - r
			}
			pending[col] = rowspan
			colspan := spanAttr(c, "colspan", 0)
			if colspan == 0 {
				colspan = colcount - col
			}
			offset += colspan - 1

			value := nodeText(c)
			for dr := 0; dr < rowspan; dr++ {
				for dc := 0; dc < colspan; dc++ {
					if r+dr >= len(grid) || col+dc >= colcount {
						continue
					}
					grid[r+dr][col+dc] = value
					pending[col+dc] = rowspan
				}
			}
		}
		for c, s := range pending {
			if s > 1 {
				pending[c] = s - 1
			} else {
				delete(pending, c)
			}
		}
	}
	return grid
}

// rowCells returns the td and th children of tr, not nested ones.
func rowCells(tr *html.Node) []*html.Node {
	var out []*html.Node
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
			out = append(out, c)
		}
	}
	return out
}

// spanAttr reads a span attribute. Missing or unparsable values give 1 and
// an explicit 0 gives zeroAs.
func spanAttr(n *html.Node, name string, zeroAs int) int {
	for _, a := range n.Attr {
		if a.Key != name {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(a.Val))
		switch {
		case err != nil || v < 0:
			return 1
		case v == 0:
			return zeroAs
		}
		return v
	}
	return 1
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// deleteEvery removes rows[start], rows[start+step], ... and returns the
// rest.
func deleteEvery(rows [][]string, start, step int) [][]string {
	out := make([][]string, 0, len(rows))
	for i, r := range rows {
		if i >= start && (i-start)%step == 0 {
			continue
		}
		out = append(out, r)
	}
	return out
}
