package ingestion_engine

import (
	"bytes"
	"fmt"
	"strings"
)

// fixtureLine is one text run to draw on a fixture page.
type fixtureLine struct {
	Size float64
	Y    float64
	Text string
}

// buildPDF writes a minimal uncompressed PDF with one Helvetica font and one
// page per entry. A page with no lines has no content stream.
func buildPDF(title string, pages [][]fixtureLine) []byte {
	var objs []string
	add := func(body string) int {
		objs = append(objs, body)
		return len(objs)
	}

	catalog := add("")
	tree := add("")
	widths := strings.TrimSpace(strings.Repeat("500 ", 224))
	font := add(fmt.Sprintf("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding /FirstChar 32 /LastChar 255 /Widths [%s] >>", widths))

	var kids []string
	for _, lines := range pages {
		contents := ""
		if len(lines) > 0 {
			var cs strings.Builder
			for _, l := range lines {
				fmt.Fprintf(&cs, "BT /F1 %g Tf 72 %g Td (%s) Tj ET\n", l.Size, l.Y, escapePDF(l.Text))
			}
			stream := cs.String()
			id := add(fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(stream), stream))
			contents = fmt.Sprintf(" /Contents %d 0 R", id)
		}
		page := add(fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >>%s >>", tree, font, contents))
		kids = append(kids, fmt.Sprintf("%d 0 R", page))
	}
	info := add(fmt.Sprintf("<< /Title (%s) /Author (Fixture) >>", escapePDF(title)))

	objs[catalog-1] = fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", tree)
	objs[tree-1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(kids))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, body := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R /Info %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, catalog, info, xref)
	return buf.Bytes()
}

func escapePDF(s string) string {
	return strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`).Replace(s)
}

const fixtureBody = "Quarterly revenue increased across every region while operating costs held steady, " +
	"which lifted the margin to its highest level in five years."

// textPage is a heading plus one long body line.
func textPage(heading string) []fixtureLine {
	return []fixtureLine{
		{Size: 18, Y: 720, Text: heading},
		{Size: 11, Y: 690, Text: fixtureBody},
	}
}
