// Package export renders a conversation as a downloadable report.
package export

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"rotorwise.app/rotorwise/internal/store"
)

const (
	ReportTitle = "RotorWise AI - Diagnosis Report"

	pdfMargin     = 10.0
	pdfLineHeight = 5.0
	// vertical space kept free at the bottom of every page
	pdfBottomGap = 20.0
)

// FileName is the suggested download name for a PDF report generated at now.
func FileName(now time.Time) string {
	return fmt.Sprintf("rx8-diagnosis-%s.pdf", now.Format("2006-01-02"))
}

// PDF writes the transcript as an A4 report and returns the number of pages.
// Message text is wrapped to the page width and continues on a new page when
// the current one is full.
func PDF(w io.Writer, messages []store.Message, now time.Time) (int, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle(ReportTitle, true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageW, pageH := pdf.GetPageSize()
	maxWidth := pageW - 2*pdfMargin
	limit := pageH - pdfBottomGap

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(maxWidth, 10, tr(ReportTitle), "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 8)
	pdf.SetTextColor(150, 150, 150)
	pdf.CellFormat(maxWidth, 6, tr("Report generated on: "+now.Format("2006-01-02 15:04:05")), "", 1, "L", false, 0, "")

	pdf.SetLineWidth(0.5)
	y := pdf.GetY() + 2
	pdf.Line(pdfMargin, y, pageW-pdfMargin, y)
	pdf.SetY(y + 6)

	for _, msg := range messages {
		prefix := "You: "
		style := "B"
		gray := 0
		if msg.Role == store.RoleModel {
			prefix = "RotorWise: "
			style = ""
			gray = 40
		}
		pdf.SetFont("Helvetica", style, 12)
		pdf.SetTextColor(gray, gray, gray)

		for _, line := range wrap(pdf, tr(prefix+plainText(msg.Content)), maxWidth) {
			if pdf.GetY()+pdfLineHeight > limit {
				pdf.AddPage()
			}
			pdf.CellFormat(maxWidth, pdfLineHeight, line, "", 1, "L", false, 0, "")
		}
		pdf.Ln(8)
	}

	if err := pdf.Output(w); err != nil {
		return 0, fmt.Errorf("failed to write pdf: %w", err)
	}
	return pdf.PageCount(), nil
}

// wrap splits text on its own line breaks, then to the given width.
func wrap(pdf *fpdf.Fpdf, text string, width float64) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		if strings.TrimSpace(para) == "" {
			lines = append(lines, "")
			continue
		}
		for _, l := range pdf.SplitLines([]byte(para), width) {
			lines = append(lines, string(l))
		}
	}
	return lines
}

var (
	mdBold       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdLink       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	mdHeading    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdCodeFence  = regexp.MustCompile("(?m)^```[a-zA-Z]*\\s*$")
	mdInlineCode = regexp.MustCompile("`([^`]+)`")
)

// plainText drops the markdown markup that has no meaning on paper.
func plainText(md string) string {
	s := strings.ReplaceAll(md, "\r\n", "\n")
	s = mdCodeFence.ReplaceAllString(s, "")
	s = mdLink.ReplaceAllString(s, "$1 ($2)")
	s = mdBold.ReplaceAllString(s, "$1")
	s = mdInlineCode.ReplaceAllString(s, "$1")
	s = mdHeading.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
