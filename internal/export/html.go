package export

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"rotorwise.app/rotorwise/internal/store"
)

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

var page = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
<h1>{{.Title}}</h1>
<p style="color: #969696; font-size: 11px;">Report generated on: {{.Generated}}</p>
<hr>
{{range .Messages}}<section class="{{.Class}}">
<p><strong>{{.Label}}</strong></p>
{{.Body}}
</section>
{{end}}</body></html>
`))

type htmlMessage struct {
	Class string
	Label string
	Body  template.HTML
}

// Markdown writes the transcript as a markdown document.
func Markdown(w io.Writer, messages []store.Message, now time.Time) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n_Report generated on: %s_\n\n---\n\n", ReportTitle, now.Format("2006-01-02 15:04:05"))
	for _, msg := range messages {
		fmt.Fprintf(&b, "**%s**\n\n%s\n\n", label(msg), strings.TrimSpace(msg.Content))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// HTML writes the transcript as a standalone page, rendering each message's
// markdown (tables included).
func HTML(w io.Writer, messages []store.Message, now time.Time) error {
	rendered := make([]htmlMessage, 0, len(messages))
	for _, msg := range messages {
		var buf bytes.Buffer
		if err := md.Convert([]byte(msg.Content), &buf); err != nil {
			return fmt.Errorf("failed to render message %s: %w", msg.ID, err)
		}
		class := "model"
		if msg.Role == store.RoleUser {
			class = "user"
		}
		if msg.IsError {
			class += " error"
		}
		rendered = append(rendered, htmlMessage{
			Class: class,
			Label: label(msg),
			Body:  template.HTML(buf.String()),
		})
	}

	return page.Execute(w, struct {
		Title     string
		Generated string
		Messages  []htmlMessage
	}{ReportTitle, now.Format("2006-01-02 15:04:05"), rendered})
}

func label(msg store.Message) string {
	if msg.Role == store.RoleUser {
		return "You:"
	}
	return "RotorWise:"
}
