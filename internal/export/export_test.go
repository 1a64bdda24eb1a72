package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"rotorwise.app/rotorwise/internal/store"
)

var generated = time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC)

func TestFileName(t *testing.T) {
	if got := FileName(generated); got != "rx8-diagnosis-2024-03-09.pdf" {
		t.Fatalf("FileName() = %q", got)
	}
}

func TestPDFShortTranscriptFitsOnePage(t *testing.T) {
	var buf bytes.Buffer
	pages, err := PDF(&buf, []store.Message{
		{ID: "1", Role: store.RoleUser, Content: "Rough idle when warm"},
		{ID: "2", Role: store.RoleModel, Content: "**Possible causes:** worn ignition coils."},
	}, generated)
	if err != nil {
		t.Fatalf("PDF: %v", err)
	}
	if pages != 1 {
		t.Fatalf("pages = %d, want 1", pages)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF")) {
		t.Fatal("output is not a PDF document")
	}
}

func TestPDFPaginatesLongTranscript(t *testing.T) {
	long := strings.Repeat("Check the coil packs and plugs before condemning the engine. ", 40)
	var msgs []store.Message
	for i := 0; i < 6; i++ {
		msgs = append(msgs,
			store.Message{Role: store.RoleUser, Content: "Still misfiring after the plugs"},
			store.Message{Role: store.RoleModel, Content: long},
		)
	}

	var buf bytes.Buffer
	pages, err := PDF(&buf, msgs, generated)
	if err != nil {
		t.Fatal(err)
	}
	if pages < 2 {
		t.Fatalf("pages = %d, expected the transcript to span several pages", pages)
	}
}

func TestPlainText(t *testing.T) {
	got := plainText("### ✅ Final Diagnosis: **Flooded Engine**\nSee [manual](http://x) and `P0300`.")
	want := "✅ Final Diagnosis: Flooded Engine\nSee manual (http://x) and P0300."
	if got != want {
		t.Fatalf("plainText() = %q, want %q", got, want)
	}
}

func TestHTMLRendersMarkdownTables(t *testing.T) {
	var buf bytes.Buffer
	err := HTML(&buf, []store.Message{
		{ID: "1", Role: store.RoleUser, Content: "Hard start <when hot>"},
		{ID: "2", Role: store.RoleModel, Content: "| Step | Action |\n|---|---|\n| 1 | Compression test |"},
	}, generated)
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"<table>", "<td>Compression test</td>", "RotorWise AI - Diagnosis Report", "2024-03-09 14:30:00"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if strings.Contains(out, "<when hot>") {
		t.Error("raw html in a message was not escaped")
	}
}

func TestMarkdown(t *testing.T) {
	var buf bytes.Buffer
	err := Markdown(&buf, []store.Message{
		{Role: store.RoleUser, Content: "Clunk from the rear"},
		{Role: store.RoleModel, Content: "Check the diff mounts."},
	}, generated)
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "# RotorWise AI - Diagnosis Report\n") {
		t.Fatalf("unexpected header: %q", out)
	}
	if i, j := strings.Index(out, "**You:**\n\nClunk"), strings.Index(out, "**RotorWise:**\n\nCheck"); i < 0 || j < i {
		t.Fatalf("messages missing or out of order:\n%s", out)
	}
}
