package snapshot

import (
	"strings"
	"testing"
)

const detailHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Finca Azul - Certificate Registry</title>
  <style>.hidden { display: none }</style>
  <script>window.tracker = true;</script>
</head>
<body>
  <h1>Finca Azul</h1>
  <p>Prisma Trading Account ID: <b>PRSM-100</b></p>
  <table>
    <tr><th>Document</th><th>Date</th></tr>
    <tr><td>Audit Report</td><td>15-Mar-2024</td></tr>
  </table>
</body>
</html>`

func TestCapture(t *testing.T) {
	// WHAT: Detail HTML becomes titled markdown evidence.
	// WHY: The page content at retrieval time is part of the audit trail.
	ev := NewCapturer().Capture(detailHTML, "https://registry.example/detail")

	if ev.Title != "Finca Azul - Certificate Registry" {
		t.Errorf("title = %q", ev.Title)
	}
	if !strings.Contains(ev.Markdown, "PRSM-100") {
		t.Errorf("markdown lost the account id:\n%s", ev.Markdown)
	}
	if !strings.Contains(ev.Markdown, "Audit Report") {
		t.Errorf("markdown lost the table content:\n%s", ev.Markdown)
	}
	if strings.Contains(ev.Markdown, "window.tracker") {
		t.Errorf("script leaked into markdown:\n%s", ev.Markdown)
	}
}

func TestCapture_MalformedHTML(t *testing.T) {
	// WHAT: Broken markup still yields usable evidence.
	// WHY: A half-rendered SPA is precisely when evidence matters most.
	ev := NewCapturer().Capture("<div><p>PRSM-9 partial", "")
	if !strings.Contains(ev.Markdown, "PRSM-9") {
		t.Errorf("markdown = %q", ev.Markdown)
	}
}

func TestCapture_Truncates(t *testing.T) {
	huge := "<p>" + strings.Repeat("x", maxMarkdown*2) + "</p>"
	ev := NewCapturer().Capture(huge, "")
	if len(ev.Markdown) > maxMarkdown {
		t.Errorf("markdown = %d bytes, cap is %d", len(ev.Markdown), maxMarkdown)
	}
}

func TestCapture_Empty(t *testing.T) {
	ev := NewCapturer().Capture("", "")
	if ev.Title != "" || ev.Markdown != "" {
		t.Errorf("evidence = %+v, want empty", ev)
	}
}
