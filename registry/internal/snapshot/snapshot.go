// Package snapshot captures a record's detail view as markdown
// evidence. The downloaded PDFs are the primary artifact; the snapshot
// preserves what the registry page itself claimed at retrieval time,
// which matters when a report is later disputed or removed.
package snapshot

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"golang.org/x/net/html"
)

// maxMarkdown caps stored evidence. Detail views are small; anything
// past this is runaway page chrome, not evidence.
const maxMarkdown = 256 * 1024

// Evidence is a converted detail view.
type Evidence struct {
	Title    string
	Markdown string
}

// Capturer converts detail-view HTML into markdown evidence.
type Capturer struct {
	conv *converter.Converter
}

// NewCapturer builds a Capturer with the standard plugin set.
func NewCapturer() *Capturer {
	return &Capturer{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Capture converts raw HTML into evidence. Conversion failures degrade
// to the stripped plain text rather than failing: a rough snapshot
// beats none.
func (c *Capturer) Capture(rawHTML, pageURL string) Evidence {
	title, text := inspect(rawHTML)

	md, err := c.conv.ConvertString(rawHTML, converter.WithDomain(pageURL))
	if err != nil || strings.TrimSpace(md) == "" {
		md = text
	}
	md = strings.TrimSpace(md)
	if len(md) > maxMarkdown {
		md = md[:maxMarkdown]
	}
	return Evidence{Title: title, Markdown: md}
}

// inspect walks the HTML once, extracting the <title> and the visible
// text with script/style subtrees dropped.
func inspect(rawHTML string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", ""
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title, strings.TrimSpace(b.String())
}
