// Package speech flattens markdown answers into plain text suitable for
// a voice assistant to read aloud.
package speech

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipElements are HTML elements whose content is never spoken.
var skipElements = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
	atom.Img:    true,
}

// Plain renders md as markdown and returns its visible text. Each block
// (paragraph, heading, list item, code block) becomes one line; runs
// of whitespace within a line collapse to a single space. Input that
// fails to render is returned with whitespace normalized.
func Plain(md string) string {
	if strings.TrimSpace(md) == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return normalize(md)
	}

	doc, err := html.Parse(&buf)
	if err != nil {
		return normalize(md)
	}

	var w strings.Builder
	extractText(doc, &w)
	return normalize(w.String())
}

func extractText(n *html.Node, w *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		w.WriteString(n.Data)
		return
	case html.ElementNode:
		if skipElements[n.DataAtom] {
			return
		}
		if n.DataAtom == atom.Br {
			w.WriteString("\n")
			return
		}
	}

	block := n.Type == html.ElementNode && isBlockElement(n.DataAtom)
	if block {
		w.WriteString("\n")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, w)
	}
	if block {
		w.WriteString("\n")
	}
}

func isBlockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Blockquote, atom.Pre, atom.Li,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Ul, atom.Ol, atom.Table, atom.Tr, atom.Hr:
		return true
	}
	return false
}

// normalize collapses whitespace within lines and drops blank lines.
func normalize(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
