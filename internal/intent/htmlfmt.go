package intent

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// voidElements never have children or closing tags.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true, "img": true,
	"input": true, "link": true, "meta": true, "source": true, "track": true, "wbr": true,
}

// FormatHTML pretty-prints an HTML document one node per line, indenting a
// single space per depth. Nodes keep their source order: template markup such
// as {%- auth0:head -%} stays where it was written. Stylesheets inside <style>
// are reformatted with FormatCSS first.
func FormatHTML(src string) (string, error) {
	doc, err := parseInOrder(src)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	goquery.NewDocumentFromNode(doc).Find("style").Each(func(_ int, s *goquery.Selection) {
		css := strings.TrimSpace(s.Text())
		if css == "" {
			return
		}
		for _, n := range s.Nodes {
			for c := n.FirstChild; c != nil; {
				next := c.NextSibling
				n.RemoveChild(c)
				c = next
			}
			n.AppendChild(&html.Node{Type: html.TextNode, Data: FormatCSS(css)})
		}
	})

	var sb strings.Builder
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		writeNode(&sb, c, 0)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// parseInOrder builds a node tree straight from the token stream. Unlike
// html.Parse it never moves nodes between <head> and <body> or adds implied
// elements. An end tag closes the nearest open element of the same name;
// stray end tags are dropped.
func parseInOrder(src string) (*html.Node, error) {
	doc := &html.Node{Type: html.DocumentNode}
	open := []*html.Node{doc}
	z := html.NewTokenizer(strings.NewReader(src))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return nil, err
			}
			return doc, nil
		}
		tok := z.Token()
		parent := open[len(open)-1]
		switch tt {
		case html.DoctypeToken:
			parent.AppendChild(&html.Node{Type: html.DoctypeNode, Data: tok.Data})
		case html.CommentToken:
			parent.AppendChild(&html.Node{Type: html.CommentNode, Data: tok.Data})
		case html.TextToken:
			parent.AppendChild(&html.Node{Type: html.TextNode, Data: tok.Data})
		case html.StartTagToken, html.SelfClosingTagToken:
			el := &html.Node{Type: html.ElementNode, Data: tok.Data, DataAtom: tok.DataAtom, Attr: tok.Attr}
			parent.AppendChild(el)
			if tt == html.StartTagToken && !voidElements[tok.Data] {
				open = append(open, el)
			}
		case html.EndTagToken:
			for i := len(open) - 1; i > 0; i-- {
				if open[i].Data == tok.Data {
					open = open[:i]
					break
				}
			}
		}
	}
}

func writeNode(sb *strings.Builder, n *html.Node, depth int) {
	indent := strings.Repeat(" ", depth)
	switch n.Type {
	case html.DoctypeNode:
		sb.WriteString(indent + "<!DOCTYPE " + n.Data + ">\n")
	case html.CommentNode:
		sb.WriteString(indent + "<!--" + n.Data + "-->\n")
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text == "" {
			return
		}
		if isRawText(n.Parent) {
			for _, line := range strings.Split(text, "\n") {
				sb.WriteString(indent + line + "\n")
			}
			return
		}
		sb.WriteString(indent + html.EscapeString(text) + "\n")
	case html.ElementNode:
		sb.WriteString(indent + "<" + n.Data)
		for _, a := range n.Attr {
			key := a.Key
			if a.Namespace != "" {
				key = a.Namespace + ":" + key
			}
			sb.WriteString(" " + key + `="` + html.EscapeString(a.Val) + `"`)
		}
		if voidElements[n.Data] {
			sb.WriteString("/>\n")
			return
		}
		sb.WriteString(">\n")
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeNode(sb, c, depth+1)
		}
		sb.WriteString(indent + "</" + n.Data + ">\n")
	}
}

func isRawText(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && (n.Data == "style" || n.Data == "script")
}

// FormatCSS puts one declaration per line, indents four spaces per nesting
// level and separates top-level rules with a blank line.
func FormatCSS(css string) string {
	css = strings.TrimSpace(css)
	css = strings.ReplaceAll(css, "}", "\n}\n")
	css = strings.ReplaceAll(css, "{", " {\n    ")
	css = strings.ReplaceAll(css, ";", ";\n    ")

	var out []string
	level := 0
	for _, line := range strings.Split(css, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.Contains(line, "}") && level > 0 {
			level--
		}
		if level == 0 && len(out) > 0 && out[len(out)-1] == "}" {
			out = append(out, "")
		}
		out = append(out, strings.Repeat("    ", level)+line)
		if strings.Contains(line, "{") && !strings.Contains(line, "}") {
			level++
		}
	}
	return strings.Join(out, "\n")
}
