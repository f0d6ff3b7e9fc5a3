package extract

import (
	"context"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kart-io/sentinel-kb/internal/pkg/textutil"
)

// Page 从 HTML 中提取的正文、元信息与链接。
type Page struct {
	Title       string
	Description string
	Keywords    string
	Author      string
	Text        string
	// Links 原始 href 值，未做解析与去重。
	Links []string
}

// Metadata 以 map 形式返回元信息，空值省略。
func (p *Page) Metadata() map[string]any {
	m := make(map[string]any, 4)
	for k, v := range map[string]string{
		"title":       p.Title,
		"description": p.Description,
		"keywords":    p.Keywords,
		"author":      p.Author,
	} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Iframe:   true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Hr: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Tr: true, atom.Table: true, atom.Blockquote: true, atom.Pre: true,
	atom.Section: true, atom.Article: true, atom.Header: true, atom.Footer: true,
	atom.Ul: true, atom.Ol: true, atom.Dt: true, atom.Dd: true, atom.Title: true,
}

// ParseHTML 解析 HTML 文档。script/style/noscript 等元素被整体丢弃，
// 块级元素之间换行，行内空白折叠为单个空格。
func ParseHTML(src string) (*Page, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, err
	}

	p := &Page{}
	var text strings.Builder
	var walk func(n *html.Node, inHead bool)
	walk = func(n *html.Node, inHead bool) {
		if n.Type == html.ElementNode {
			if skipped[n.DataAtom] {
				return
			}
			switch n.DataAtom {
			case atom.Head:
				inHead = true
			case atom.Title:
				if p.Title == "" {
					p.Title = textutil.CollapseWhitespace(nodeText(n))
				}
				return
			case atom.Meta:
				readMeta(n, p)
			case atom.A:
				if href := attr(n, "href"); href != "" {
					p.Links = append(p.Links, href)
				}
			}
			if blocks[n.DataAtom] {
				text.WriteByte('\n')
			}
		}
		if n.Type == html.TextNode && !inHead {
			text.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inHead)
		}
		if n.Type == html.ElementNode && blocks[n.DataAtom] {
			text.WriteByte('\n')
		}
	}
	walk(root, false)

	p.Text = collapseLines(text.String())
	return p, nil
}

func readMeta(n *html.Node, p *Page) {
	content := strings.TrimSpace(attr(n, "content"))
	switch strings.ToLower(attr(n, "name")) {
	case "description":
		p.Description = content
	case "keywords":
		p.Keywords = content
	case "author":
		p.Author = content
	}
	if p.Description == "" && strings.EqualFold(attr(n, "property"), "og:description") {
		p.Description = content
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
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
	return b.String()
}

// collapseLines 折叠每行内的空白并丢弃空行。
func collapseLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = textutil.CollapseWhitespace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func extractHTMLDocument(_ context.Context, in *Input) (*Result, error) {
	src, _ := decodeText(in.Data, in.MIMEType)
	page, err := ParseHTML(src)
	if err != nil {
		return nil, err
	}
	res := &Result{Text: page.Text, Title: page.Title, Metadata: page.Metadata()}
	res.setMeta("format", "html")
	return res, nil
}
