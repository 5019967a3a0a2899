package odoo

import (
	"io"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

const pageLimit = 512 * 1024

// managerPage is the HTML the database manager renders after a form post.
type managerPage struct {
	alert string // text of the alert-danger block, empty on success
	text  string // visible text of the whole page
}

// readManagerPage parses an HTML answer. A page that cannot be parsed
// yields an empty managerPage.
func readManagerPage(r io.Reader) managerPage {
	doc, err := html.Parse(io.LimitReader(r, pageLimit))
	if err != nil {
		return managerPage{}
	}

	var page managerPage
	if n := findAlert(doc); n != nil {
		page.alert = clip(collapse(textOf(n)))
	}
	page.text = clip(collapse(textOf(doc)))
	return page
}

// detail is what an error should carry for this page.
func (p managerPage) detail() string {
	if p.alert != "" {
		return p.alert
	}
	return p.text
}

func findAlert(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && hasClass(n, "alert-danger") {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findAlert(c); found != nil {
			return found
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" && slices.Contains(strings.Fields(a.Val), class) {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "head") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func clip(s string) string {
	if runes := []rune(s); len(runes) > detailLimit {
		return string(runes[:detailLimit])
	}
	return s
}
