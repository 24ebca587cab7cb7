package render

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document turns rendered output into a complete HTML document. Fragments
// get the html, head and body elements they lack, and a UTF-8 charset
// declaration is added when the head has none, so the browser never has to
// guess the encoding.
func Document(fragment string) (string, error) {
	root, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return "", err
	}
	if head := findElement(root, atom.Head); head != nil && !hasCharset(head) {
		meta := &html.Node{
			Type:     html.ElementNode,
			Data:     "meta",
			DataAtom: atom.Meta,
			Attr:     []html.Attribute{{Key: "charset", Val: "utf-8"}},
		}
		head.InsertBefore(meta, head.FirstChild)
	}

	var buf bytes.Buffer
	if root.FirstChild == nil || root.FirstChild.Type != html.DoctypeNode {
		buf.WriteString("<!DOCTYPE html>")
	}
	if err := html.Render(&buf, root); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func hasCharset(head *html.Node) bool {
	for c := head.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.DataAtom != atom.Meta {
			continue
		}
		for _, a := range c.Attr {
			if a.Key == "charset" {
				return true
			}
			if a.Key == "http-equiv" && strings.EqualFold(a.Val, "content-type") {
				return true
			}
		}
	}
	return false
}
