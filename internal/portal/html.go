package portal

import (
	"io"
	"strings"

	"golang.org/x/net/html"

	ncerr "autologin/internal/errors"
)

// FindFirst walks the tree depth-first in document order and returns
// the first element for which match reports true.
func FindFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := FindFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

// Attr returns the value of the named attribute.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

// HasClass reports whether the element's class list contains class.
func HasClass(n *html.Node, class string) bool {
	v, ok := Attr(n, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}

// ExtractCSRF returns the value of the first type="hidden" element
// inside the first <form> of the page.
func ExtractCSRF(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}
	form := FindFirst(doc, func(n *html.Node) bool { return n.Data == "form" })
	if form == nil {
		return "", ncerr.ErrNoCSRFToken
	}
	hidden := FindFirst(form, func(n *html.Node) bool {
		if n == form {
			return false
		}
		t, ok := Attr(n, "type")
		return ok && strings.EqualFold(t, "hidden")
	})
	if hidden == nil {
		return "", ncerr.ErrNoCSRFToken
	}
	v, _ := Attr(hidden, "value")
	return v, nil
}
