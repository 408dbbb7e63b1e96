package scraper

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/microcosm-cc/bluemonday"
	xhtml "golang.org/x/net/html"
)

// MaxHTMLSize limits HTML input to 10MB to prevent memory exhaustion
const MaxHTMLSize = 10 * 1024 * 1024

var spaceRe = regexp.MustCompile(`\s+`)

// Scraper holds the sanitizer policies shared by all calls
type Scraper struct {
	ugc    *bluemonday.Policy
	strict *bluemonday.Policy
}

// New creates a scraper
func New() *Scraper {
	return &Scraper{
		ugc:    bluemonday.UGCPolicy(),
		strict: bluemonday.StrictPolicy(),
	}
}

// Link is an anchor found in a page
type Link struct {
	Text string
	Href string
}

func validate(doc string) error {
	if len(doc) > MaxHTMLSize {
		return fmt.Errorf("html exceeds maximum size of %d bytes", MaxHTMLSize)
	}
	return nil
}

func load(doc string) (*goquery.Document, error) {
	if err := validate(doc); err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(doc))
}

func loadNode(doc string) (*xhtml.Node, error) {
	if err := validate(doc); err != nil {
		return nil, err
	}
	return htmlquery.Parse(strings.NewReader(doc))
}

// Select returns the normalized text of every element matching selector
func (s *Scraper) Select(doc, selector string) ([]string, error) {
	d, err := load(doc)
	if err != nil {
		return nil, err
	}
	sel, err := find(d, selector)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, sel.Length())
	sel.Each(func(_ int, e *goquery.Selection) {
		out = append(out, NormalizeWhitespace(e.Text()))
	})
	return out, nil
}

// SelectFirst returns the text of the first match; ok is false when none
func (s *Scraper) SelectFirst(doc, selector string) (text string, ok bool, err error) {
	d, err := load(doc)
	if err != nil {
		return "", false, err
	}
	sel, err := find(d, selector)
	if err != nil || sel.Length() == 0 {
		return "", false, err
	}
	return NormalizeWhitespace(sel.First().Text()), true, nil
}

// Attr returns attribute name of the first match carrying it
func (s *Scraper) Attr(doc, selector, name string) (string, bool, error) {
	vals, err := s.Attrs(doc, selector, name)
	if err != nil || len(vals) == 0 {
		return "", false, err
	}
	return vals[0], true, nil
}

// Attrs returns attribute name of every match carrying it
func (s *Scraper) Attrs(doc, selector, name string) ([]string, error) {
	d, err := load(doc)
	if err != nil {
		return nil, err
	}
	sel, err := find(d, selector)
	if err != nil {
		return nil, err
	}
	var out []string
	sel.Each(func(_ int, e *goquery.Selection) {
		if v, ok := e.Attr(name); ok {
			out = append(out, v)
		}
	})
	return out, nil
}

// InnerHTML returns the inner markup of the first match
func (s *Scraper) InnerHTML(doc, selector string) (string, bool, error) {
	d, err := load(doc)
	if err != nil {
		return "", false, err
	}
	sel, err := find(d, selector)
	if err != nil || sel.Length() == 0 {
		return "", false, err
	}
	h, err := sel.First().Html()
	return h, err == nil, err
}

// Links lists anchors with an href
func (s *Scraper) Links(doc string) ([]Link, error) {
	d, err := load(doc)
	if err != nil {
		return nil, err
	}
	var out []Link
	d.Find("a[href]").Each(func(_ int, e *goquery.Selection) {
		href, _ := e.Attr("href")
		out = append(out, Link{Text: NormalizeWhitespace(e.Text()), Href: strings.TrimSpace(href)})
	})
	return out, nil
}

// Meta returns the content of a meta tag matched by name or property
func (s *Scraper) Meta(doc, name string) (string, bool, error) {
	d, err := load(doc)
	if err != nil {
		return "", false, err
	}
	var (
		content string
		found   bool
	)
	d.Find("meta").EachWithBreak(func(_ int, e *goquery.Selection) bool {
		n, _ := e.Attr("name")
		p, _ := e.Attr("property")
		if strings.EqualFold(n, name) || strings.EqualFold(p, name) {
			content, found = e.Attr("content")
			return !found
		}
		return true
	})
	return content, found, nil
}

// FormFields returns the name/value pairs of the inputs in the first
// form matching selector, or the first form when selector is empty
func (s *Scraper) FormFields(doc, selector string) (map[string]string, error) {
	d, err := load(doc)
	if err != nil {
		return nil, err
	}
	if selector == "" {
		selector = "form"
	}
	form, err := find(d, selector)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string)
	form.First().Find("input[name], select[name], textarea[name]").Each(func(_ int, e *goquery.Selection) {
		name, _ := e.Attr("name")
		switch goquery.NodeName(e) {
		case "textarea":
			fields[name] = e.Text()
		case "select":
			opt := e.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = e.Find("option").First()
			}
			v, ok := opt.Attr("value")
			if !ok {
				v = opt.Text()
			}
			fields[name] = v
		default:
			typ, _ := e.Attr("type")
			if t := strings.ToLower(typ); (t == "checkbox" || t == "radio") && !hasAttr(e, "checked") {
				return
			}
			v, _ := e.Attr("value")
			fields[name] = v
		}
	})
	return fields, nil
}

func hasAttr(e *goquery.Selection, name string) bool {
	_, ok := e.Attr(name)
	return ok
}

// XPath returns the text of every node matching expr
func (s *Scraper) XPath(doc, expr string) ([]string, error) {
	root, err := loadNode(doc)
	if err != nil {
		return nil, err
	}
	nodes, err := htmlquery.QueryAll(root, expr)
	if err != nil {
		return nil, fmt.Errorf("xpath query failed: %w", err)
	}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, NormalizeWhitespace(htmlquery.InnerText(n)))
	}
	return out, nil
}

// XPathAttr returns an attribute of the first node matching expr
func (s *Scraper) XPathAttr(doc, expr, name string) (string, bool, error) {
	root, err := loadNode(doc)
	if err != nil {
		return "", false, err
	}
	n, err := htmlquery.Query(root, expr)
	if err != nil {
		return "", false, fmt.Errorf("xpath query failed: %w", err)
	}
	if n == nil {
		return "", false, nil
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true, nil
		}
	}
	return "", false, nil
}

// Sanitize strips markup unsafe for display
func (s *Scraper) Sanitize(doc string) (string, error) {
	if err := validate(doc); err != nil {
		return "", err
	}
	return s.ugc.Sanitize(doc), nil
}

// Text strips all markup and collapses whitespace
func (s *Scraper) Text(doc string) (string, error) {
	if err := validate(doc); err != nil {
		return "", err
	}
	return NormalizeWhitespace(html.UnescapeString(s.strict.Sanitize(doc))), nil
}

// find compiles selector first so a typo is reported instead of
// silently matching nothing
func find(d *goquery.Document, selector string) (*goquery.Selection, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return d.FindMatcher(m), nil
}

// NormalizeWhitespace collapses runs of whitespace into one space
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
