package scraper

import (
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/sandbox/host"
)

// ModuleName is the name plugins load this module by
const ModuleName = "html"

// Module exposes the scraper to plugins. Lookups that find nothing
// return nil rather than an error.
func (s *Scraper) Module() host.Module {
	return host.Module{Name: ModuleName, Exports: host.Object{
		"select": func(args ...any) (any, error) {
			doc, sel, err := docAndString(args, "selector")
			if err != nil {
				return nil, err
			}
			out, err := s.Select(doc, sel)
			return host.Strings(out), err
		},
		"selectFirst": func(args ...any) (any, error) {
			doc, sel, err := docAndString(args, "selector")
			if err != nil {
				return nil, err
			}
			return optional(s.SelectFirst(doc, sel))
		},
		"attr": func(args ...any) (any, error) {
			doc, sel, name, err := docSelectorAttr(args)
			if err != nil {
				return nil, err
			}
			return optional(s.Attr(doc, sel, name))
		},
		"attrs": func(args ...any) (any, error) {
			doc, sel, name, err := docSelectorAttr(args)
			if err != nil {
				return nil, err
			}
			out, err := s.Attrs(doc, sel, name)
			return host.Strings(out), err
		},
		"innerHtml": func(args ...any) (any, error) {
			doc, sel, err := docAndString(args, "selector")
			if err != nil {
				return nil, err
			}
			return optional(s.InnerHTML(doc, sel))
		},
		"links": func(args ...any) (any, error) {
			doc, err := host.Args(args).String(0, "html")
			if err != nil {
				return nil, err
			}
			links, err := s.Links(doc)
			if err != nil {
				return nil, err
			}
			out := make([]any, len(links))
			for i, l := range links {
				out[i] = map[string]any{"text": l.Text, "href": l.Href}
			}
			return out, nil
		},
		"meta": func(args ...any) (any, error) {
			doc, name, err := docAndString(args, "name")
			if err != nil {
				return nil, err
			}
			return optional(s.Meta(doc, name))
		},
		"formFields": func(args ...any) (any, error) {
			a := host.Args(args)
			doc, err := a.String(0, "html")
			if err != nil {
				return nil, err
			}
			fields, err := s.FormFields(doc, a.OptString(1, ""))
			if err != nil {
				return nil, err
			}
			out := make(map[string]any, len(fields))
			for k, v := range fields {
				out[k] = v
			}
			return out, nil
		},
		"xpath": func(args ...any) (any, error) {
			doc, expr, err := docAndString(args, "expr")
			if err != nil {
				return nil, err
			}
			out, err := s.XPath(doc, expr)
			return host.Strings(out), err
		},
		"xpathAttr": func(args ...any) (any, error) {
			doc, expr, name, err := docSelectorAttr(args)
			if err != nil {
				return nil, err
			}
			return optional(s.XPathAttr(doc, expr, name))
		},
		"sanitize": func(args ...any) (any, error) {
			doc, err := host.Args(args).String(0, "html")
			if err != nil {
				return nil, err
			}
			return s.Sanitize(doc)
		},
		"text": func(args ...any) (any, error) {
			doc, err := host.Args(args).String(0, "html")
			if err != nil {
				return nil, err
			}
			return s.Text(doc)
		},
	}}
}

func docAndString(args []any, name string) (string, string, error) {
	a := host.Args(args)
	doc, err := a.String(0, "html")
	if err != nil {
		return "", "", err
	}
	s, err := a.String(1, name)
	return doc, s, err
}

func docSelectorAttr(args []any) (string, string, string, error) {
	doc, sel, err := docAndString(args, "selector")
	if err != nil {
		return "", "", "", err
	}
	name, err := host.Args(args).String(2, "attribute")
	return doc, sel, name, err
}

func optional(v string, ok bool, err error) (any, error) {
	if err != nil || !ok {
		return nil, err
	}
	return v, nil
}
