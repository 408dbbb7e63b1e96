package manifest

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
)

// MaxSourceBytes is the default cap on submitted plugin source
const MaxSourceBytes = 128 << 10

const (
	openMarker  = "==UserScript=="
	closeMarker = "==/UserScript=="
)

// Canonical directive names
const (
	DirectiveName        = "name"
	DirectiveType        = "type"
	DirectiveDisplayName = "displayName"
	DirectiveMatch       = "match"
	DirectiveDescription = "description"
	DirectiveAuthor      = "author"
	DirectiveVersion     = "version"
)

var (
	required   = []string{DirectiveName, DirectiveType, DirectiveDisplayName, DirectiveMatch}
	unique     = []string{DirectiveName, DirectiveType, DirectiveDisplayName, DirectiveMatch}
	slugRe     = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	directName = regexp.MustCompile(`^\w+$`)
)

// Options tunes a parse
type Options struct {
	// MaxSourceBytes overrides the default cap when positive
	MaxSourceBytes int
	// Language, when set, must agree with the header comment style
	Language plugin.Language
}

// Parse extracts a descriptor from plugin source using default options
func Parse(source string) (*plugin.Descriptor, error) {
	return ParseWithOptions(source, Options{})
}

// ParseWithOptions extracts a descriptor from plugin source
func ParseWithOptions(source string, opts Options) (*plugin.Descriptor, error) {
	limit := opts.MaxSourceBytes
	if limit <= 0 {
		limit = MaxSourceBytes
	}
	if len(source) > limit {
		return nil, plugin.ManifestError("source", "source is %d bytes, limit is %d", len(source), limit)
	}
	if strings.TrimSpace(source) == "" {
		return nil, plugin.ManifestError("source", "source is empty")
	}
	if err := checkText(source); err != nil {
		return nil, err
	}

	hdr, err := scanHeader(source)
	if err != nil {
		return nil, err
	}
	if opts.Language != "" && opts.Language != hdr.language {
		return nil, plugin.ManifestError("language", "header uses %s comments but %s was declared", hdr.language, opts.Language)
	}

	return build(hdr, source)
}

// checkText rejects binary uploads before any scanning
func checkText(source string) error {
	if strings.IndexByte(source, 0) >= 0 {
		return plugin.ManifestError("source", "source contains NUL bytes")
	}
	mt := mimetype.Detect([]byte(source))
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return nil
		}
	}
	return plugin.ManifestError("source", "source is not text (detected %s)", mt.String())
}

type header struct {
	language   plugin.Language
	directives plugin.Metadata
}

// scanHeader walks the source line by line:
//
//	header    = open { line } close
//	open      = prefix "==UserScript=="
//	close     = prefix "==/UserScript=="
//	line      = prefix [ "@" name value ] | blank
func scanHeader(source string) (*header, error) {
	var (
		hdr    *header
		prefix string
	)

	for _, raw := range strings.Split(source, "\n") {
		line := strings.TrimSpace(raw)

		if hdr == nil {
			p, rest, ok := cutComment(line)
			if ok && rest == openMarker {
				prefix = p
				hdr = &header{language: languageFor(p)}
			}
			continue
		}

		if line == "" {
			continue
		}
		p, rest, ok := cutComment(line)
		if !ok || p != prefix {
			return nil, plugin.ManifestError("header", "header block interrupted by non-comment line %q", line)
		}
		if rest == closeMarker {
			return hdr, nil
		}
		if !strings.HasPrefix(rest, "@") {
			continue
		}

		name, value := rest[1:], ""
		if i := strings.IndexFunc(name, unicode.IsSpace); i >= 0 {
			name, value = name[:i], name[i:]
		}
		if !directName.MatchString(name) {
			return nil, plugin.ManifestError("header", "malformed directive %q", rest)
		}
		hdr.directives = append(hdr.directives, plugin.Directive{
			Name:  name,
			Value: strings.TrimSpace(value),
		})
	}

	if hdr == nil {
		return nil, plugin.ManifestError("header", "%s header block not found", openMarker)
	}
	return nil, plugin.ManifestError("header", "header block is missing %s", closeMarker)
}

// cutComment splits a trimmed line into its comment prefix and body
func cutComment(line string) (prefix, rest string, ok bool) {
	switch {
	case strings.HasPrefix(line, "//"):
		return "//", strings.TrimSpace(line[2:]), true
	case strings.HasPrefix(line, "#"):
		return "#", strings.TrimSpace(line[1:]), true
	}
	return "", "", false
}

func languageFor(prefix string) plugin.Language {
	if prefix == "#" {
		return plugin.LanguagePython
	}
	return plugin.LanguageJavaScript
}

func build(hdr *header, source string) (*plugin.Descriptor, error) {
	for _, name := range unique {
		n := 0
		for _, d := range hdr.directives {
			if strings.EqualFold(d.Name, name) {
				n++
			}
		}
		if n > 1 {
			return nil, plugin.ManifestError(name, "directive @%s appears %d times", name, n)
		}
	}

	for _, name := range required {
		v, ok := hdr.directives.Get(name)
		if !ok {
			return nil, plugin.ManifestError(name, "required directive @%s is missing", name)
		}
		if v == "" {
			return nil, plugin.ManifestError(name, "required directive @%s is empty", name)
		}
	}

	typ, _ := hdr.directives.Get(DirectiveType)
	typ = strings.ToLower(typ)
	if !slugRe.MatchString(typ) {
		return nil, plugin.ManifestError(DirectiveType, "%q is not a valid slug", typ)
	}

	pattern, _ := hdr.directives.Get(DirectiveMatch)
	re, err := CompileMatch(pattern)
	if err != nil {
		return nil, err
	}

	displayName, _ := hdr.directives.Get(DirectiveDisplayName)
	name, _ := hdr.directives.Get(DirectiveName)
	description, _ := hdr.directives.Get(DirectiveDescription)
	author, _ := hdr.directives.Get(DirectiveAuthor)
	version, _ := hdr.directives.Get(DirectiveVersion)

	return &plugin.Descriptor{
		Type:        typ,
		Name:        name,
		DisplayName: displayName,
		Language:    hdr.language,
		Match:       re,
		MatchSource: pattern,
		Description: description,
		Author:      author,
		Version:     version,
		Source:      source,
		Metadata:    append(plugin.Metadata(nil), hdr.directives...),
	}, nil
}

// CompileMatch compiles a match pattern and requires the KEY group
func CompileMatch(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &plugin.Error{
			Kind:    plugin.KindManifest,
			Field:   DirectiveMatch,
			Message: "pattern does not compile",
			Err:     err,
		}
	}
	if re.SubexpIndex(plugin.KeyGroup) < 0 {
		return nil, plugin.ManifestError(DirectiveMatch, "pattern must contain a named group (?<%s>...)", plugin.KeyGroup)
	}
	return re, nil
}
