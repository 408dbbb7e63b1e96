package plugin

import (
	"regexp"
	"strings"
)

// Language identifies the scripting runtime a plugin targets
type Language string

const (
	LanguageJavaScript Language = "javascript"
	LanguagePython     Language = "python"
)

// ParseLanguage normalizes a user supplied language name
func ParseLanguage(s string) (Language, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "javascript", "js":
		return LanguageJavaScript, true
	case "python", "py":
		return LanguagePython, true
	}
	return "", false
}

// Extension returns the file extension used for plugin sources
func (l Language) Extension() string {
	if l == LanguagePython {
		return ".py"
	}
	return ".js"
}

// Named capture groups in a match pattern
const (
	KeyGroup      = "KEY"
	PasswordGroup = "PWD"
)

// Directive is one header line, name kept as written
type Directive struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Metadata is the ordered directive list of a manifest header
type Metadata []Directive

// Get returns the first directive value matching name case-insensitively
func (m Metadata) Get(name string) (string, bool) {
	for _, d := range m {
		if strings.EqualFold(d.Name, name) {
			return d.Value, true
		}
	}
	return "", false
}

// Descriptor is an immutable, registered plugin
type Descriptor struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name"`
	Language    Language       `json:"language"`
	Match       *regexp.Regexp `json:"-"`
	MatchSource string         `json:"match"`
	Description string         `json:"description,omitempty"`
	Author      string         `json:"author,omitempty"`
	Version     string         `json:"version,omitempty"`
	Source      string         `json:"-"`
	Metadata    Metadata       `json:"metadata"`
}

// ExtractKey applies the match pattern to a share URL
func (d *Descriptor) ExtractKey(url string) (key, password string, ok bool) {
	if d.Match == nil {
		return "", "", false
	}
	m := d.Match.FindStringSubmatch(url)
	if m == nil {
		return "", "", false
	}
	if i := d.Match.SubexpIndex(KeyGroup); i >= 0 {
		key = m[i]
	}
	if i := d.Match.SubexpIndex(PasswordGroup); i >= 0 {
		password = m[i]
	}
	return key, password, true
}

// Input builds the read-only input context for a share URL
func (d *Descriptor) Input(url, password string, extra map[string]any) (Input, bool) {
	key, pwd, ok := d.ExtractKey(url)
	if !ok {
		return Input{}, false
	}
	if password != "" {
		pwd = password
	}
	return NewInput(url, key, pwd, d.Type, d.DisplayName, extra), true
}
