package manifest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
)

const jsSource = `// ==UserScript==
// @name        Example Parser
// @type        example_pan
// @displayName Example Pan
// @description Resolves example share links
// @match       https?://pan\.example\.com/s/(?<KEY>\w+)(\?pwd=(?<PWD>\w+))?
// @author      someone
// @version     1.0.0
// ==/UserScript==

function parse(shareLinkInfo, http, logger) {
    return "https://cdn.example.com/" + shareLinkInfo.getShareKey();
}
`

const pySource = `# ==UserScript==
# @name        Example Python
# @type        example_py
# @displayName Example Py
# @match       https?://py\.example\.com/s/(?P<KEY>\w+)
# ==/UserScript==

def parse(share_link_info, http, logger):
    return "https://cdn.example.com/" + share_link_info.get_share_key()
`

func TestParseJavaScript(t *testing.T) {
	d, err := Parse(jsSource)
	require.NoError(t, err)

	assert.Equal(t, "example_pan", d.Type)
	assert.Equal(t, "Example Parser", d.Name)
	assert.Equal(t, "Example Pan", d.DisplayName)
	assert.Equal(t, plugin.LanguageJavaScript, d.Language)
	assert.Equal(t, `https?://pan\.example\.com/s/(?<KEY>\w+)(\?pwd=(?<PWD>\w+))?`, d.MatchSource)
	assert.Equal(t, "Resolves example share links", d.Description)
	assert.Equal(t, "someone", d.Author)
	assert.Equal(t, "1.0.0", d.Version)
	assert.Equal(t, jsSource, d.Source)

	require.Len(t, d.Metadata, 7)
	assert.Equal(t, "displayName", d.Metadata[2].Name)

	key, pwd, ok := d.ExtractKey("https://pan.example.com/s/AbC?pwd=42")
	require.True(t, ok)
	assert.Equal(t, "AbC", key)
	assert.Equal(t, "42", pwd)
}

func TestParsePython(t *testing.T) {
	d, err := Parse(pySource)
	require.NoError(t, err)

	assert.Equal(t, "example_py", d.Type)
	assert.Equal(t, plugin.LanguagePython, d.Language)
	assert.Equal(t, "Example Python", d.Name)
}

func TestParseMissingRequiredDirective(t *testing.T) {
	lines := map[string]string{
		DirectiveName:        "// @name        Example Parser\n",
		DirectiveType:        "// @type        example_pan\n",
		DirectiveDisplayName: "// @displayName Example Pan\n",
		DirectiveMatch:       "// @match       https?://pan\\.example\\.com/s/(?<KEY>\\w+)(\\?pwd=(?<PWD>\\w+))?\n",
	}

	for field, line := range lines {
		t.Run(field, func(t *testing.T) {
			src := strings.Replace(jsSource, line, "", 1)
			require.NotEqual(t, jsSource, src, "fixture line not found")

			_, err := Parse(src)
			require.Error(t, err)

			var pe *plugin.Error
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, plugin.KindManifest, pe.Kind)
			assert.Equal(t, field, pe.Field)
			assert.Contains(t, err.Error(), field)
		})
	}
}

func TestParseMatchRequiresKeyGroup(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{"python style key", `s/(?P<KEY>\w+)`, false},
		{"angle style key", `s/(?<KEY>\w+)`, false},
		{"password only", `s/\w+\?pwd=(?<PWD>\w+)`, true},
		{"other groups", `(?<ID>\w+)/(?<TOKEN>\w+)`, true},
		{"lowercase key", `s/(?<key>\w+)`, true},
		{"no groups", `s/\w+`, true},
		{"does not compile", `s/(?<KEY>\w+`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := fmt.Sprintf("// ==UserScript==\n// @name T\n// @type t\n// @displayName T\n// @match %s\n// ==/UserScript==\n", tt.pattern)
			_, err := Parse(src)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var pe *plugin.Error
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, plugin.KindManifest, pe.Kind)
			assert.Equal(t, DirectiveMatch, pe.Field)
		})
	}
}

func TestParseHeaderErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"no header", "function parse() { return 'x' }\n", "header"},
		{"unclosed", "// ==UserScript==\n// @type t\n", "header"},
		{"interrupted", "// ==UserScript==\n// @type t\nvar x = 1;\n// ==/UserScript==\n", "header"},
		{"mixed prefixes", "// ==UserScript==\n# @type t\n// ==/UserScript==\n", "header"},
		{"malformed directive", "// ==UserScript==\n// @ type\n// ==/UserScript==\n", "header"},
		{"duplicate type", "// ==UserScript==\n// @name A\n// @type a\n// @type b\n// @displayName D\n// @match (?<KEY>x)\n// ==/UserScript==\n", "type"},
		{"bad slug", "// ==UserScript==\n// @name A\n// @type has space!\n// @displayName D\n// @match (?<KEY>x)\n// ==/UserScript==\n", "type"},
		{"empty value", "// ==UserScript==\n// @name A\n// @type\n// @displayName D\n// @match (?<KEY>x)\n// ==/UserScript==\n", "type"},
		{"empty source", "   \n", "source"},
		{"binary source", "// ==UserScript==\x00\x01\x02", "source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src)
			var pe *plugin.Error
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, plugin.KindManifest, pe.Kind)
			assert.Equal(t, tt.field, pe.Field)
		})
	}
}

func TestParseSizeCap(t *testing.T) {
	big := jsSource + "//" + strings.Repeat("x", MaxSourceBytes) + "\n"
	_, err := Parse(big)
	var pe *plugin.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "source", pe.Field)

	_, err = ParseWithOptions(jsSource, Options{MaxSourceBytes: 64})
	require.Error(t, err)
}

func TestParseDeclaredLanguageMismatch(t *testing.T) {
	_, err := ParseWithOptions(pySource, Options{Language: plugin.LanguageJavaScript})
	var pe *plugin.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "language", pe.Field)

	_, err = ParseWithOptions(pySource, Options{Language: plugin.LanguagePython})
	assert.NoError(t, err)
}

func TestParseTypeIsLowercased(t *testing.T) {
	src := strings.Replace(jsSource, "@type        example_pan", "@type        Example_PAN", 1)
	d, err := Parse(src)
	require.NoError(t, err)
	assert.Equal(t, "example_pan", d.Type)
}

func TestParseRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		typ := rapid.StringMatching(`[a-z0-9][a-z0-9_-]{0,20}`).Draw(t, "type")
		display := rapid.StringMatching(`[A-Za-z0-9][A-Za-z0-9 ._-]{0,30}[A-Za-z0-9]`).Draw(t, "display")
		prefix := rapid.SampledFrom([]string{"//", "#"}).Draw(t, "prefix")
		host := rapid.StringMatching(`[a-z]{1,10}`).Draw(t, "host")
		pattern := fmt.Sprintf(`https://%s\.test/(?P<KEY>\w+)`, host)

		src := strings.Join([]string{
			prefix + " ==UserScript==",
			prefix + " @name " + display,
			prefix + " @type " + typ,
			prefix + " @displayName " + display,
			prefix + " @match " + pattern,
			prefix + " ==/UserScript==",
			"",
		}, "\n")

		d, err := Parse(src)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if d.Type != typ || d.Name != display || d.DisplayName != display || d.MatchSource != pattern {
			t.Fatalf("fields differ: %+v", d)
		}
		wantLang := plugin.LanguageJavaScript
		if prefix == "#" {
			wantLang = plugin.LanguagePython
		}
		if d.Language != wantLang {
			t.Fatalf("language %s, want %s", d.Language, wantLang)
		}
	})
}
