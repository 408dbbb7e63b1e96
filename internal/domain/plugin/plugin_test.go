package plugin

import (
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorExtractKey(t *testing.T) {
	d := &Descriptor{
		Type:  "demo",
		Match: regexp.MustCompile(`https?://pan\.example\.com/s/(?P<KEY>\w+)(\?pwd=(?P<PWD>\w+))?`),
	}

	tests := []struct {
		name    string
		url     string
		wantKey string
		wantPwd string
		wantOK  bool
	}{
		{"key only", "https://pan.example.com/s/abc123", "abc123", "", true},
		{"key and password", "https://pan.example.com/s/abc123?pwd=x9", "abc123", "x9", true},
		{"no match", "https://other.example.com/s/abc", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, pwd, ok := d.ExtractKey(tt.url)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.wantPwd, pwd)
		})
	}
}

func TestDescriptorInputPasswordOverride(t *testing.T) {
	d := &Descriptor{
		Type:        "demo",
		DisplayName: "Demo Pan",
		Match:       regexp.MustCompile(`s/(?<KEY>\w+)`),
	}

	in, ok := d.Input("https://x.test/s/k1", "secret", map[string]any{"proxy": "none"})
	require.True(t, ok)
	assert.Equal(t, "k1", in.ShareKey())
	assert.Equal(t, "secret", in.SharePassword())
	assert.Equal(t, "demo", in.Type())
	assert.Equal(t, "Demo Pan", in.PanName())
	assert.True(t, in.HasOtherParam("proxy"))
}

func TestInputIsReadOnlyCopy(t *testing.T) {
	extra := map[string]any{"a": "1"}
	in := NewInput("u", "k", "", "t", "n", extra)
	extra["a"] = "2"
	extra["b"] = true

	assert.Equal(t, "1", in.OtherParamAsString("a"))
	assert.False(t, in.HasOtherParam("b"))

	all := in.AllOtherParams()
	all["a"] = "mutated"
	assert.Equal(t, "1", in.OtherParam("a"))
}

func TestInputConversions(t *testing.T) {
	in := NewInput("", "", "", "", "", map[string]any{
		"n":    float64(42),
		"s":    " 7 ",
		"frac": 1.5,
		"b":    "true",
		"bool": false,
	})

	n, ok := in.OtherParamAsInteger("n")
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	n, ok = in.OtherParamAsInteger("s")
	assert.True(t, ok)
	assert.Equal(t, int64(7), n)

	_, ok = in.OtherParamAsInteger("frac")
	assert.False(t, ok)

	b, ok := in.OtherParamAsBoolean("b")
	assert.True(t, ok)
	assert.True(t, b)

	b, ok = in.OtherParamAsBoolean("bool")
	assert.True(t, ok)
	assert.False(t, b)

	assert.Equal(t, "1.5", in.OtherParamAsString("frac"))
	assert.Equal(t, []string{"b", "bool", "frac", "n", "s"}, in.OtherParamKeys())
}

func TestParseCapability(t *testing.T) {
	tests := map[string]Capability{
		"":              CapabilityPrimary,
		"parse":         CapabilityPrimary,
		"parseFileList": CapabilityListing,
		"listing":       CapabilityListing,
		"parse_by_id":   CapabilityByID,
		"byId":          CapabilityByID,
	}
	for in, want := range tests {
		got, ok := ParseCapability(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseCapability("delete")
	assert.False(t, ok)
}

func TestEntryPoints(t *testing.T) {
	assert.Equal(t, []string{"listing", "parseFileList"}, CapabilityListing.EntryPoints(LanguageJavaScript))
	assert.Equal(t, []string{"listing", "parse_file_list"}, CapabilityListing.EntryPoints(LanguagePython))
	assert.Equal(t, []string{"primary", "parse"}, CapabilityPrimary.EntryPoints(LanguagePython))
}

func TestKindOfWrapped(t *testing.T) {
	base := NetworkPolicyError("127.0.0.1", "loopback address")
	wrapped := fmt.Errorf("call failed: %w", base)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindNetworkPolicy, kind)
	assert.True(t, IsKind(wrapped, KindNetworkPolicy))

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestSecurityErrorListsAllViolations(t *testing.T) {
	err := SecurityError([]Violation{
		{RuleID: "banned-import", Symbol: "subprocess", Message: "process execution"},
		{RuleID: "banned-builtin", Symbol: "eval", Message: "dynamic evaluation"},
	})

	assert.Contains(t, err.Error(), "2 violation(s)")
	assert.Contains(t, err.Error(), "subprocess")
	assert.Contains(t, err.Error(), "eval")
	assert.Len(t, err.Info().Violations, 2)
}
