package plugin

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Capability is one named plugin entry point
type Capability string

const (
	CapabilityPrimary Capability = "primary"
	CapabilityListing Capability = "listing"
	CapabilityByID    Capability = "byId"
)

// ParseCapability accepts canonical names and their legacy entry point names
func ParseCapability(s string) (Capability, bool) {
	switch strings.TrimSpace(s) {
	case "", "primary", "parse":
		return CapabilityPrimary, true
	case "listing", "parseFileList", "parse_file_list":
		return CapabilityListing, true
	case "byId", "byid", "parseById", "parse_by_id":
		return CapabilityByID, true
	}
	return "", false
}

// EntryPoints lists the global names that implement a capability, in lookup order
func (c Capability) EntryPoints(lang Language) []string {
	switch c {
	case CapabilityListing:
		if lang == LanguagePython {
			return []string{"listing", "parse_file_list"}
		}
		return []string{"listing", "parseFileList"}
	case CapabilityByID:
		if lang == LanguagePython {
			return []string{"by_id", "parse_by_id"}
		}
		return []string{"byId", "parseById"}
	default:
		return []string{"primary", "parse"}
	}
}

// Input is the read-only projection of share link state handed to plugins
type Input struct {
	shareURL string
	shareKey string
	password string
	typ      string
	panName  string
	extra    map[string]any
}

// NewInput copies extra so later caller mutation never reaches plugin code
func NewInput(shareURL, shareKey, password, typ, panName string, extra map[string]any) Input {
	cp := make(map[string]any, len(extra))
	for k, v := range extra {
		cp[k] = v
	}
	return Input{
		shareURL: shareURL,
		shareKey: shareKey,
		password: password,
		typ:      typ,
		panName:  panName,
		extra:    cp,
	}
}

func (in Input) ShareURL() string      { return in.shareURL }
func (in Input) ShareKey() string      { return in.shareKey }
func (in Input) SharePassword() string { return in.password }
func (in Input) Type() string          { return in.typ }
func (in Input) PanName() string       { return in.panName }

// OtherParam returns an extra parameter or nil
func (in Input) OtherParam(key string) any {
	return in.extra[key]
}

// HasOtherParam reports whether an extra parameter is present
func (in Input) HasOtherParam(key string) bool {
	_, ok := in.extra[key]
	return ok
}

// OtherParamKeys returns extra parameter names in sorted order
func (in Input) OtherParamKeys() []string {
	keys := make([]string, 0, len(in.extra))
	for k := range in.extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AllOtherParams returns a copy of the extra parameters
func (in Input) AllOtherParams() map[string]any {
	cp := make(map[string]any, len(in.extra))
	for k, v := range in.extra {
		cp[k] = v
	}
	return cp
}

// OtherParamAsString formats an extra parameter as text
func (in Input) OtherParamAsString(key string) string {
	v, ok := in.extra[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// OtherParamAsInteger converts an extra parameter to an integer
func (in Input) OtherParamAsInteger(key string) (int64, bool) {
	switch v := in.extra[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v == math.Trunc(v) {
			return int64(v), true
		}
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// OtherParamAsBoolean converts an extra parameter to a bool
func (in Input) OtherParamAsBoolean(key string) (bool, bool) {
	switch v := in.extra[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, err == nil
	}
	return false, false
}

// ExecutionRequest asks the coordinator to run one capability
type ExecutionRequest struct {
	ID         string
	Descriptor *Descriptor
	Capability Capability
	Input      Input
	// Isolated runs in a freshly created context instead of a pooled one
	Isolated bool
	// Timeout overrides the deployment default when positive
	Timeout time.Duration
}
