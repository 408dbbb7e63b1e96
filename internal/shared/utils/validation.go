package utils

import (
	"fmt"
	"unicode/utf8"
)

// Limits on caller-supplied extra input handed to plugins
const (
	MaxExtraKeys   = 64
	MaxExtraDepth  = 8
	MaxExtraString = 16 * 1024
	MaxKeyLength   = 128
)

// ValidateExtra checks the extra input map of a run request: bounded
// key count, nesting depth and string length, and valid UTF-8 throughout
func ValidateExtra(extra map[string]any) error {
	if len(extra) > MaxExtraKeys {
		return fmt.Errorf("extra has %d keys, maximum is %d", len(extra), MaxExtraKeys)
	}
	for k, v := range extra {
		if err := validateKey(k); err != nil {
			return err
		}
		if err := checkValue(k, v, 1); err != nil {
			return err
		}
	}
	return nil
}

func validateKey(k string) error {
	if k == "" {
		return fmt.Errorf("extra key must not be empty")
	}
	if len(k) > MaxKeyLength {
		return fmt.Errorf("extra key %.16q... exceeds %d bytes", k, MaxKeyLength)
	}
	if !utf8.ValidString(k) {
		return fmt.Errorf("extra key is not valid UTF-8")
	}
	return nil
}

func checkValue(path string, v any, depth int) error {
	if depth > MaxExtraDepth {
		return fmt.Errorf("extra.%s nesting depth exceeds maximum %d", path, MaxExtraDepth)
	}

	switch val := v.(type) {
	case string:
		if len(val) > MaxExtraString {
			return fmt.Errorf("extra.%s is %d bytes, maximum is %d", path, len(val), MaxExtraString)
		}
		if !utf8.ValidString(val) {
			return fmt.Errorf("extra.%s is not valid UTF-8", path)
		}
	case map[string]any:
		for k, child := range val {
			if err := validateKey(k); err != nil {
				return err
			}
			if err := checkValue(path+"."+k, child, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for i, child := range val {
			if err := checkValue(fmt.Sprintf("%s[%d]", path, i), child, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
