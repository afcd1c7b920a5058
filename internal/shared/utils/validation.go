package utils

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Collect payload limits
const (
	MaxBatchBytes   = 1 * 1024 * 1024 // 1MB - maximum posted batch
	MaxBatchEvents  = 500
	MaxEventNameLen = 128
	MaxPropsDepth   = 4
	MaxPropsKeys    = 64
)

// ValidateEventName accepts printable names of bounded length
func ValidateEventName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("event name is required")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("event name must be valid UTF-8")
	}
	if n := utf8.RuneCountInString(name); n > MaxEventNameLen {
		return fmt.Errorf("event name length %d exceeds maximum %d", n, MaxEventNameLen)
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return fmt.Errorf("event name contains non-printable character %U", r)
		}
	}
	return nil
}

// ValidateProps bounds the key count and nesting of event properties
func ValidateProps(props map[string]interface{}) error {
	if len(props) > MaxPropsKeys {
		return fmt.Errorf("props has %d keys, maximum %d", len(props), MaxPropsKeys)
	}
	return ValidateJSONDepth(props, MaxPropsDepth)
}

// ValidateJSONDepth checks if decoded JSON nesting depth is within limits
func ValidateJSONDepth(data interface{}, maxDepth int) error {
	return checkDepth(data, 0, maxDepth)
}

func checkDepth(data interface{}, currentDepth int, maxDepth int) error {
	if currentDepth > maxDepth {
		return fmt.Errorf("JSON nesting depth %d exceeds maximum %d", currentDepth, maxDepth)
	}

	switch v := data.(type) {
	case map[string]interface{}:
		for _, value := range v {
			if err := checkDepth(value, currentDepth+1, maxDepth); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, value := range v {
			if err := checkDepth(value, currentDepth+1, maxDepth); err != nil {
				return err
			}
		}
	}

	return nil
}
