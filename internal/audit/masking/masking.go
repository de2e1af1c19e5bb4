package masking

import "strings"

const maskToken = "****"

// SensitiveKeys are metadata keys whose values identify a person or company.
var SensitiveKeys = map[string]struct{}{
	"customer_email":   {},
	"customer_tax_id":  {},
	"customer_address": {},
	"seller_tax_id":    {},
}

// MaskValue keeps the last four characters of a value.
func MaskValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskMetadata returns a copy of input with sensitive string values masked,
// recursing into nested maps.
func MaskMetadata(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	out := make(map[string]any, len(input))
	for key, value := range input {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		switch cast := value.(type) {
		case map[string]any:
			out[key] = MaskMetadata(cast)
		case string:
			if _, sensitive := SensitiveKeys[key]; sensitive {
				out[key] = MaskValue(cast)
			} else {
				out[key] = cast
			}
		default:
			out[key] = value
		}
	}
	return out
}
