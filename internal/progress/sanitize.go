package progress

import (
	"github.com/acarl005/stripansi"
)

const evaluatingKey = "evaluating"

// Sanitize returns the payload to publish live. Records carrying a non-empty
// "evaluating" list of strings get a copy with ANSI escapes removed from each
// entry; everything else is returned as is. The input is never mutated.
func Sanitize(payload any) any {
	record, ok := payload.(map[string]any)
	if !ok {
		return payload
	}

	lines, ok := evaluatingLines(record[evaluatingKey])
	if !ok {
		return payload
	}

	cleaned := make([]string, len(lines))
	for i, line := range lines {
		cleaned[i] = stripansi.Strip(line)
	}

	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	out[evaluatingKey] = cleaned
	return out
}

func evaluatingLines(v any) ([]string, bool) {
	switch lines := v.(type) {
	case []string:
		return lines, len(lines) > 0
	case []any:
		if len(lines) == 0 {
			return nil, false
		}
		out := make([]string, len(lines))
		for i, item := range lines {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}
