package engine

import (
	"fmt"
	"regexp"
	"strconv"
)

var placeholderRe = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)

// Expand substitutes {{name}} placeholders in a tool template with the
// matching call arguments. A placeholder with no matching argument stays
// literal in the output so a misconfigured template is visible instead
// of silently shrinking.
func Expand(template string, args map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		val, ok := args[name]
		if !ok {
			return match
		}
		switch v := val.(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		default:
			return fmt.Sprintf("%v", v)
		}
	})
}
