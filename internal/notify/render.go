package notify

import "regexp"

var placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)

// Render substitutes {placeholder} tokens in a template body with values
// from data. Unknown placeholders are left verbatim so a misconfigured
// template is visible in the delivered text instead of silently blanked.
func Render(body string, data map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
		key := match[1 : len(match)-1]
		if v, ok := data[key]; ok {
			return v
		}
		return match
	})
}
