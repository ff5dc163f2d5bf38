package zendesk

import (
	"fmt"
	"regexp"
	"strings"
)

// templateVarPattern matches placeholders like {subdomain} in base URL templates.
var templateVarPattern = regexp.MustCompile(`\{([a-zA-Z0-9_-]{1,64})\}`)

// ResolveBaseURL replaces every {placeholder} in tmpl with values from vars
// and strips any trailing slash. Returns an error if any placeholder has no
// matching variable.
func ResolveBaseURL(tmpl string, vars map[string]string) (string, error) {
	var missingVar string
	result := templateVarPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := match[1 : len(match)-1]
		val, ok := vars[name]
		if !ok {
			missingVar = name
			return match
		}
		return val
	})
	if missingVar != "" {
		return "", fmt.Errorf("base url variable %q is not defined", missingVar)
	}
	return strings.TrimRight(result, "/"), nil
}
