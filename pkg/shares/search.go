package shares

import "strings"

// sanitizer folds characters that carry meaning in FTS queries or path
// syntax into plain spaces before tokenization.
var sanitizer = strings.NewReplacer(
	"/", " ",
	`\`, " ",
	"'", " ",
	`"`, " ",
	":", " ",
)

// buildMatch compiles a peer search query into an FTS5 match expression of
// the form ("t1" AND "t2") NOT ("x1" OR "x2"). Tokens prefixed with "-" are
// exclusions. Returns false when the query has no positive terms.
func buildMatch(query string) (string, bool) {
	tokens := strings.Fields(sanitizer.Replace(query))

	var include, exclude []string
	for _, token := range tokens {
		if strings.HasPrefix(token, "-") && len(token) > 1 {
			exclude = append(exclude, quoteTerm(token[1:]))
			continue
		}
		include = append(include, quoteTerm(token))
	}

	if len(include) == 0 {
		return "", false
	}

	match := "(" + strings.Join(include, " AND ") + ")"
	if len(exclude) > 0 {
		match += " NOT (" + strings.Join(exclude, " OR ") + ")"
	}
	return match, true
}

// quoteTerm wraps a token in double quotes so FTS5 treats it as a string
// literal rather than query syntax.
func quoteTerm(term string) string {
	return `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
}
