package browser

import (
	"regexp"
	"strings"
)

// selectorKind distinguishes the three selector syntaxes configs may use.
type selectorKind int

const (
	kindCSS selectorKind = iota
	kindXPath
	kindHasText
)

// query is a parsed selector.
type query struct {
	kind selectorKind
	expr string // css or xpath expression, or the tag part of :has-text
	text string // required substring for :has-text
}

var hasTextRe = regexp.MustCompile(`^(.*?):has-text\((['"])(.*?)['"]\)$`)

// parseSelector classifies a selector string. Expressions starting with
// "//", "(" or ".//" are XPath; tag:has-text('...') selects by tag then
// filters on visible text; everything else is CSS.
func parseSelector(sel string) query {
	sel = strings.TrimSpace(sel)
	if strings.HasPrefix(sel, "//") || strings.HasPrefix(sel, ".//") || strings.HasPrefix(sel, "(") {
		return query{kind: kindXPath, expr: sel}
	}
	if m := hasTextRe.FindStringSubmatch(sel); m != nil {
		expr := strings.TrimSpace(m[1])
		if expr == "" {
			expr = "*"
		}
		return query{kind: kindHasText, expr: expr, text: m[3]}
	}
	return query{kind: kindCSS, expr: sel}
}
