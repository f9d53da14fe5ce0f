package locator

import (
	"fmt"
	"regexp"
	"strings"
)

// PageElement is a flattened snapshot of one interactive DOM element,
// extracted in a single pass so scoring never races the live page.
type PageElement struct {
	Tag        string
	Text       string
	Attributes map[string]string
}

// generatedClassPatterns match class names minted by build tools; a
// selector built on one of these breaks on the next deploy, so they are
// never used for healing.
var generatedClassPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^css-`),
	regexp.MustCompile(`^jss\d+`),
	regexp.MustCompile(`^sc-`),
	regexp.MustCompile(`^_`),
	regexp.MustCompile(`[0-9a-f]{6,}`),
	regexp.MustCompile(`^[A-Za-z][\w-]*__[\w-]+--[\w-]+$`), // CSS modules
}

var longDigitRun = regexp.MustCompile(`\d{3,}`)

// scoreElement counts how many tokens of the logical key appear in the
// element's text, classes or attribute values. Case-insensitive
// bag-of-words containment; zero means no relation.
func scoreElement(key string, el PageElement) int {
	tokens := keyTokens(key)
	if len(tokens) == 0 {
		return 0
	}

	var corpus strings.Builder
	corpus.WriteString(strings.ToLower(el.Text))
	corpus.WriteByte(' ')
	for name, val := range el.Attributes {
		corpus.WriteString(strings.ToLower(name))
		corpus.WriteByte(' ')
		corpus.WriteString(strings.ToLower(val))
		corpus.WriteByte(' ')
	}
	haystack := corpus.String()

	score := 0
	for _, tok := range tokens {
		if strings.Contains(haystack, tok) {
			score++
		}
	}
	return score
}

func keyTokens(key string) []string {
	raw := strings.FieldsFunc(strings.ToLower(key), func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	})
	tokens := raw[:0]
	for _, t := range raw {
		if len(t) >= 2 {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// selectorFor builds a CSS selector from the most durable attribute the
// element offers: data-* beats a short non-numeric id beats name beats
// aria-label beats a non-generated class. Empty when nothing usable.
func selectorFor(el PageElement) string {
	for name, val := range el.Attributes {
		if strings.HasPrefix(name, "data-") && val != "" {
			return fmt.Sprintf(`[%s=%q]`, name, val)
		}
	}

	if id := el.Attributes["id"]; usableID(id) {
		return "#" + id
	}

	if name := el.Attributes["name"]; name != "" {
		return fmt.Sprintf(`[name=%q]`, name)
	}

	if label := el.Attributes["aria-label"]; label != "" {
		return fmt.Sprintf(`[aria-label=%q]`, label)
	}

	for _, class := range strings.Fields(el.Attributes["class"]) {
		if usableClass(class) {
			return "." + class
		}
	}

	return ""
}

// usableID accepts short, human-named ids only. Long or digit-heavy ids
// are almost certainly generated per render.
func usableID(id string) bool {
	return id != "" && len(id) <= 24 && !longDigitRun.MatchString(id)
}

func usableClass(class string) bool {
	if class == "" {
		return false
	}
	for _, pat := range generatedClassPatterns {
		if pat.MatchString(class) {
			return false
		}
	}
	return true
}

// bestCandidate returns the selector of the highest-scoring element with
// a usable attribute, or "" when no element relates to the key at all.
func bestCandidate(key string, elements []PageElement) string {
	bestScore := 0
	bestSel := ""
	for _, el := range elements {
		score := scoreElement(key, el)
		if score == 0 || score < bestScore {
			continue
		}
		sel := selectorFor(el)
		if sel == "" {
			continue
		}
		if score > bestScore {
			bestScore = score
			bestSel = sel
		}
	}
	return bestSel
}
