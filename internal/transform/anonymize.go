package transform

import "regexp"

const (
	// nameToken is a capitalized word: one uppercase letter, then lowercase.
	nameToken = `\p{Lu}[\p{Ll}'’-]*`
	// honoreeToken also accepts upper-case surnames; only used right after an honorific.
	honoreeToken = `\p{Lu}[\p{L}'’-]*`
)

type substitution struct {
	re   *regexp.Regexp
	repl string
}

// Anonymizer strips salutation names from entity replies. It is a heuristic
// and will miss names that do not follow the usual greeting patterns.
type Anonymizer struct {
	steps []substitution
}

// NewAnonymizer compiles the substitution sequence.
func NewAnonymizer() *Anonymizer {
	return &Anonymizer{steps: []substitution{
		// greeting misspellings
		{
			re:   regexp.MustCompile(`(?i)\b(?:bonjours?|bonjoure|bonjor|bonjur|bonjout|bonour|bjr|bjour)\b`),
			repl: "Bonjour",
		},
		// honorific and optional name after the greeting
		{
			re: regexp.MustCompile(`^(\s*Bonjour)\s+(?i:monsieur|madame|mademoiselle|mme|mlle|mrs|mr|m)\b\.?` +
				`(?:\s+` + honoreeToken + `\.?){0,3}`),
			repl: "$1",
		},
		// bare name after the greeting, up to the comma
		{
			re:   regexp.MustCompile(`^(\s*Bonjour)\s*,?\s*` + nameToken + `(?:\s+` + nameToken + `){0,2}\s*,`),
			repl: "$1,",
		},
		// greeting followed only by a name
		{
			re:   regexp.MustCompile(`^(\s*Bonjour)\s+` + nameToken + `(?:\s+` + nameToken + `){0,2}\s*[.!]?\s*$`),
			repl: "$1",
		},
		// trailing signature after a sentence end or a comma
		{
			re:   regexp.MustCompile(`(?:([.!?])|,)\s*` + nameToken + `(?:\s+` + nameToken + `){0,2}\s*[.!]?\s*$`),
			repl: "$1",
		},
	}}
}

// Anonymize applies every step in order and re-cleans the result.
func (a *Anonymizer) Anonymize(text string) string {
	for _, step := range a.steps {
		text = step.re.ReplaceAllString(text, step.repl)
	}
	return CleanText(text, MaxTextLength)
}
