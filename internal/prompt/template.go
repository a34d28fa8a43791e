package prompt

import "regexp"

// TemplateContext is the fixed substitution context for persona templates.
type TemplateContext struct {
	CharacterName string
	UserName      string
}

var (
	characterPattern = regexp.MustCompile(`(?i)\{character\}`)
	userPattern      = regexp.MustCompile(`(?i)\{user\}`)
)

// Render substitutes {character} and {user} placeholders, case-insensitively.
// Unknown placeholders pass through untouched.
func Render(text string, tc TemplateContext) string {
	text = characterPattern.ReplaceAllLiteralString(text, tc.CharacterName)
	return userPattern.ReplaceAllLiteralString(text, tc.UserName)
}
