package store

import (
	"strings"
	"unicode"
)

const maxFTSTokens = 16

// buildFTSMatchQuery turns free text into an FTS5 expression in which every
// term must match as a prefix somewhere in the indexed columns.
func buildFTSMatchQuery(text string) string {
	safe := sanitizeFTSTokens(strings.Fields(text))
	if len(safe) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(safe))
	for _, token := range safe {
		quoted = append(quoted, `"`+token+`"*`)
	}
	return strings.Join(quoted, " AND ")
}

func sanitizeFTSTokens(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}

	reserved := map[string]struct{}{
		"and":  {},
		"or":   {},
		"not":  {},
		"near": {},
	}

	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		for _, part := range strings.Fields(normalizeFTSToken(token)) {
			if _, blocked := reserved[part]; blocked {
				continue
			}
			if _, exists := seen[part]; exists {
				continue
			}
			seen[part] = struct{}{}
			out = append(out, part)
		}
	}

	if len(out) > maxFTSTokens {
		out = out[:maxFTSTokens]
	}
	return out
}

func normalizeFTSToken(token string) string {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteByte(' ')
	}
	return b.String()
}

// searchDocument is the text indexed for one task.
func searchDocument(t *Task) []any {
	return []any{t.ID, t.Name, t.Description, t.CancelReason, strings.Join(t.Tags, " ")}
}
