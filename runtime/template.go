package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultEditor is used when a request carries no editor preference.
var DefaultEditor = []string{"gedit"}

// Placeholders recognized in editor argument templates.
const (
	placeholderPath = "%s"
	// 1-based and 0-based line.
	placeholderLine  = "%l"
	placeholderLine0 = "%L"
	// 1-based and 0-based column.
	placeholderCol  = "%c"
	placeholderCol0 = "%C"
)

// ErrEmptyEditor is returned for a template whose command is empty.
var ErrEmptyEditor = errors.New("editor command is empty")

// ParseTemplate decodes the editor preference, a JSON array of strings
// carried as a JSON-encoded string. An empty preference or empty array
// yields a copy of fallback.
func ParseTemplate(raw string, fallback []string) ([]string, error) {
	var tmpl []string
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &tmpl); err != nil {
			return nil, fmt.Errorf("editor preference is not a JSON array of strings: %w", err)
		}
	}
	if len(tmpl) == 0 {
		tmpl = append([]string(nil), fallback...)
	}
	if len(tmpl) == 0 || strings.TrimSpace(tmpl[0]) == "" {
		return nil, ErrEmptyEditor
	}
	return tmpl, nil
}

// BuildArgs substitutes placeholders in every token of template. line and
// col are zero-based. When no token references the path, it is appended.
func BuildArgs(template []string, path string, line, col int) []string {
	r := strings.NewReplacer(
		placeholderPath, path,
		placeholderLine, strconv.Itoa(line+1),
		placeholderLine0, strconv.Itoa(line),
		placeholderCol, strconv.Itoa(col+1),
		placeholderCol0, strconv.Itoa(col),
	)

	args := make([]string, 0, len(template)+1)
	hasPath := false
	for _, tok := range template {
		if strings.Contains(tok, placeholderPath) {
			hasPath = true
		}
		args = append(args, r.Replace(tok))
	}
	if !hasPath {
		args = append(args, path)
	}
	return args
}
