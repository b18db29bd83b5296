package tempstore

import (
	"regexp"
	"strings"
	"testing"
)

func TestSanitizeURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://github.com/owner/repo/issues/new", "github.com_owner_repo_issues_new"},
		{"http://example.com/a?b=c&d=e", "example.com_a_b_c_d_e"},
		{"example.com", "example.com"},
		{"", "quill"},
		{"https://", "quill"},
		{"about:blank", "about_blank"},
		{"https://ünïcode.example/päge", "n_code.example_p_ge"},
		{"file:///home/user/notes.txt", "home_user_notes.txt"},
		{"https://example.com/../..", "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := SanitizeURL(tt.url); got != tt.want {
				t.Errorf("SanitizeURL(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestSanitizeURL_Capped(t *testing.T) {
	got := SanitizeURL("https://example.com/" + strings.Repeat("a", 200))
	if len(got) > maxPrefixLen {
		t.Errorf("len(SanitizeURL) = %d, want <= %d", len(got), maxPrefixLen)
	}
	if !strings.HasPrefix(got, "example.com_") {
		t.Errorf("SanitizeURL = %q, want example.com_ prefix", got)
	}
}

func TestSanitizeURL_NeverContainsSeparator(t *testing.T) {
	for _, url := range []string{"a/b/c", `a\b`, "../../etc/passwd", "x\x00y"} {
		got := SanitizeURL(url)
		if strings.ContainsAny(got, "/\\\x00") {
			t.Errorf("SanitizeURL(%q) = %q contains a separator", url, got)
		}
	}
}

func TestSanitizeExtension(t *testing.T) {
	tests := []struct {
		ext  string
		want string
	}{
		{"md", "md"},
		{".md", "md"},
		{"", "txt"},
		{"...", "txt"},
		{"tar.gz", "targz"},
		{"../sh", "sh"},
		{"c++", "c"},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			if got := SanitizeExtension(tt.ext); got != tt.want {
				t.Errorf("SanitizeExtension(%q) = %q, want %q", tt.ext, got, tt.want)
			}
		})
	}
}

func TestNewName_Format(t *testing.T) {
	pattern := regexp.MustCompile(`^example\.com-[0-9a-f]{12}\.md$`)
	name := newName("example.com", "md")
	if !pattern.MatchString(name) {
		t.Errorf("newName = %q, want match for %s", name, pattern)
	}
}
