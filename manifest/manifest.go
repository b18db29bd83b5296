// Package manifest writes the native-messaging host manifest that tells a
// browser how to start quill-host.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Browser identifies a manifest flavor and install location.
type Browser string

// Supported browsers.
const (
	Firefox  Browser = "firefox"
	Chrome   Browser = "chrome"
	Chromium Browser = "chromium"
)

// ErrUnsupportedPlatform is returned by Dir on platforms where manifests are
// registered some other way.
var ErrUnsupportedPlatform = errors.New("manifest install is not supported on this platform")

// ParseBrowser validates a browser name.
func ParseBrowser(s string) (Browser, error) {
	switch b := Browser(strings.ToLower(s)); b {
	case Firefox, Chrome, Chromium:
		return b, nil
	default:
		return "", fmt.Errorf("unknown browser %q (want firefox, chrome or chromium)", s)
	}
}

// Manifest models the native messaging host manifest JSON. Firefox lists
// extension ids; Chrome and Chromium list extension origins.
type Manifest struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	Path              string   `json:"path"`
	Typ               string   `json:"type"`
	AllowedExtensions []string `json:"allowed_extensions,omitempty"`
	AllowedOrigins    []string `json:"allowed_origins,omitempty"`
}

// manifestType is the only supported value for the "type" field.
const manifestType = "stdio"

var namePattern = regexp.MustCompile(`^([a-z0-9_]+)(\.[a-z0-9_]+)*$`)

// ValidateName reports whether name is an acceptable host name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid host name %q", name)
	}
	return nil
}

// New builds the manifest for browser. allowed holds Firefox extension ids
// or Chrome origins; a bare Chrome extension id is turned into its origin.
func New(browser Browser, name, description, path string, allowed []string) (Manifest, error) {
	if err := ValidateName(name); err != nil {
		return Manifest{}, err
	}
	if !filepath.IsAbs(path) {
		return Manifest{}, fmt.Errorf("host path %q must be absolute", path)
	}
	if len(allowed) == 0 {
		return Manifest{}, fmt.Errorf("%s manifest needs at least one allowed extension", browser)
	}

	m := Manifest{Name: name, Description: description, Path: path}
	switch browser {
	case Firefox:
		m.AllowedExtensions = append([]string(nil), allowed...)
	case Chrome, Chromium:
		for _, a := range allowed {
			origin, err := chromeOrigin(a)
			if err != nil {
				return Manifest{}, err
			}
			m.AllowedOrigins = append(m.AllowedOrigins, origin)
		}
	default:
		return Manifest{}, fmt.Errorf("unknown browser %q", browser)
	}
	return m, nil
}

func chromeOrigin(s string) (string, error) {
	if !strings.Contains(s, "://") {
		return "chrome-extension://" + s + "/", nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme != "chrome-extension" || u.Host == "" {
		return "", fmt.Errorf("invalid extension origin %q", s)
	}
	return "chrome-extension://" + u.Host + "/", nil
}

// Marshal returns the on-disk encoding of the manifest.
func (m Manifest) Marshal() ([]byte, error) {
	m.Typ = manifestType
	buf, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(buf, '\n'), nil
}

// Filename is the manifest file name, without a directory.
func (m Manifest) Filename() string {
	return m.Name + ".json"
}

// Dir returns the manifest directory for browser. home is the user's home
// directory and is ignored for system-wide installs.
func Dir(browser Browser, system bool, home string) (string, error) {
	loc, ok := locations[browser]
	if !ok {
		if len(locations) == 0 {
			return "", ErrUnsupportedPlatform
		}
		return "", fmt.Errorf("unknown browser %q", browser)
	}
	if system {
		return loc.system, nil
	}
	return filepath.Join(home, loc.user), nil
}

// Install writes m into dir, creating dir if needed, and returns the path
// of the written file.
func Install(m Manifest, dir string) (string, error) {
	buf, err := m.Marshal()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create manifest dir: %w", err)
	}
	name := filepath.Join(dir, m.Filename())
	if err := os.WriteFile(name, buf, 0o644); err != nil {
		return "", fmt.Errorf("writing manifest: %w", err)
	}
	return name, nil
}

// location holds the user-relative and system-wide manifest directories.
type location struct {
	user   string
	system string
}
