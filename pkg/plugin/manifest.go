package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ManifestFileName is the optional metadata file inside a plugin folder.
const ManifestFileName = "plugin.json"

// Manifest is the plugin metadata from plugin.json. Every field is
// optional; absent fields get generated defaults so a bare folder with
// source files is already a valid plugin.
type Manifest struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	AuthorName    string   `json:"author_name"`
	AuthorURL     string   `json:"author_url"`
	PluginURL     string   `json:"plugin_url"`
	Tags          string   `json:"tags"`
	Thumb         string   `json:"thumb"`
	Version       string   `json:"version"`
	MinCatVersion string   `json:"min_cat_version"`
	MaxCatVersion string   `json:"max_cat_version"`
	Dependencies  []string `json:"dependencies"`
}

// loadManifest reads plugin.json from a plugin folder, filling defaults
// for anything absent. A missing or unreadable file yields a manifest
// built entirely from defaults, never an error.
func loadManifest(path, id string) Manifest {
	var m Manifest

	raw, err := os.ReadFile(filepath.Join(path, ManifestFileName))
	if err == nil {
		// Decode errors are treated the same way: defaults take over.
		_ = json.Unmarshal(raw, &m)
	}

	if m.Name == "" {
		m.Name = titleFromID(id)
	}
	if m.Description == "" {
		m.Description = fmt.Sprintf(
			"Description not found for this plugin. Please create a `%s` in the plugin folder.",
			ManifestFileName,
		)
	}
	if m.AuthorName == "" {
		m.AuthorName = "Unknown author"
	}
	if m.Tags == "" {
		m.Tags = "unknown"
	}
	if m.Version == "" {
		m.Version = "0.0.1"
	}
	if m.Dependencies == nil {
		m.Dependencies = []string{}
	}

	return m
}

// CompatibleWith checks the manifest's host version bounds against the
// running host version. Empty bounds always pass; unparseable bounds
// fail closed.
func (m Manifest) CompatibleWith(hostVersion string) error {
	if m.MinCatVersion == "" && m.MaxCatVersion == "" {
		return nil
	}

	host, err := semver.NewVersion(hostVersion)
	if err != nil {
		return fmt.Errorf("invalid host version %s: %w", hostVersion, err)
	}

	if m.MinCatVersion != "" {
		min, err := semver.NewVersion(m.MinCatVersion)
		if err != nil {
			return fmt.Errorf("invalid min_cat_version %s: %w", m.MinCatVersion, err)
		}
		if host.LessThan(min) {
			return fmt.Errorf("plugin requires host version >= %s, running %s", min, host)
		}
	}

	if m.MaxCatVersion != "" {
		max, err := semver.NewVersion(m.MaxCatVersion)
		if err != nil {
			return fmt.Errorf("invalid max_cat_version %s: %w", m.MaxCatVersion, err)
		}
		if host.GreaterThan(max) {
			return fmt.Errorf("plugin requires host version <= %s, running %s", max, host)
		}
	}

	return nil
}

// titleFromID turns a folder slug into a readable default name, e.g.
// "my_fine_plugin" -> "My Fine Plugin".
func titleFromID(id string) string {
	words := strings.FieldsFunc(id, func(r rune) bool {
		return r == '_' || r == '-'
	})
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
