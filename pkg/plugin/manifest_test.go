package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadManifest(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		dir := t.TempDir()

		m := loadManifest(dir, "my_fine_plugin")

		assert.Equal(t, "My Fine Plugin", m.Name)
		assert.Contains(t, m.Description, "Description not found")
		assert.Equal(t, "Unknown author", m.AuthorName)
		assert.Equal(t, "unknown", m.Tags)
		assert.Equal(t, "0.0.1", m.Version)
		assert.Empty(t, m.Dependencies)
	})

	t.Run("declared fields win over defaults", func(t *testing.T) {
		dir := t.TempDir()
		writeManifest(t, dir, `{
			"name": "Weather",
			"description": "Forecasts",
			"author_name": "Ada",
			"version": "1.2.3",
			"tags": "weather, tools",
			"dependencies": ["geo"]
		}`)

		m := loadManifest(dir, "weather")

		assert.Equal(t, "Weather", m.Name)
		assert.Equal(t, "Forecasts", m.Description)
		assert.Equal(t, "Ada", m.AuthorName)
		assert.Equal(t, "1.2.3", m.Version)
		assert.Equal(t, []string{"geo"}, m.Dependencies)
	})

	t.Run("malformed json falls back to defaults", func(t *testing.T) {
		dir := t.TempDir()
		writeManifest(t, dir, `{not json`)

		m := loadManifest(dir, "broken_one")

		assert.Equal(t, "Broken One", m.Name)
		assert.Equal(t, "0.0.1", m.Version)
	})
}

func TestManifestCompatibleWith(t *testing.T) {
	t.Run("no bounds always pass", func(t *testing.T) {
		assert.NoError(t, Manifest{}.CompatibleWith("1.0.0"))
	})

	t.Run("host inside bounds", func(t *testing.T) {
		m := Manifest{MinCatVersion: "1.0.0", MaxCatVersion: "2.0.0"}
		assert.NoError(t, m.CompatibleWith("1.5.0"))
	})

	t.Run("host below minimum", func(t *testing.T) {
		m := Manifest{MinCatVersion: "2.0.0"}
		err := m.CompatibleWith("1.9.0")
		require.Error(t, err)
		assert.Contains(t, err.Error(), ">= 2.0.0")
	})

	t.Run("host above maximum", func(t *testing.T) {
		m := Manifest{MaxCatVersion: "1.0.0"}
		err := m.CompatibleWith("1.0.1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "<= 1.0.0")
	})

	t.Run("unparseable bound fails closed", func(t *testing.T) {
		m := Manifest{MinCatVersion: "not-a-version"}
		assert.Error(t, m.CompatibleWith("1.0.0"))
	})

	t.Run("unparseable host fails closed", func(t *testing.T) {
		m := Manifest{MinCatVersion: "1.0.0"}
		assert.Error(t, m.CompatibleWith("dev"))
	})
}

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(content), 0o644))
}
