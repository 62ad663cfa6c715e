package plugin

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var slugSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// Slugify derives a plugin id from an archive or folder name:
// lowercase, non-alphanumerics collapsed to underscores.
func Slugify(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = slugSanitizer.ReplaceAllString(name, "_")
	return strings.Trim(name, "_")
}

// Extractor unpacks a plugin package (zip or tar, optionally gzipped)
// into the plugins root. The archive filename, minus extension,
// becomes the plugin id; if the archive holds a single top-level
// folder, that folder's contents become the plugin root.
type Extractor struct {
	archivePath string
	format      string
	id          string
	logger      zerolog.Logger
}

// NewExtractor validates the package format and derives the plugin id.
func NewExtractor(archivePath string, logger zerolog.Logger) (*Extractor, error) {
	base := filepath.Base(archivePath)

	var format, stem string
	switch {
	case strings.HasSuffix(base, ".zip"):
		format, stem = "zip", strings.TrimSuffix(base, ".zip")
	case strings.HasSuffix(base, ".tar.gz"):
		format, stem = "tgz", strings.TrimSuffix(base, ".tar.gz")
	case strings.HasSuffix(base, ".tgz"):
		format, stem = "tgz", strings.TrimSuffix(base, ".tgz")
	case strings.HasSuffix(base, ".tar"):
		format, stem = "tar", strings.TrimSuffix(base, ".tar")
	default:
		return nil, fmt.Errorf("invalid package extension for %s: valid formats are zip and tar", base)
	}

	return &Extractor{
		archivePath: archivePath,
		format:      format,
		id:          Slugify(stem),
		logger:      logger.With().Str("component", "plugin-extractor").Logger(),
	}, nil
}

// ID returns the plugin id the archive will install as.
func (e *Extractor) ID() string { return e.id }

// Extract unpacks the archive, scans the extracted sources for unsafe
// constructs, and moves the result into the plugins root, replacing
// any previous install of the same id. The archive file is removed
// after a successful extraction.
func (e *Extractor) Extract(pluginsRoot string) (string, error) {
	tmp := filepath.Join(os.TempDir(), "grimalkin-"+uuid.NewString())
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return "", fmt.Errorf("failed to create extraction directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	var err error
	switch e.format {
	case "zip":
		err = extractZip(e.archivePath, tmp)
	default:
		err = extractTar(e.archivePath, tmp, e.format == "tgz")
	}
	if err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", e.archivePath, err)
	}

	// A sole top-level folder becomes the plugin root.
	src := tmp
	if entries, err := os.ReadDir(tmp); err == nil && len(entries) == 1 && entries[0].IsDir() {
		src = filepath.Join(tmp, entries[0].Name())
	}

	if err := scanSources(src); err != nil {
		return "", err
	}

	dest := filepath.Join(pluginsRoot, e.id)
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("failed to replace previous install of %s: %w", e.id, err)
	}
	if err := moveDir(src, dest); err != nil {
		return "", fmt.Errorf("failed to install plugin %s: %w", e.id, err)
	}

	if err := os.Remove(e.archivePath); err != nil && !os.IsNotExist(err) {
		e.logger.Warn().Err(err).Str("archive", e.archivePath).Msg("Failed to remove plugin package")
	}

	e.logger.Debug().Str("plugin", e.id).Str("path", dest).Msg("Extracted plugin package")
	return dest, nil
}

// safeJoin joins an archive entry name under root, refusing entries
// that would escape it.
func safeJoin(root, name string) (string, error) {
	cleaned := filepath.Clean(filepath.Join(root, name))
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %s escapes extraction root", name)
	}
	return cleaned, nil
}

func extractZip(archivePath, dest string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer reader.Close()

	for _, f := range reader.File {
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		if err := writeFile(target, src); err != nil {
			src.Close()
			return err
		}
		src.Close()
	}
	return nil
}

func extractTar(archivePath, dest string, gzipped bool) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer file.Close()

	var reader io.Reader = file
	if gzipped {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return err
		}
		defer gz.Close()
		reader = gz
	}

	tr := tar.NewReader(reader)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeFile(target, tr); err != nil {
				return err
			}
		}
	}
}

func writeFile(target string, src io.Reader) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// moveDir renames when possible and falls back to a copy when tmp and
// the plugins root are on different filesystems.
func moveDir(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		return writeFile(target, in)
	})
}
