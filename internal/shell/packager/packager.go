// Package packager archives a component directory into a deployable zip.
// This is part of the Imperative Shell - it reads the local filesystem.
package packager

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/artpar/branchdeploy/internal/core/domain"
	"github.com/artpar/branchdeploy/internal/core/packaging"
)

// ContentTypeZip is the content type of every artifact.
const ContentTypeZip = "application/zip"

// zip cannot represent times before 1980.
var fixedModTime = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Artifact is a packaged component.
type Artifact struct {
	Data        []byte
	ContentType string
	SHA256      string   // hex
	CodeSHA256  string   // base64, as reported by the Lambda API
	Files       []string // slash-separated, sorted
}

// Size returns the artifact size in bytes.
func (a *Artifact) Size() int {
	return len(a.Data)
}

// Packager builds artifacts, skipping paths that match its exclude patterns.
type Packager struct {
	excludes []string
	logger   *slog.Logger
}

// New creates a packager. A nil excludes slice means packaging.DefaultExcludes.
func New(excludes []string, logger *slog.Logger) (*Packager, error) {
	if excludes == nil {
		excludes = packaging.DefaultExcludes
	}
	if err := packaging.ValidatePatterns(excludes); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Packager{
		excludes: append([]string(nil), excludes...),
		logger:   logger.With("component", "packager"),
	}, nil
}

type entry struct {
	name string // path inside the archive
	path string // path on disk
	mode fs.FileMode
}

// Package archives every non-excluded file under sourceDir. Entries are
// written in sorted order with a fixed timestamp, so identical trees produce
// identical bytes.
func (p *Packager) Package(ctx context.Context, sourceDir string) (*Artifact, error) {
	info, err := os.Stat(sourceDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NewPackagingError(sourceDir, "directory not found", domain.ErrSourceMissing)
		}
		return nil, domain.NewPackagingError(sourceDir, err.Error(), err)
	}
	if !info.IsDir() {
		return nil, domain.NewPackagingError(sourceDir, "not a directory", domain.ErrSourceMissing)
	}

	entries, err := p.collect(ctx, sourceDir)
	if err != nil {
		var pkgErr *domain.PackagingError
		if errors.As(err, &pkgErr) {
			return nil, pkgErr
		}
		return nil, domain.NewPackagingError(sourceDir, err.Error(), err)
	}
	if len(entries) == 0 {
		return nil, domain.NewPackagingError(sourceDir, "no files left after exclusion", domain.ErrSourceEmpty)
	}

	var buf bytes.Buffer
	if err := writeZip(&buf, entries); err != nil {
		return nil, domain.NewPackagingError(sourceDir, err.Error(), err)
	}

	sum := sha256.Sum256(buf.Bytes())
	files := make([]string, len(entries))
	for i, e := range entries {
		files[i] = e.name
	}

	artifact := &Artifact{
		Data:        buf.Bytes(),
		ContentType: ContentTypeZip,
		SHA256:      hex.EncodeToString(sum[:]),
		CodeSHA256:  base64.StdEncoding.EncodeToString(sum[:]),
		Files:       files,
	}
	p.logger.Debug("packaged directory",
		"source_dir", sourceDir,
		"files", len(files),
		"bytes", artifact.Size(),
		"sha256", artifact.SHA256,
	)
	return artifact, nil
}

func (p *Packager) collect(ctx context.Context, root string) ([]entry, error) {
	var entries []entry

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if packaging.Excluded(rel, p.excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		mode := d.Type()
		if mode&fs.ModeSymlink != 0 {
			target, err := os.Stat(path)
			if err != nil {
				return domain.NewPackagingError(root, fmt.Sprintf("broken symlink %s", rel), err)
			}
			if !target.Mode().IsRegular() {
				return domain.NewPackagingError(root, fmt.Sprintf("symlink %s does not point to a regular file", rel), domain.ErrIrregularFile)
			}
			entries = append(entries, entry{name: rel, path: path, mode: target.Mode()})
			return nil
		}
		if !mode.IsRegular() {
			return domain.NewPackagingError(root, fmt.Sprintf("cannot archive %s (%s)", rel, mode.Type()), domain.ErrIrregularFile)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, entry{name: rel, path: path, mode: info.Mode()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].name < entries[j].name
	})
	return entries, nil
}

func writeZip(w io.Writer, entries []entry) error {
	zw := zip.NewWriter(w)

	for _, e := range entries {
		header := &zip.FileHeader{
			Name:     e.name,
			Method:   zip.Deflate,
			Modified: fixedModTime,
		}
		header.SetMode(e.mode.Perm())

		dst, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", e.name, err)
		}
		if err := copyFile(dst, e.path); err != nil {
			return fmt.Errorf("failed to add %s: %w", e.name, err)
		}
	}

	return zw.Close()
}

func copyFile(dst io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(dst, f)
	return err
}
