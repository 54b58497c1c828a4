// Package archive packages the live database file and auxiliary data
// directories into a single versioned tar.gz archive and unpacks it again.
//
// Sources are staged to a scratch directory first, with change detection and
// bounded retry, so a write in progress cannot produce a torn capture.
// Entries are written in sorted logical-name order with the manifest first.
package archive

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/dmitrijs2005/ledgervault/internal/checksum"
	"github.com/dmitrijs2005/ledgervault/internal/common"
	"github.com/dmitrijs2005/ledgervault/internal/filex"
	"github.com/dmitrijs2005/ledgervault/internal/logging"
)

// manifestSchemaVersion is bumped when the manifest format changes.
const manifestSchemaVersion = 1

// Source is one item to capture: a single file or a whole directory,
// addressed inside the archive by its label.
type Source struct {
	// Label becomes the first path element of every entry from this
	// source. It must be a single path segment ("db", "reports").
	Label string

	// Path is the file or directory on disk.
	Path string
}

// Builder captures sources into archives.
type Builder struct {
	log logging.Logger
}

func NewBuilder(log logging.Logger) *Builder {
	return &Builder{log: log}
}

// stagedFile is one file copied into the scratch directory, keyed by its
// logical archive name.
type stagedFile struct {
	name   string
	path   string
	size   int64
	digest string
}

// Build captures the given sources into a tar.gz archive at destPath.
// level 0 stores without compression; 1–9 trade CPU for size. A missing or
// persistently locked source fails with common.ErrSourceUnavailable after
// bounded retries rather than hanging.
func (b *Builder) Build(ctx context.Context, sources []Source, level int, sourceVersion, destPath string) (*Manifest, error) {
	if level < gzip.NoCompression || level > gzip.BestCompression {
		return nil, fmt.Errorf("%w: compression level %d outside 0..9", common.ErrConfigInvalid, level)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no sources configured", common.ErrConfigInvalid)
	}

	stagingDir, err := os.MkdirTemp(filepath.Dir(destPath), "staging-*")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	staged, err := b.stage(ctx, sources, stagingDir)
	if err != nil {
		return nil, err
	}

	sort.Slice(staged, func(i, j int) bool { return staged[i].name < staged[j].name })

	manifest := &Manifest{
		SchemaVersion:    manifestSchemaVersion,
		CreatedAt:        time.Now().UTC(),
		SourceVersion:    sourceVersion,
		CompressionLevel: level,
	}
	for _, f := range staged {
		manifest.TotalSizeBytes += f.size
		manifest.Files = append(manifest.Files, File{
			Name:      f.name,
			SizeBytes: f.size,
			Checksum:  f.digest,
		})
	}

	if err := writeArchive(destPath, level, manifest, staged); err != nil {
		return nil, err
	}

	b.log.Debug(ctx, "archive built",
		"path", destPath, "files", len(staged), "bytes", manifest.TotalSizeBytes, "level", level)

	return manifest, nil
}

// stage copies every source file into the scratch directory under its
// logical name and digests it.
func (b *Builder) stage(ctx context.Context, sources []Source, stagingDir string) ([]stagedFile, error) {
	var staged []stagedFile

	for _, src := range sources {
		if src.Label == "" || strings.ContainsAny(src.Label, `/\`) {
			return nil, fmt.Errorf("%w: bad source label %q", common.ErrConfigInvalid, src.Label)
		}

		info, err := os.Stat(src.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", common.ErrSourceUnavailable, src.Path, err)
		}

		if !info.IsDir() {
			f, err := b.stageOne(ctx, src.Path, path.Join(src.Label, filepath.Base(src.Path)), stagingDir)
			if err != nil {
				return nil, err
			}
			staged = append(staged, f)
			continue
		}

		err = filepath.WalkDir(src.Path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return fmt.Errorf("%w: %s: %v", common.ErrSourceUnavailable, p, err)
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(src.Path, p)
			if err != nil {
				return err
			}
			f, err := b.stageOne(ctx, p, path.Join(src.Label, filepath.ToSlash(rel)), stagingDir)
			if err != nil {
				return err
			}
			staged = append(staged, f)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return staged, nil
}

func (b *Builder) stageOne(ctx context.Context, srcPath, logicalName, stagingDir string) (stagedFile, error) {
	dst := filepath.Join(stagingDir, filepath.FromSlash(logicalName))
	if err := filex.EnsureDir(filepath.Dir(dst)); err != nil {
		return stagedFile{}, err
	}

	if err := filex.CopyFile(ctx, srcPath, dst); err != nil {
		return stagedFile{}, fmt.Errorf("%w: staging %s: %v", common.ErrSourceUnavailable, srcPath, err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return stagedFile{}, err
	}
	digest, err := checksum.DigestFile(dst)
	if err != nil {
		return stagedFile{}, err
	}

	return stagedFile{name: logicalName, path: dst, size: info.Size(), digest: digest}, nil
}

func writeArchive(destPath string, level int, manifest *Manifest, staged []stagedFile) (err error) {
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	gz, err := gzip.NewWriterLevel(out, level)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(gz)

	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := writeEntry(tw, ManifestName, manifest.CreatedAt, manifestBytes); err != nil {
		return err
	}

	for _, f := range staged {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return err
		}
		if err := writeEntry(tw, f.name, manifest.CreatedAt, data); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return out.Sync()
}

func writeEntry(tw *tar.Writer, name string, modTime time.Time, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o600,
		Size:    int64(len(data)),
		ModTime: modTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("tar header %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("tar write %s: %w", name, err)
	}
	return nil
}

// Unpack extracts the archive at archivePath into dir, verifying every file
// against the embedded manifest. On any mismatch it fails with
// common.ErrChecksumMismatch and the caller must treat the extraction as
// unusable.
func Unpack(ctx context.Context, archivePath, dir string) (*Manifest, error) {
	in, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", archivePath, err)
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("%w: not a valid archive: %v", common.ErrChecksumMismatch, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)

	manifest, err := readManifest(tr)
	if err != nil {
		return nil, err
	}

	extracted := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading archive: %v", common.ErrChecksumMismatch, err)
		}

		name := path.Clean(hdr.Name)
		if path.IsAbs(name) || strings.HasPrefix(name, "..") {
			return nil, fmt.Errorf("%w: unsafe entry name %q", common.ErrChecksumMismatch, hdr.Name)
		}

		want, ok := manifest.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: entry %q not in manifest", common.ErrChecksumMismatch, name)
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", common.ErrChecksumMismatch, name, err)
		}
		if !checksum.Verify(data, want.Checksum) {
			return nil, fmt.Errorf("%w: file %s", common.ErrChecksumMismatch, name)
		}

		dst := filepath.Join(dir, filepath.FromSlash(name))
		if err := filex.EnsureDir(filepath.Dir(dst)); err != nil {
			return nil, err
		}
		if err := os.WriteFile(dst, data, 0o600); err != nil {
			return nil, fmt.Errorf("write %s: %w", dst, err)
		}
		extracted++
	}

	if extracted != len(manifest.Files) {
		return nil, fmt.Errorf("%w: archive has %d files, manifest lists %d",
			common.ErrChecksumMismatch, extracted, len(manifest.Files))
	}

	return manifest, nil
}

func readManifest(tr *tar.Reader) (*Manifest, error) {
	hdr, err := tr.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: empty archive: %v", common.ErrChecksumMismatch, err)
	}
	if path.Clean(hdr.Name) != ManifestName {
		return nil, fmt.Errorf("%w: first entry is %q, expected %q", common.ErrChecksumMismatch, hdr.Name, ManifestName)
	}

	var manifest Manifest
	if err := json.NewDecoder(tr).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("%w: bad manifest: %v", common.ErrChecksumMismatch, err)
	}
	return &manifest, nil
}
