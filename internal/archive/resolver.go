// Package archive selects the authoritative instance document out of a
// cached filing artifact, unwrapping at most one zip layer and one per-file
// gzip layer.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

var (
	// ErrNoInstance means the artifact contains nothing matching a known
	// instance-document pattern.
	ErrNoInstance = errors.New("no usable instance document")
	// ErrNestedCompression means more than one compression layer was
	// found; multi-level compression is an explicit capability limit.
	ErrNestedCompression = errors.New("nested compression is not supported")
)

// Extensions of uncompressed instance documents, in no particular order.
var instanceExts = map[string]bool{
	".xhtml": true,
	".html":  true,
	".xml":   true,
	".xbrl":  true,
}

// Resolver maps a cached artifact to its single instance document.
type Resolver struct {
	log *zap.Logger
}

// NewResolver creates a resolver. A nil logger disables logging.
func NewResolver(log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{log: log}
}

// Resolve returns the instance-document path for the artifact at path. A
// non-archive artifact passes through unchanged; a zip archive is extracted
// and its members searched; a gzip artifact is decompressed one layer.
// Selection is deterministic across runs for identical contents.
func (r *Resolver) Resolve(path string) (string, error) {
	zipped, err := isZip(path)
	if err != nil {
		return "", fmt.Errorf("inspect %s: %w", filepath.Base(path), err)
	}
	if zipped {
		return r.resolveZip(path)
	}
	if strings.HasSuffix(path, ".gz") {
		return r.decompressGzip(path)
	}
	return path, nil
}

func (r *Resolver) resolveZip(path string) (string, error) {
	dir := extractionDir(path)
	if err := r.extractOnce(path, dir); err != nil {
		return "", err
	}

	members, err := listFiles(dir)
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", dir, err)
	}

	if plain := filterByExt(members, false); len(plain) > 0 {
		chosen := pickCandidate(plain)
		r.log.Debug("instance selected",
			zap.String("archive", filepath.Base(path)),
			zap.String("member", chosen),
			zap.Int("candidates", len(plain)))
		return filepath.Join(dir, chosen), nil
	}

	// No plain candidate: fall back to once-more-compressed variants and
	// decompress exactly the deterministically chosen one.
	if gzipped := filterByExt(members, true); len(gzipped) > 0 {
		chosen := pickCandidate(gzipped)
		return r.decompressGzip(filepath.Join(dir, chosen))
	}

	return "", fmt.Errorf("%s: %w", filepath.Base(path), ErrNoInstance)
}

// extractionDir is the sibling directory holding an archive's extracted
// contents: <artifact-stem>_unzipped.
func extractionDir(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "_unzipped"
}

// extractOnce extracts the archive unless the output directory already
// exists with content. An empty directory is not trusted as a completed
// extraction.
func (r *Resolver) extractOnce(path, dir string) error {
	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		return nil
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", filepath.Base(path), err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := extractMember(f, dir); err != nil {
			return fmt.Errorf("extract %s from %s: %w", f.Name, filepath.Base(path), err)
		}
	}
	r.log.Info("archive extracted",
		zap.String("archive", filepath.Base(path)),
		zap.Int("members", len(zr.File)))
	return nil
}

func extractMember(f *zip.File, dir string) error {
	dst := filepath.Join(dir, filepath.FromSlash(f.Name))
	// Reject members escaping the extraction dir.
	if rel, err := filepath.Rel(dir, dst); err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("member path %q escapes extraction directory", f.Name)
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(dst, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// decompressGzip unwraps exactly one gzip layer into a sibling path with
// the .gz suffix stripped. A second layer fails loudly instead of guessing.
func (r *Resolver) decompressGzip(path string) (string, error) {
	inner := strings.TrimSuffix(path, ".gz")
	if strings.HasSuffix(inner, ".gz") {
		return "", fmt.Errorf("%s: %w", filepath.Base(path), ErrNestedCompression)
	}
	if _, err := os.Stat(inner); err == nil {
		return inner, nil
	}

	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer in.Close()
	gz, err := gzip.NewReader(in)
	if err != nil {
		return "", fmt.Errorf("gunzip %s: %w", filepath.Base(path), err)
	}
	defer gz.Close()

	out, err := os.Create(inner)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, gz); err != nil {
		out.Close()
		os.Remove(inner)
		return "", fmt.Errorf("gunzip %s: %w", filepath.Base(path), err)
	}
	if err := out.Close(); err != nil {
		os.Remove(inner)
		return "", err
	}
	r.log.Debug("member decompressed", zap.String("path", inner))
	return inner, nil
}

func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	return files, err
}

// filterByExt keeps instance-document candidates: plain markup files, or
// their once-more-compressed .gz variants when gz is set.
func filterByExt(files []string, gz bool) []string {
	var out []string
	for _, f := range files {
		name := f
		if gz {
			if !strings.HasSuffix(name, ".gz") {
				continue
			}
			name = strings.TrimSuffix(name, ".gz")
		} else if strings.HasSuffix(name, ".gz") {
			continue
		}
		if instanceExts[strings.ToLower(filepath.Ext(name))] {
			out = append(out, f)
		}
	}
	return out
}

// pickCandidate orders candidates deterministically and takes the first:
// paths under a "reports" directory segment sort ahead (the conventional
// location of the primary report body), then shortest path, then
// lexicographic. This prefers the primary report over supplementary
// schedules without parsing content.
func pickCandidate(candidates []string) string {
	sorted := make([]string, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		ri, rj := underReports(sorted[i]), underReports(sorted[j])
		if ri != rj {
			return ri
		}
		if len(sorted[i]) != len(sorted[j]) {
			return len(sorted[i]) < len(sorted[j])
		}
		return sorted[i] < sorted[j]
	})
	return sorted[0]
}

func underReports(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if strings.EqualFold(seg, "reports") {
			return true
		}
	}
	return false
}

// isZip sniffs the artifact's magic bytes; extension alone is not trusted.
func isZip(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return false, nil // too short to be an archive
	}
	return magic[0] == 'P' && magic[1] == 'K' &&
		(magic[2] == 3 || magic[2] == 5) && (magic[3] == 4 || magic[3] == 6), nil
}
