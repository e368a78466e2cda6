package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"

	"github.com/compozy/kbchat/engine/knowledge"
)

// FileStore serves blobs from an afero filesystem. Paths are slash
// separated and may not escape the filesystem root.
type FileStore struct {
	fs       afero.Fs
	maxBytes int64
}

func NewFileStore(fsys afero.Fs, maxBytes int64) *FileStore {
	return &FileStore{fs: fsys, maxBytes: limitOrDefault(maxBytes)}
}

func cleanPath(p string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimSpace(p))
	if cleaned == "/" {
		return "", errors.New("empty path")
	}
	return cleaned, nil
}

func (s *FileStore) Download(ctx context.Context, p string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, knowledge.Wrap(knowledge.ErrDownload, err, "download %s", p)
	}
	name, err := cleanPath(p)
	if err != nil {
		return Object{}, knowledge.Wrap(knowledge.ErrDownload, err, "download %q", p)
	}
	f, err := s.fs.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Object{}, notFound(p)
		}
		return Object{}, knowledge.Wrap(knowledge.ErrDownload, err, "open %s", p)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Object{}, knowledge.Wrap(knowledge.ErrDownload, err, "stat %s", p)
	}
	if info.IsDir() {
		return Object{}, knowledge.Wrap(knowledge.ErrDownload, nil, "%s is a directory", p)
	}
	if info.Size() > s.maxBytes {
		return Object{}, tooLarge(p, s.maxBytes)
	}
	data, err := io.ReadAll(io.LimitReader(f, s.maxBytes+1))
	if err != nil {
		return Object{}, knowledge.Wrap(knowledge.ErrDownload, err, "read %s", p)
	}
	if int64(len(data)) > s.maxBytes {
		return Object{}, tooLarge(p, s.maxBytes)
	}
	return Object{Name: path.Base(name), Data: data, ContentType: detectContentType(data, "")}, nil
}

// Glob lists regular files matching a doublestar pattern such as
// "handbooks/**/*.pdf", sorted.
func (s *FileStore) Glob(pattern string) ([]string, error) {
	pattern = strings.TrimPrefix(path.Clean("/"+pattern), "/")
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("blob: invalid pattern %q", pattern)
	}
	fsys := afero.NewIOFS(afero.NewBasePathFs(s.fs, "/"))
	matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("blob: glob %q: %w", pattern, err)
	}
	slices.Sort(matches)
	return matches, nil
}
