// Package blob downloads the raw bytes of uploaded documents.
package blob

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/compozy/kbchat/engine/knowledge"
	appconfig "github.com/compozy/kbchat/pkg/config"
)

const (
	ProviderFilesystem = "filesystem"
	ProviderHTTP       = "http"

	defaultMaxBytes = 50 << 20
	defaultTimeout  = 30 * time.Second
)

// Object is a downloaded blob.
type Object struct {
	Name        string
	Data        []byte
	ContentType string
}

// Store fetches blobs by path. A missing path yields knowledge.ErrSourceNotFound
// inside a knowledge.ErrDownload chain.
type Store interface {
	Download(ctx context.Context, path string) (Object, error)
}

// Config selects and configures a Store.
type Config struct {
	Provider string
	Root     string
	BaseURL  string
	Token    string
	Timeout  time.Duration
	MaxBytes int64
}

func ConfigFromApp(cfg *appconfig.Config) *Config {
	b := cfg.Blob
	return &Config{
		Provider: strings.ToLower(strings.TrimSpace(b.Provider)),
		Root:     strings.TrimSpace(b.Root),
		BaseURL:  strings.TrimSpace(b.BaseURL),
		Token:    b.Token.Value(),
		Timeout:  b.Timeout,
		MaxBytes: b.MaxBytes,
	}
}

// New builds the configured store. The filesystem provider is rooted at
// cfg.Root on the OS filesystem.
func New(cfg *Config) (Store, error) {
	switch cfg.Provider {
	case "", ProviderFilesystem:
		if cfg.Root == "" {
			return nil, knowledge.Wrap(knowledge.ErrConfiguration, nil, "blob root is required")
		}
		return NewFileStore(afero.NewBasePathFs(afero.NewOsFs(), cfg.Root), cfg.MaxBytes), nil
	case ProviderHTTP:
		if cfg.BaseURL == "" {
			return nil, knowledge.Wrap(knowledge.ErrConfiguration, nil, "blob base url is required")
		}
		return NewHTTPStore(cfg.BaseURL, cfg.Token, cfg.Timeout, cfg.MaxBytes), nil
	default:
		return nil, knowledge.Wrap(knowledge.ErrConfiguration, nil, "unknown blob provider %q", cfg.Provider)
	}
}

func detectContentType(data []byte, declared string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	if mt := http.DetectContentType(data); mt != "application/octet-stream" && !strings.HasPrefix(mt, "text/plain") {
		return mt
	}
	return mimetype.Detect(data).String()
}

func baseName(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return path.Base(p)
}

func tooLarge(p string, limit int64) error {
	return knowledge.Wrap(knowledge.ErrDownload, nil, "%s exceeds %d bytes", p, limit)
}

func limitOrDefault(n int64) int64 {
	if n <= 0 {
		return defaultMaxBytes
	}
	return n
}

func notFound(p string) error {
	return knowledge.Wrap(knowledge.ErrDownload, fmt.Errorf("%w: %s", knowledge.ErrSourceNotFound, p), "download %s", p)
}
