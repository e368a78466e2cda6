package blob

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/kbchat/engine/knowledge"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	newFS := func(t *testing.T) afero.Fs {
		t.Helper()
		fsys := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fsys, "/docs/hours.txt", []byte("Library hours are 9 to 5."), 0o644))
		require.NoError(t, afero.WriteFile(fsys, "/docs/nested/rules.md", []byte("# Rules"), 0o644))
		require.NoError(t, afero.WriteFile(fsys, "/docs/nested/guide.pdf", []byte("%PDF-1.4"), 0o644))
		return fsys
	}

	t.Run("Should download a file by relative path", func(t *testing.T) {
		obj, err := NewFileStore(newFS(t), 0).Download(ctx, "docs/hours.txt")
		require.NoError(t, err)
		assert.Equal(t, "hours.txt", obj.Name)
		assert.Equal(t, "Library hours are 9 to 5.", string(obj.Data))
		assert.Contains(t, obj.ContentType, "text/plain")
	})

	t.Run("Should report missing paths as not found downloads", func(t *testing.T) {
		_, err := NewFileStore(newFS(t), 0).Download(ctx, "docs/missing.pdf")
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrDownload)
		assert.ErrorIs(t, err, knowledge.ErrSourceNotFound)
	})

	t.Run("Should keep traversal inside the root", func(t *testing.T) {
		fsys := newFS(t)
		store := NewFileStore(afero.NewBasePathFs(fsys, "/docs"), 0)
		obj, err := store.Download(ctx, "../docs/hours.txt")
		require.Error(t, err)
		assert.Empty(t, obj.Data)
		obj, err = store.Download(ctx, "hours.txt")
		require.NoError(t, err)
		assert.NotEmpty(t, obj.Data)
	})

	t.Run("Should reject files over the size limit", func(t *testing.T) {
		_, err := NewFileStore(newFS(t), 4).Download(ctx, "docs/hours.txt")
		assert.ErrorIs(t, err, knowledge.ErrDownload)
		assert.NotErrorIs(t, err, knowledge.ErrSourceNotFound)
	})

	t.Run("Should glob recursively", func(t *testing.T) {
		matches, err := NewFileStore(newFS(t), 0).Glob("docs/**/*.md")
		require.NoError(t, err)
		assert.Equal(t, []string{"docs/nested/rules.md"}, matches)
	})
}

func TestHTTPStore(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/guide.pdf":
			if r.Header.Get("Authorization") != "Bearer secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.4 body"))
		case "/files/big.txt":
			_, _ = w.Write([]byte("0123456789"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	t.Run("Should download relative paths with the bearer token", func(t *testing.T) {
		obj, err := NewHTTPStore(srv.URL, "secret", time.Second, 0).Download(ctx, "files/guide.pdf")
		require.NoError(t, err)
		assert.Equal(t, "guide.pdf", obj.Name)
		assert.Equal(t, "application/pdf", obj.ContentType)
	})

	t.Run("Should send the bearer token to absolute URLs under the base", func(t *testing.T) {
		obj, err := NewHTTPStore(srv.URL, "secret", time.Second, 0).
			Download(ctx, srv.URL+"/files/guide.pdf")
		require.NoError(t, err)
		assert.Equal(t, "%PDF-1.4 body", string(obj.Data))
	})

	t.Run("Should not leak the bearer token to other hosts", func(t *testing.T) {
		var mu sync.Mutex
		var gotAuth []string
		foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			gotAuth = append(gotAuth, r.Header.Get("Authorization"))
			mu.Unlock()
			_, _ = w.Write([]byte("public notes"))
		}))
		t.Cleanup(foreign.Close)
		obj, err := NewHTTPStore(srv.URL, "secret", time.Second, 0).Download(ctx, foreign.URL+"/notes.txt")
		require.NoError(t, err)
		assert.Equal(t, "public notes", string(obj.Data))
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{""}, gotAuth)
	})

	t.Run("Should stop reading once the size limit is passed", func(t *testing.T) {
		huge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(strings.Repeat("x", 1<<20)))
		}))
		t.Cleanup(huge.Close)
		_, err := NewHTTPStore(huge.URL, "", time.Second, 1024).Download(ctx, "dump.txt")
		assert.ErrorIs(t, err, knowledge.ErrDownload)
		assert.Contains(t, err.Error(), "exceeds 1024 bytes")
	})

	t.Run("Should map 404 to not found", func(t *testing.T) {
		_, err := NewHTTPStore(srv.URL, "", time.Second, 0).Download(ctx, "files/nope.pdf")
		assert.ErrorIs(t, err, knowledge.ErrSourceNotFound)
	})

	t.Run("Should fail on other error statuses", func(t *testing.T) {
		_, err := NewHTTPStore(srv.URL, "wrong", time.Second, 0).Download(ctx, "files/guide.pdf")
		assert.ErrorIs(t, err, knowledge.ErrDownload)
		assert.NotErrorIs(t, err, knowledge.ErrSourceNotFound)
	})

	t.Run("Should enforce the size limit", func(t *testing.T) {
		_, err := NewHTTPStore(srv.URL, "", time.Second, 5).Download(ctx, "files/big.txt")
		assert.ErrorIs(t, err, knowledge.ErrDownload)
	})
}

func TestNew(t *testing.T) {
	t.Run("Should require a root for the filesystem provider", func(t *testing.T) {
		_, err := New(&Config{Provider: ProviderFilesystem})
		assert.ErrorIs(t, err, knowledge.ErrConfiguration)
	})
	t.Run("Should reject unknown providers", func(t *testing.T) {
		_, err := New(&Config{Provider: "s3"})
		assert.ErrorIs(t, err, knowledge.ErrConfiguration)
	})
	t.Run("Should build an HTTP store", func(t *testing.T) {
		store, err := New(&Config{Provider: ProviderHTTP, BaseURL: "http://example.com"})
		require.NoError(t, err)
		assert.IsType(t, &HTTPStore{}, store)
	})
}
