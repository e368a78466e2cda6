package blob

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/compozy/kbchat/engine/knowledge"
)

// HTTPStore downloads blobs over HTTP. Relative paths resolve against the
// base URL; absolute http(s) URLs are fetched as is. The bearer token is only
// sent to URLs under the base URL.
type HTTPStore struct {
	client   *resty.Client
	base     *url.URL
	token    string
	maxBytes int64
}

func NewHTTPStore(baseURL, token string, timeout time.Duration, maxBytes int64) *HTTPStore {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL = strings.TrimRight(baseURL, "/")
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		base = nil
	}
	return &HTTPStore{client: client, base: base, token: token, maxBytes: limitOrDefault(maxBytes)}
}

func isAbsoluteURL(p string) bool {
	return strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://")
}

// underBase reports whether an absolute target shares the base URL's scheme,
// host and path prefix.
func (s *HTTPStore) underBase(target string) bool {
	if s.base == nil {
		return false
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	if !strings.EqualFold(u.Scheme, s.base.Scheme) || !strings.EqualFold(u.Host, s.base.Host) {
		return false
	}
	prefix := strings.TrimRight(s.base.Path, "/")
	return prefix == "" || u.Path == prefix || strings.HasPrefix(u.Path, prefix+"/")
}

func (s *HTTPStore) Download(ctx context.Context, p string) (Object, error) {
	target := strings.TrimSpace(p)
	if target == "" {
		return Object{}, knowledge.Wrap(knowledge.ErrDownload, nil, "empty path")
	}
	trusted := true
	if isAbsoluteURL(target) {
		trusted = s.underBase(target)
	} else {
		target = "/" + strings.TrimLeft(target, "/")
	}
	req := s.client.R().SetContext(ctx).SetDoNotParseResponse(true)
	if trusted && s.token != "" {
		req.SetAuthToken(s.token)
	}
	resp, err := req.Get(target)
	if err != nil {
		return Object{}, knowledge.Wrap(knowledge.ErrDownload, err, "fetch %s", p)
	}
	body := resp.RawBody()
	defer body.Close()
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return Object{}, notFound(p)
	case resp.IsError():
		return Object{}, knowledge.Wrap(knowledge.ErrDownload, nil, "fetch %s: status %d", p, resp.StatusCode())
	}
	data, err := io.ReadAll(io.LimitReader(body, s.maxBytes+1))
	if err != nil {
		return Object{}, knowledge.Wrap(knowledge.ErrDownload, err, "read %s", p)
	}
	if int64(len(data)) > s.maxBytes {
		return Object{}, tooLarge(p, s.maxBytes)
	}
	return Object{
		Name:        baseName(p),
		Data:        data,
		ContentType: detectContentType(data, resp.Header().Get("Content-Type")),
	}, nil
}
