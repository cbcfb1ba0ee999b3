package caldav

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxRedirects bounds the manual redirect loop. CalDAV servers redirect
// PROPFIND and REPORT across hosts (well-known URLs, sharded iCloud
// partitions), which net/http will not follow for non-GET methods.
const maxRedirects = 5

// response is the outcome of one CalDAV request after redirects.
type response struct {
	Status int
	Body   []byte
	Header http.Header
	URL    string
}

// client issues authenticated WebDAV requests.
type client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

func newClient(baseURL, username, password string, timeout time.Duration) *client {
	return &client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// do sends one request, following 301/302/307/308 manually with the
// method and body preserved, up to maxRedirects hops.
func (c *client) do(ctx context.Context, method, rawURL string, headers map[string]string, body string) (*response, error) {
	currentURL := rawURL

	for hop := 0; hop <= maxRedirects; hop++ {
		req, err := http.NewRequestWithContext(ctx, method, currentURL, strings.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("building %s request for %s: %w", method, currentURL, err)
		}
		req.SetBasicAuth(c.username, c.password)
		req.Header.Set("User-Agent", "todosync")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, currentURL, err)
		}

		switch resp.StatusCode {
		case http.StatusMovedPermanently, http.StatusFound,
			http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
			loc := resp.Header.Get("Location")
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if loc == "" {
				return nil, fmt.Errorf("%s %s: redirect without location", method, currentURL)
			}
			currentURL = resolveURL(currentURL, loc)
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s response from %s: %w", method, currentURL, err)
		}
		return &response{
			Status: resp.StatusCode,
			Body:   data,
			Header: resp.Header,
			URL:    currentURL,
		}, nil
	}

	return nil, fmt.Errorf("%s %s: too many redirects", method, rawURL)
}

// resolveURL resolves path against base, keeping the base scheme and
// host for server-relative and relative paths.
func resolveURL(base, path string) string {
	if strings.Contains(path, "://") {
		return path
	}

	u, err := url.Parse(base)
	if err != nil {
		return path
	}

	switch {
	case path == "":
		// keep the base path
	case path[0] == '/':
		u.Path = path
	default:
		dir := u.Path
		if !strings.HasSuffix(dir, "/") {
			dir += "/"
		}
		u.Path = dir + strings.TrimLeft(path, "/")
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
