package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

const fetchLogPrefix = "engine:fetch"

// maxModuleSize bounds how much a remote locator may return.
const maxModuleSize = 64 << 20

// Fetch returns the module bytes named by locator. Plain paths and file://
// URLs are read from disk; http:// and https:// URLs are downloaded.
func Fetch(ctx context.Context, locator string) ([]byte, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, fmt.Errorf("%s - empty engine locator", fetchLogPrefix)
	}

	u, err := url.Parse(locator)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// bare path (a one-letter scheme is a Windows drive)
		return readFile(locator)
	}

	switch u.Scheme {
	case "file":
		return readFile(u.Path)
	case "http", "https":
		return fetchHTTP(ctx, u.String())
	default:
		return nil, fmt.Errorf("%s - unsupported locator scheme %q", fetchLogPrefix, u.Scheme)
	}
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read %s: %w", fetchLogPrefix, path, err)
	}
	return data, nil
}

func fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to build request: %w", fetchLogPrefix, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to fetch %s: %w", fetchLogPrefix, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s - fetch %s: unexpected status %s", fetchLogPrefix, rawURL, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxModuleSize+1))
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read body of %s: %w", fetchLogPrefix, rawURL, err)
	}
	if len(data) > maxModuleSize {
		return nil, fmt.Errorf("%s - module at %s exceeds %d bytes", fetchLogPrefix, rawURL, maxModuleSize)
	}
	return data, nil
}
