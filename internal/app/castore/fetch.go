package castore

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// HTTPFetcher resolves Download sources with a plain HTTP GET. Registry
// sources are fetched with a GET of
// `https://{domain}/api/v1/packages/{pkg}/{version}` against the registry's
// own HTTP API, with "latest" as the version when none is pinned (no
// registry client library exists anywhere in the example pack).
type HTTPFetcher struct {
	Client *http.Client
}

var _ Fetcher = HTTPFetcher{}

func (f HTTPFetcher) FetchURL(ctx context.Context, url string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (f HTTPFetcher) FetchRegistry(ctx context.Context, domain, pkg, version string) ([]byte, error) {
	if version == "" {
		version = "latest"
	}
	url := fmt.Sprintf("https://%s/api/v1/packages/%s/%s", domain, pkg, version)
	return f.FetchURL(ctx, url)
}
