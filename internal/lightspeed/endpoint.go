package lightspeed

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultPlatformHost is the parent domain of every store's API host.
	DefaultPlatformHost = "retail.lightspeed.app"

	// DefaultAuthURL is the shared authorization page for all stores.
	DefaultAuthURL = "https://secure.retail.lightspeed.app/connect"

	tokenPath = "/api/1.0/token"
	apiPath   = "/api/2.0"
)

// tokenURL returns the per-store token endpoint.
func (c *Client) tokenURL(domain string) string {
	return "https://" + domain + "." + c.cfg.PlatformHost + tokenPath
}

// apiURL joins the per-store API base with path and merges query into any query already in path.
func (c *Client) apiURL(domain, path string, query url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u, err := url.Parse("https://" + domain + "." + c.cfg.PlatformHost + apiPath + path)
	if err != nil {
		return "", fmt.Errorf("invalid request path %q: %w", path, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
