package browser

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL turns a bare host such as "example.com/path" into an https URL.
// URLs that already carry a scheme are kept as given.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "about:") || strings.HasPrefix(lower, "data:") {
		return raw, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + strings.TrimLeft(raw, "/")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if (u.Scheme == "http" || u.Scheme == "https") && u.Host == "" {
		return "", fmt.Errorf("%w: url %q has no host", ErrInvalidRequest, raw)
	}
	return u.String(), nil
}
