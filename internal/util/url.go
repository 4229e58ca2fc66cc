package util

import "strings"

// ComposeURL joins a provider base URL with an API path. A base that already
// ends with the path's version prefix ("/v1" or "/v1beta") has it trimmed
// first, so both "https://host" and "https://host/v1" compose to the same
// final URL.
func ComposeURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	for _, prefix := range []string{"/v1beta", "/v1"} {
		if strings.HasPrefix(path, prefix) && strings.HasSuffix(base, prefix) {
			base = strings.TrimSuffix(base, prefix)
			break
		}
	}
	return base + path
}
