package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPrefixes are route prefixes served without a bearer token: the
// health check and the result verification lookups printed on reports.
var publicPrefixes = []string{"/health", "/verify/", "/certificates/"}

// AuthSkipper returns true for requests whose route should skip
// authentication. Pass it as the Skipper on JWTConfig.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

// IsPublicPath reports whether path is a public route. A prefix ending in
// "/" also matches the bare path without it.
func IsPublicPath(path string) bool {
	for _, p := range publicPrefixes {
		if path == strings.TrimSuffix(p, "/") || strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
