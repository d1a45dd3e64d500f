// Package utils holds small helpers shared across the gateway.
package utils

import (
	"net/url"
	"strings"
)

const fileScheme = "file://"

// URIToFilePath converts a file URI to a local path. Percent-encoded
// characters are decoded; a plain path passes through unchanged.
func URIToFilePath(uri string) string {
	if !strings.HasPrefix(uri, fileScheme) {
		return uri
	}

	path := strings.TrimPrefix(uri, fileScheme)
	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}

	return path
}

// FilePathToURI converts an absolute local path to a file URI. A string
// that already carries a scheme is returned as-is.
func FilePathToURI(path string) string {
	if strings.Contains(path, "://") {
		return path
	}

	return fileScheme + path
}
