package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// GenerateETag generates an ETag for a resource based on its ID and a version timestamp.
// Format: "<resource_type>-<id>-<unix_nano>"
func GenerateETag(resourceType, id string, version time.Time) string {
	return fmt.Sprintf(`"%s-%s-%d"`, resourceType, id, version.UnixNano())
}

// SetETagHeader sets the ETag header on the response.
func SetETagHeader(w http.ResponseWriter, etag string) {
	w.Header().Set("ETag", etag)
}

// NotModified reports whether the request's If-None-Match header already
// names etag, in which case the caller should answer 304.
func NotModified(r *http.Request, etag string) bool {
	inm := r.Header.Get("If-None-Match")
	if inm == "" {
		return false
	}
	for _, candidate := range strings.Split(inm, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
