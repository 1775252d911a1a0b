// Package device derives a human-readable device name from the User-Agent so
// audit events can say where a login came from.
package device

import (
	"fmt"
	"net/http"
	"strings"

	"rpgateway/pkg/requestcontext"

	"github.com/mssola/useragent"
)

const unknownDevice = "Unknown Device"

// ParseUserAgent returns "<Browser> on <OS>", or "Unknown Device" for an empty header.
func ParseUserAgent(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return unknownDevice
	}

	ua := useragent.New(raw)
	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	}

	os := ua.OS()
	if ua.Mobile() && ua.Platform() != "" {
		os = ua.Platform()
	}
	if os == "" {
		os = "Unknown OS"
	}
	return strings.Join(strings.Fields(fmt.Sprintf("%s on %s", browser, os)), " ")
}

// Middleware stores the parsed device name in the request context.
// It reads the User-Agent that metadata.ClientMetadata placed there, falling
// back to the raw header.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := requestcontext.UserAgent(r.Context())
		if ua == "" {
			ua = r.Header.Get("User-Agent")
		}
		ctx := requestcontext.WithDeviceName(r.Context(), ParseUserAgent(ua))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
