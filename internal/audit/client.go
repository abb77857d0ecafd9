package audit

import (
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"
)

// Edge proxy headers carrying coarse client location.
const (
	HeaderGeoCity    = "CF-IPCity"
	HeaderGeoCountry = "CF-IPCountry"
)

// ClientInfo describes the client that triggered an event.
type ClientInfo struct {
	IPAddress string
	UserAgent string
	Device    DeviceInfo
	Geo       Geo
}

// ClientFromRequest extracts IP address, user agent, device fingerprint and
// geolocation headers from an HTTP request.
func ClientFromRequest(r *http.Request) ClientInfo {
	ua := r.UserAgent()
	return ClientInfo{
		IPAddress: extractIPAddress(r),
		UserAgent: ua,
		Device:    ParseDevice(ua),
		Geo: Geo{
			City:    strings.TrimSpace(r.Header.Get(HeaderGeoCity)),
			Country: strings.TrimSpace(r.Header.Get(HeaderGeoCountry)),
		},
	}
}

// ParseDevice derives browser, OS and platform from a user agent string.
func ParseDevice(userAgent string) DeviceInfo {
	if strings.TrimSpace(userAgent) == "" {
		return DeviceInfo{}
	}
	ua := useragent.New(userAgent)
	name, version := ua.Browser()
	return DeviceInfo{
		Browser:        name,
		BrowserVersion: version,
		OS:             ua.OS(),
		Platform:       ua.Platform(),
		Mobile:         ua.Mobile(),
		Bot:            ua.Bot(),
	}
}

// String renders the fingerprint for reports, e.g. "Chrome 120.0 / Windows 10 (desktop)".
func (d DeviceInfo) String() string {
	if d == (DeviceInfo{}) {
		return "unknown"
	}
	browser := strings.TrimSpace(d.Browser + " " + d.BrowserVersion)
	if browser == "" {
		browser = "unknown browser"
	}
	os := d.OS
	if os == "" {
		os = "unknown OS"
	}
	kind := "desktop"
	switch {
	case d.Bot:
		kind = "bot"
	case d.Mobile:
		kind = "mobile"
	}
	return browser + " / " + os + " (" + kind + ")"
}

// extractIPAddress extracts the client IP address from an HTTP request.
// It checks X-Forwarded-For, X-Real-IP, and RemoteAddr in that order.
// The port is stripped from the IP address to ensure compatibility with database storage.
func extractIPAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Use the first IP in the chain, trimming whitespace per RFC 7239
		firstIP := xff
		if idx := strings.Index(xff, ","); idx != -1 {
			firstIP = xff[:idx]
		}
		if firstIP = strings.TrimSpace(firstIP); firstIP != "" {
			return stripPort(firstIP)
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return stripPort(xri)
	}

	return stripPort(r.RemoteAddr)
}

func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		// No port present
		return addr
	}
	return host
}
