package session

import (
	"net"
	"net/http"
	"regexp"
	"strings"
)

// DeviceInfo describes the client that presented a login.
type DeviceInfo struct {
	IP         string
	UserAgent  string
	DeviceType string
	OS         string
	Browser    string
}

// String renders the "type - os - browser" fingerprint stored with a session.
func (d DeviceInfo) String() string {
	return d.DeviceType + " - " + d.OS + " - " + d.Browser
}

var (
	mobileRe  = regexp.MustCompile(`(?i)Mobile|Android|iPhone|iPad|iPod|BlackBerry|Windows Phone`)
	osMatches = []struct {
		re   *regexp.Regexp
		name string
	}{
		{regexp.MustCompile(`(?i)Windows`), "Windows"},
		{regexp.MustCompile(`(?i)iPhone|iPad|iPod`), "iOS"},
		{regexp.MustCompile(`(?i)Macintosh|Mac OS X`), "macOS"},
		{regexp.MustCompile(`(?i)Android`), "Android"},
		{regexp.MustCompile(`(?i)Linux`), "Linux"},
	}
	browserMatches = []struct {
		re   *regexp.Regexp
		name string
	}{
		{regexp.MustCompile(`(?i)Edge|Edg/`), "Edge"},
		{regexp.MustCompile(`(?i)Opera|OPR/`), "Opera"},
		{regexp.MustCompile(`(?i)Chrome`), "Chrome"},
		{regexp.MustCompile(`(?i)Firefox`), "Firefox"},
		{regexp.MustCompile(`(?i)Safari`), "Safari"},
	}
)

// ParseUserAgent classifies a user agent string.
func ParseUserAgent(ua string) (deviceType, os, browser string) {
	deviceType, os, browser = "desktop", "unknown", "unknown"
	if mobileRe.MatchString(ua) {
		deviceType = "mobile"
	}
	for _, m := range osMatches {
		if m.re.MatchString(ua) {
			os = m.name
			break
		}
	}
	for _, m := range browserMatches {
		if m.re.MatchString(ua) {
			browser = m.name
			break
		}
	}
	return deviceType, os, browser
}

// ExtractDeviceInfo fingerprints the client behind r. The IP comes from
// forwarding headers unconditionally; gin callers overwrite it with
// Context.ClientIP so untrusted peers cannot choose it.
func ExtractDeviceInfo(r *http.Request) DeviceInfo {
	ua := r.UserAgent()
	if ua == "" {
		ua = "unknown"
	}
	deviceType, os, browser := ParseUserAgent(ua)
	return DeviceInfo{
		IP:         ClientIP(r),
		UserAgent:  ua,
		DeviceType: deviceType,
		OS:         os,
		Browser:    browser,
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
