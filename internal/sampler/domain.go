package sampler

import (
	"regexp"
	"strings"
)

// browserApps are process names treated as browsers for domain extraction.
var browserApps = map[string]bool{
	"chrome":        true,
	"chromium":      true,
	"google-chrome": true,
	"firefox":       true,
	"firefox-esr":   true,
	"msedge":        true,
	"safari":        true,
	"opera":         true,
	"brave":         true,
	"brave-browser": true,
	"vivaldi":       true,
	"librewolf":     true,
	"epiphany":      true,
	"chrome.exe":    true,
	"firefox.exe":   true,
	"msedge.exe":    true,
	"opera.exe":     true,
	"brave.exe":     true,
}

// Title patterns tried in order: full URL, bare domain, domain after a dash.
var domainPatterns = []*regexp.Regexp{
	regexp.MustCompile(`https?://([^/\s]+)`),
	regexp.MustCompile(`([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`),
	regexp.MustCompile(`- ([^-\s]+\.[a-zA-Z]{2,})`),
}

// ExtractDomain pulls a website domain out of a browser window title.
// Returns empty for non-browser applications or titles without a domain.
func ExtractDomain(title, app string) string {
	if title == "" || !browserApps[strings.ToLower(app)] {
		return ""
	}

	for _, pattern := range domainPatterns {
		match := pattern.FindStringSubmatch(title)
		if match == nil {
			continue
		}
		domain := strings.ToLower(strings.TrimSpace(match[1]))
		domain = strings.TrimPrefix(domain, "www.")
		// Drop a port if the title carried a full URL.
		if i := strings.IndexByte(domain, ':'); i >= 0 {
			domain = domain[:i]
		}
		return domain
	}
	return ""
}
