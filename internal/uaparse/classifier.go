package uaparse

import (
	"strings"

	"github.com/mssola/useragent"
)

// Device classes produced by Classify.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
)

// Classification is the device/OS/browser triple derived from a raw
// User-Agent string.
type Classification struct {
	DeviceType     string `json:"device_type"`
	OS             string `json:"os"`
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version,omitempty"`
}

// Classify maps a raw User-Agent string to its device class, operating
// system and browser. It always returns a value; unmatched patterns
// fall back to "desktop" and "Unknown".
func Classify(ua string) Classification {
	s := strings.ToLower(ua)

	c := Classification{
		DeviceType: deviceType(s),
		OS:         operatingSystem(s),
		Browser:    browser(s),
	}

	if ua != "" {
		parsed := useragent.New(ua)
		if _, version := parsed.Browser(); version != "" {
			c.BrowserVersion = version
		}
	}

	return c
}

// Tablet markers win over mobile markers, mobile markers over the
// desktop default.
func deviceType(s string) string {
	switch {
	case strings.Contains(s, "ipad") || strings.Contains(s, "tablet"):
		return DeviceTablet
	case strings.Contains(s, "mobile") || strings.Contains(s, "iphone") || strings.Contains(s, "android"):
		return DeviceMobile
	default:
		return DeviceDesktop
	}
}

// iOS tokens are checked before the generic mobile tokens; Android UAs
// also contain "linux", so Android comes before Linux.
func operatingSystem(s string) string {
	switch {
	case strings.Contains(s, "iphone") || strings.Contains(s, "ipad") || strings.Contains(s, "ios"):
		return "iOS"
	case strings.Contains(s, "android"):
		return "Android"
	case strings.Contains(s, "windows"):
		return "Windows"
	case strings.Contains(s, "mac os") || strings.Contains(s, "macos"):
		return "macOS"
	case strings.Contains(s, "linux"):
		return "Linux"
	default:
		return "Unknown"
	}
}

// Chrome and Safari each appear as substrings in the other family's UA
// strings, so the exclusion order here is load-bearing.
func browser(s string) string {
	switch {
	case strings.Contains(s, "chrome") && !strings.Contains(s, "edg"):
		return "Chrome"
	case strings.Contains(s, "firefox"):
		return "Firefox"
	case strings.Contains(s, "safari") && !strings.Contains(s, "chrome"):
		return "Safari"
	case strings.Contains(s, "edg"):
		return "Edge"
	case strings.Contains(s, "opera") || strings.Contains(s, "opr"):
		return "Opera"
	default:
		return "Unknown"
	}
}
