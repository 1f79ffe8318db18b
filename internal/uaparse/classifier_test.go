package uaparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	uaChromeWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	uaSafariIPhone  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	uaSafariIPad    = "Mozilla/5.0 (iPad; CPU OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1"
	uaEdgeWindows   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0"
	uaFirefoxLinux  = "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
	uaChromeAndroid = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	uaSafariMac     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15"
	uaOperaWindows  = "Opera/9.80 (Windows NT 6.1) Presto/2.12.388 Version/12.16"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		ua      string
		device  string
		os      string
		browser string
	}{
		{"chrome on windows", uaChromeWindows, DeviceDesktop, "Windows", "Chrome"},
		{"safari on iphone", uaSafariIPhone, DeviceMobile, "iOS", "Safari"},
		{"safari on ipad", uaSafariIPad, DeviceTablet, "iOS", "Safari"},
		{"edge on windows", uaEdgeWindows, DeviceDesktop, "Windows", "Edge"},
		{"firefox on linux", uaFirefoxLinux, DeviceDesktop, "Linux", "Firefox"},
		{"chrome on android", uaChromeAndroid, DeviceMobile, "Android", "Chrome"},
		{"safari on mac", uaSafariMac, DeviceDesktop, "macOS", "Safari"},
		{"legacy opera", uaOperaWindows, DeviceDesktop, "Windows", "Opera"},
		{"empty string", "", DeviceDesktop, "Unknown", "Unknown"},
		{"garbage", "definitely-not-a-browser", DeviceDesktop, "Unknown", "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.ua)
			assert.Equal(t, tt.device, got.DeviceType)
			assert.Equal(t, tt.os, got.OS)
			assert.Equal(t, tt.browser, got.Browser)
		})
	}
}

func TestClassifyPrecedence(t *testing.T) {
	t.Run("tablet wins over mobile", func(t *testing.T) {
		// iPad UAs also carry the Mobile token.
		got := Classify(uaSafariIPad)
		assert.Equal(t, DeviceTablet, got.DeviceType)
	})

	t.Run("edge token excludes chrome", func(t *testing.T) {
		// Edge UAs carry the Chrome token too.
		got := Classify(uaEdgeWindows)
		assert.Equal(t, "Edge", got.Browser)
	})

	t.Run("chrome token excludes safari", func(t *testing.T) {
		// Chrome UAs carry the Safari token too.
		got := Classify(uaChromeWindows)
		assert.Equal(t, "Chrome", got.Browser)
	})

	t.Run("android wins over linux", func(t *testing.T) {
		got := Classify(uaChromeAndroid)
		assert.Equal(t, "Android", got.OS)
	})
}

func TestClassifyIsPure(t *testing.T) {
	first := Classify(uaChromeWindows)
	second := Classify(uaChromeWindows)
	assert.Equal(t, first, second)
}
