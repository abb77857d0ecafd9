package audit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractIPAddress(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr with port", "192.0.2.1:1234", nil, "192.0.2.1"},
		{"remote addr ipv6", "[2001:db8::1]:443", nil, "2001:db8::1"},
		{"remote addr without port", "192.0.2.1", nil, "192.0.2.1"},
		{"x-forwarded-for chain", "10.0.0.1:80", map[string]string{"X-Forwarded-For": " 203.0.113.1 , 10.0.0.2"}, "203.0.113.1"},
		{"x-forwarded-for with port", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "203.0.113.1:5555"}, "203.0.113.1"},
		{"empty x-forwarded-for entry", "10.0.0.1:80", map[string]string{"X-Forwarded-For": " , 10.0.0.2"}, "10.0.0.1"},
		{"x-real-ip", "10.0.0.1:80", map[string]string{"X-Real-IP": "198.51.100.4"}, "198.51.100.4"},
		{"x-real-ip with port", "10.0.0.1:80", map[string]string{"X-Real-IP": "198.51.100.4:99"}, "198.51.100.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := extractIPAddress(r); got != tt.want {
				t.Errorf("extractIPAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseDevice(t *testing.T) {
	if got := ParseDevice(""); got != (DeviceInfo{}) {
		t.Errorf("ParseDevice(\"\") = %+v, want zero value", got)
	}

	iphone := "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	if d := ParseDevice(iphone); !d.Mobile {
		t.Errorf("ParseDevice(iPhone).Mobile = false, want true (%+v)", d)
	}

	d := ParseDevice(chromeWindowsUA)
	if d.Browser != "Chrome" {
		t.Errorf("ParseDevice(chrome).Browser = %q, want Chrome", d.Browser)
	}
	if d.String() == "unknown" {
		t.Error("DeviceInfo.String() for a parsed UA should not be unknown")
	}
}

func TestDeviceInfo_String(t *testing.T) {
	tests := []struct {
		in   DeviceInfo
		want string
	}{
		{DeviceInfo{}, "unknown"},
		{DeviceInfo{Browser: "Firefox", BrowserVersion: "121.0", OS: "Linux x86_64"}, "Firefox 121.0 / Linux x86_64 (desktop)"},
		{DeviceInfo{Browser: "Safari", OS: "iOS 17", Mobile: true}, "Safari / iOS 17 (mobile)"},
		{DeviceInfo{Bot: true}, "unknown browser / unknown OS (bot)"},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("DeviceInfo(%+v).String() = %q, want %q", tt.in, got, tt.want)
		}
	}
}
