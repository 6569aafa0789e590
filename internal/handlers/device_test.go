package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_deviceFrom(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		device    string
		wantUA    string
		wantName  string
	}{
		{
			name:      "plain",
			userAgent: "okhttp/4.12",
			device:    "phone",
			wantUA:    "okhttp/4.12",
			wantName:  "phone",
		},
		{
			name:      "long user agent cut on rune boundary",
			userAgent: strings.Repeat("a", 255) + "é",
			wantUA:    strings.Repeat("a", 255),
		},
		{
			name:      "invalid utf8 user agent",
			userAgent: "curl/8\xff\xfe",
			wantUA:    "curl/8",
		},
		{
			name:     "nul in device name",
			device:   "pho\x00ne",
			wantName: "phone",
		},
		{
			name:     "long device name",
			device:   strings.Repeat("ж", 100),
			wantName: strings.Repeat("ж", 64),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/login", nil)
			r.Header.Set("User-Agent", tt.userAgent)
			r.RemoteAddr = "192.0.2.7:51234"

			d := deviceFrom(r, tt.device)

			assert.Equal(t, tt.wantUA, d.UserAgent)
			assert.Equal(t, tt.wantName, d.Name)
			assert.Equal(t, "192.0.2.7", d.IPAddress)
			require.True(t, utf8.ValidString(d.UserAgent))
			require.True(t, utf8.ValidString(d.Name))
			require.LessOrEqual(t, len(d.UserAgent), maxUserAgentLength)
			require.LessOrEqual(t, len(d.Name), maxDeviceNameLength)
		})
	}
}
