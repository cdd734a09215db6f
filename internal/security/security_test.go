package security

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestHeadersMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(HeadersMiddleware())
	router.GET("/test", func(c *gin.Context) {
		c.String(200, "ok")
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}

	for header, expected := range headers {
		if got := w.Header().Get(header); got != expected {
			t.Errorf("%s = %q, want %q", header, got, expected)
		}
	}

	if csp := w.Header().Get("Content-Security-Policy"); csp == "" {
		t.Error("Content-Security-Policy header not set")
	}
}

func TestValidateWebhookURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid public literal", "https://93.184.216.34/risk", false},
		{"missing scheme", "hooks.example.com/risk", true},
		{"bad scheme", "ftp://hooks.example.com/risk", true},
		{"no host", "https://", true},
		{"localhost", "https://localhost/hooks", true},
		{"loopback literal", "http://127.0.0.1/hooks", true},
		{"private literal", "http://10.0.0.5/hooks", true},
		{"link-local literal", "http://169.254.169.254/latest/meta-data", true},
		{"unspecified literal", "http://0.0.0.0/hooks", true},
		{"metadata hostname", "http://metadata.google.internal/computeMetadata", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateWebhookURL(tc.url)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateWebhookURL(%q) error = %v, wantErr %v", tc.url, err, tc.wantErr)
			}
		})
	}
}
