package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPromoteBasicAuthToken(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		setup  func(r *http.Request)
		expect string
	}{
		{
			name:   "basic credential under prefix",
			path:   "/hl7/inbound",
			setup:  func(r *http.Request) { r.SetBasicAuth("interface-engine", "provider-token") },
			expect: "Bearer provider-token",
		},
		{
			name:   "outside prefix",
			path:   "/auth/whoami",
			setup:  func(r *http.Request) { r.SetBasicAuth("interface-engine", "provider-token") },
			expect: "Basic aW50ZXJmYWNlLWVuZ2luZTpwcm92aWRlci10b2tlbg==",
		},
		{
			name:   "bearer untouched",
			path:   "/hl7/inbound",
			setup:  func(r *http.Request) { r.Header.Set("Authorization", "Bearer other") },
			expect: "Bearer other",
		},
		{
			name:   "empty password",
			path:   "/hl7/inbound",
			setup:  func(r *http.Request) { r.SetBasicAuth("interface-engine", " ") },
			expect: "Basic aW50ZXJmYWNlLWVuZ2luZTog",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			handler := PromoteBasicAuthToken("/hl7/")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = r.Header.Get("Authorization")
			}))

			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			tt.setup(req)
			handler.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.expect, got)
		})
	}
}

func TestPromoteBasicAuthToken_AuthenticatesThroughMiddleware(t *testing.T) {
	svc := newFakeIAM()
	var username string
	handler := PromoteBasicAuthToken("/hl7/")(NewAuthnMiddleware(svc, nil)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		if sc, ok := svc.Current(r.Context()); ok {
			username = sc.Principal.Username
		}
	})))

	req := httptest.NewRequest(http.MethodPost, "/hl7/inbound", nil)
	req.SetBasicAuth("interface-engine", "provider-token")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "drsmith", username)
}
