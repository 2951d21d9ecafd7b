package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestServiceAuth(t *testing.T) {
	cases := []struct {
		name       string
		configured string
		header     string
		want       int
	}{
		{name: "missing header", configured: "secret", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", configured: "secret", header: "Basic secret", want: http.StatusUnauthorized},
		{name: "empty bearer", configured: "secret", header: "Bearer   ", want: http.StatusUnauthorized},
		{name: "wrong token", configured: "secret", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid token", configured: "secret", header: "Bearer secret", want: http.StatusOK},
		{name: "scheme case insensitive", configured: "secret", header: "bearer secret", want: http.StatusOK},
		{name: "unconfigured token", configured: "", header: "Bearer ", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			handler := ServiceAuth(tc.configured, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/sync/zoom", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)
			if resp.Code != tc.want {
				t.Fatalf("expected %d got %d", tc.want, resp.Code)
			}
			if called != (tc.want == http.StatusOK) {
				t.Fatalf("handler called=%v for status %d", called, resp.Code)
			}
		})
	}
}
