package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/signup-sync/pkg/errors"
	"github.com/angelmondragon/signup-sync/pkg/logger"
	"github.com/angelmondragon/signup-sync/pkg/types"
)

func TestWriteSuccessStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusAccepted, map[string]int{"queued": 3})

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.JSONEq(t, `{"data":{"queued":3}}`, w.Body.String())
}

func TestWriteErrorEnvelope(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		status      int
		code        pkgerrors.Code
		message     string
		wantDetails bool
	}{
		{
			name:        "validation keeps message and details",
			err:         pkgerrors.New(pkgerrors.CodeValidation, "email is required").WithDetails(map[string]string{"email": "is required"}),
			status:      http.StatusBadRequest,
			code:        pkgerrors.CodeValidation,
			message:     "email is required",
			wantDetails: true,
		},
		{
			name:    "wrapped not found",
			err:     fmt.Errorf("load source: %w", pkgerrors.New(pkgerrors.CodeNotFound, "source poshvip not found")),
			status:  http.StatusNotFound,
			code:    pkgerrors.CodeNotFound,
			message: "source poshvip not found",
		},
		{
			name:    "unauthorized",
			err:     pkgerrors.New(pkgerrors.CodeUnauthorized, "bad token"),
			status:  http.StatusUnauthorized,
			code:    pkgerrors.CodeUnauthorized,
			message: "bad token",
		},
		{
			name:    "conflict",
			err:     pkgerrors.New(pkgerrors.CodeConflict, "sync already running"),
			status:  http.StatusConflict,
			code:    pkgerrors.CodeConflict,
			message: "sync already running",
		},
		{
			name:    "dependency hides message",
			err:     pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("dial tcp: refused"), "mysql unreachable"),
			status:  http.StatusServiceUnavailable,
			code:    pkgerrors.CodeDependency,
			message: "dependency unavailable",
		},
		{
			name:    "untyped error is internal",
			err:     errors.New("nil pointer somewhere"),
			status:  http.StatusInternalServerError,
			code:    pkgerrors.CodeInternal,
			message: "internal server error",
		},
		{
			name:    "internal never exposes details",
			err:     pkgerrors.New(pkgerrors.CodeInternal, "secret").WithDetails(map[string]string{"dsn": "postgres://"}),
			status:  http.StatusInternalServerError,
			code:    pkgerrors.CodeInternal,
			message: "internal server error",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(context.Background(), nil, w, tc.err)

			require.Equal(t, tc.status, w.Code)
			body := decodeError(t, w)
			require.Equal(t, string(tc.code), body.Error.Code)
			require.Equal(t, tc.message, body.Error.Message)
			require.Equal(t, tc.wantDetails, body.Error.Details != nil)
		})
	}
}

func TestWriteErrorNilIsInternal(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWriteErrorLogLevelFollowsStatus(t *testing.T) {
	var out bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "api-test", Output: &out})

	WriteError(context.Background(), logg, httptest.NewRecorder(), pkgerrors.New(pkgerrors.CodeValidation, "bad"))
	require.Contains(t, out.String(), `"level":"warn"`)
	require.Contains(t, out.String(), `"http_status":400`)

	out.Reset()
	WriteError(context.Background(), logg, httptest.NewRecorder(), errors.New("boom"))
	require.Contains(t, out.String(), `"level":"error"`)
	require.Contains(t, out.String(), "boom")
}

func TestWriteErrorEchoesRequestID(t *testing.T) {
	var out bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "api-test", Output: &out})
	ctx := logg.WithRequestID(context.Background(), "req-42")

	w := httptest.NewRecorder()
	WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "unknown source"))

	require.Equal(t, "req-42", decodeError(t, w).Error.RequestID)
	require.Contains(t, out.String(), "req-42")
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ErrorEnvelope {
	t.Helper()
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}
