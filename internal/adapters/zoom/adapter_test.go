package zoom

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/signup-sync/internal/adapters"
	"github.com/angelmondragon/signup-sync/pkg/config"
	"github.com/angelmondragon/signup-sync/pkg/db/models"
	dbtypes "github.com/angelmondragon/signup-sync/pkg/db/types"
	"github.com/angelmondragon/signup-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/signup-sync/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func testConfig() config.ZoomConfig {
	return config.ZoomConfig{
		AccountID:    "acct",
		ClientID:     "cid",
		ClientSecret: "secret",
		APIBaseURL:   "http://api.zoom.test/v2",
		OAuthURL:     "http://zoom.test/oauth/token",
	}
}

func TestFetchAndMapPaginatesRegistrants(t *testing.T) {
	tokenCalls := 0
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		switch {
		case req.URL.Host == "zoom.test":
			tokenCalls++
			require.Equal(t, http.MethodPost, req.Method)
			require.Equal(t, "account_credentials", req.URL.Query().Get("grant_type"))
			require.Equal(t, "acct", req.URL.Query().Get("account_id"))
			user, pass, ok := req.BasicAuth()
			require.True(t, ok)
			require.Equal(t, "cid", user)
			require.Equal(t, "secret", pass)
			return jsonResponse(http.StatusOK, `{"access_token":"tok","expires_in":3600}`), nil
		case req.URL.Path == "/v2/webinars/111/registrants" && req.URL.Query().Get("next_page_token") == "":
			require.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
			return jsonResponse(http.StatusOK, `{"next_page_token":"p2","registrants":[
				{"id":"r1","email":"one@example.com","first_name":"One","org":"Acme","create_time":"2025-03-02T10:00:00Z"}]}`), nil
		case req.URL.Path == "/v2/webinars/111/registrants":
			require.Equal(t, "p2", req.URL.Query().Get("next_page_token"))
			return jsonResponse(http.StatusOK, `{"next_page_token":"","registrants":[
				{"id":"r2","email":"two@example.com","create_time":"2025-03-03T10:00:00Z"}]}`), nil
		case req.URL.Path == "/v2/meetings/222/registrants":
			return jsonResponse(http.StatusOK, `{"registrants":[
				{"id":"old","email":"old@example.com","create_time":"2025-01-01T10:00:00Z"},
				{"id":"anon","email":"","create_time":"2025-03-04T10:00:00Z"}]}`), nil
		}
		t.Fatalf("unexpected request %s %s", req.Method, req.URL)
		return nil, nil
	})

	adapter := New(testConfig(), nil, adapters.WithHTTPClient(&http.Client{Transport: rt}))
	source := models.FunnelSource{Config: dbtypes.MustJSON(map[string]any{
		"webinar_ids": []string{"111"},
		"meeting_ids": []string{"222"},
	})}
	since := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	batch, err := adapter.FetchAndMap(context.Background(), source, since)
	require.NoError(t, err)
	require.Len(t, batch.Candidates, 2)
	require.Equal(t, "111:r1", batch.Candidates[0].ExternalID)
	require.Equal(t, enums.EventRegistered, batch.Candidates[0].EventType)
	require.Equal(t, "Acme", batch.Candidates[0].Company)
	require.Equal(t, "111", batch.Candidates[0].Data["webinar_id"])
	require.Equal(t, "111:r2", batch.Candidates[1].ExternalID)
	require.Len(t, batch.Rejected, 1)
	require.Equal(t, "222:anon", batch.Rejected[0].ExternalID)

	_, err = adapter.FetchAndMap(context.Background(), source, since)
	require.NoError(t, err)
	require.Equal(t, 1, tokenCalls, "token is cached between fetches")
}

func TestFetchAndMapRequiresCredentials(t *testing.T) {
	adapter := New(config.ZoomConfig{}, nil)
	_, err := adapter.FetchAndMap(context.Background(), models.FunnelSource{}, time.Now())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestFetchAndMapSurfacesUpstreamFailure(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Host == "zoom.test" {
			return jsonResponse(http.StatusOK, `{"access_token":"tok","expires_in":3600}`), nil
		}
		return jsonResponse(http.StatusInternalServerError, `{"message":"boom"}`), nil
	})
	adapter := New(testConfig(), nil, adapters.WithHTTPClient(&http.Client{Transport: rt}))
	source := models.FunnelSource{Config: dbtypes.MustJSON(map[string]any{"webinar_ids": []string{"111"}})}

	_, err := adapter.FetchAndMap(context.Background(), source, time.Now())
	require.Error(t, err)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	require.Contains(t, err.Error(), "zoom registrants request failed")
}

func TestFetchAndMapSkipsMalformedRegistrant(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Host == "zoom.test" {
			return jsonResponse(http.StatusOK, `{"access_token":"tok","expires_in":3600}`), nil
		}
		return jsonResponse(http.StatusOK, `{"registrants":[
			{"id":"r1","email":"one@example.com","create_time":"2025-03-02T10:00:00Z"},
			{"id":"r2","email":"two@example.com","phone":5551234,"create_time":"2025-03-02T11:00:00Z"},
			{"id":"r3","email":"three@example.com","create_time":"2025-03-02T12:00:00Z"}]}`), nil
	})
	adapter := New(testConfig(), nil, adapters.WithHTTPClient(&http.Client{Transport: rt}))
	source := models.FunnelSource{Config: dbtypes.MustJSON(map[string]any{"webinar_ids": []string{"111"}})}

	batch, err := adapter.FetchAndMap(context.Background(), source, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, batch.Candidates, 2)
	require.Equal(t, "111:r1", batch.Candidates[0].ExternalID)
	require.Equal(t, "111:r3", batch.Candidates[1].ExternalID)
	require.Len(t, batch.Rejected, 1)
	require.Equal(t, "111:r2", batch.Rejected[0].ExternalID)
}
