// Package zoom pulls webinar and meeting registrants through the Zoom REST API
// using server-to-server OAuth.
package zoom

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/signup-sync/internal/adapters"
	"github.com/angelmondragon/signup-sync/internal/funnel"
	"github.com/angelmondragon/signup-sync/pkg/config"
	"github.com/angelmondragon/signup-sync/pkg/db/models"
	"github.com/angelmondragon/signup-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/signup-sync/pkg/errors"
	"github.com/angelmondragon/signup-sync/pkg/logger"
)

const (
	defaultAPIBaseURL = "https://api.zoom.us/v2"
	defaultOAuthURL   = "https://zoom.us/oauth/token"
	pageSize          = "300"
	tokenExpiryBuffer = time.Minute
)

type Adapter struct {
	cfg  config.ZoomConfig
	api  *adapters.HTTPClient
	logg *logger.Logger
	now  func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func New(cfg config.ZoomConfig, logg *logger.Logger, opts ...adapters.Option) *Adapter {
	base := cfg.APIBaseURL
	if strings.TrimSpace(base) == "" {
		base = defaultAPIBaseURL
	}
	if strings.TrimSpace(cfg.OAuthURL) == "" {
		cfg.OAuthURL = defaultOAuthURL
	}
	return &Adapter{
		cfg:  cfg,
		api:  adapters.NewHTTPClient(base, opts...),
		logg: logg,
		now:  time.Now,
	}
}

func (a *Adapter) SourceType() enums.SourceType { return enums.SourceZoom }

type sourceConfig struct {
	WebinarIDs []string `json:"webinar_ids"`
	MeetingIDs []string `json:"meeting_ids"`
}

type registrant struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Phone      string `json:"phone"`
	Org        string `json:"org"`
	JobTitle   string `json:"job_title"`
	City       string `json:"city"`
	Country    string `json:"country"`
	Status     string `json:"status"`
	CreateTime string `json:"create_time"`
}

type registrantsPage struct {
	NextPageToken string            `json:"next_page_token"`
	Registrants   []json.RawMessage `json:"registrants"`
}

func (a *Adapter) FetchAndMap(ctx context.Context, source models.FunnelSource, since time.Time) (*adapters.Batch, error) {
	var sc sourceConfig
	if err := source.Config.Decode(&sc); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode zoom source config")
	}
	if a.cfg.AccountID == "" || a.cfg.ClientID == "" || a.cfg.ClientSecret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "zoom credentials not configured")
	}

	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	batch := &adapters.Batch{}
	targets := []struct {
		kind string
		ids  []string
	}{
		{kind: "webinars", ids: sc.WebinarIDs},
		{kind: "meetings", ids: sc.MeetingIDs},
	}
	for _, target := range targets {
		for _, id := range target.ids {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if err := a.collect(ctx, token, target.kind, id, since, batch); err != nil {
				return nil, err
			}
		}
	}

	if a.logg != nil {
		logCtx := a.logg.WithFields(ctx, map[string]any{
			"source_type": enums.SourceZoom,
			"webinars":    len(sc.WebinarIDs),
			"meetings":    len(sc.MeetingIDs),
			"candidates":  len(batch.Candidates),
		})
		a.logg.Info(logCtx, "fetched zoom registrants")
	}
	return batch, nil
}

func (a *Adapter) collect(ctx context.Context, token, kind, id string, since time.Time, batch *adapters.Batch) error {
	authorize := func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	nextToken := ""
	for {
		q := url.Values{}
		q.Set("page_size", pageSize)
		if nextToken != "" {
			q.Set("next_page_token", nextToken)
		}
		var page registrantsPage
		path := kind + "/" + url.PathEscape(id) + "/registrants"
		if err := a.api.GetJSON(ctx, a.api.URL(path, q), authorize, &page, "zoom registrants"); err != nil {
			return err
		}
		adapters.EachRecord(page.Registrants, batch, id+":", func(r registrant) {
			a.mapRegistrant(kind, id, r, since, batch)
		})
		if page.NextPageToken == "" {
			return nil
		}
		nextToken = page.NextPageToken
	}
}

func (a *Adapter) mapRegistrant(kind, id string, r registrant, since time.Time, batch *adapters.Batch) {
	externalID := id + ":" + r.ID
	created := time.Time{}
	if r.CreateTime != "" {
		parsed, err := adapters.ParseTime(r.CreateTime)
		if err != nil {
			batch.Reject(externalID, err.Error())
			return
		}
		created = parsed
	}
	if !created.IsZero() && created.Before(since) {
		return
	}
	if strings.TrimSpace(r.Email) == "" {
		batch.Reject(externalID, "registrant has no email")
		return
	}

	data := map[string]any{
		strings.TrimSuffix(kind, "s") + "_id": id,
		"registrant_id":                       r.ID,
	}
	for key, v := range map[string]string{"status": r.Status, "job_title": r.JobTitle, "city": r.City, "country": r.Country} {
		if v != "" {
			data[key] = v
		}
	}
	batch.Candidates = append(batch.Candidates, funnel.Candidate{
		ExternalID: externalID,
		EventType:  enums.EventRegistered,
		Email:      r.Email,
		FirstName:  r.FirstName,
		LastName:   r.LastName,
		Phone:      r.Phone,
		Company:    r.Org,
		OccurredAt: created,
		Data:       data,
	})
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// accessToken returns a cached account_credentials token, refreshing it
// shortly before expiry.
func (a *Adapter) accessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "" && a.now().Before(a.tokenExpiry) {
		return a.token, nil
	}

	q := url.Values{}
	q.Set("grant_type", "account_credentials")
	q.Set("account_id", a.cfg.AccountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.OAuthURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build zoom oauth request")
	}
	req.SetBasicAuth(a.cfg.ClientID, a.cfg.ClientSecret)
	req.Header.Set("Accept", "application/json")

	var resp tokenResponse
	if err := a.api.Do(req, &resp, "zoom oauth"); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "zoom oauth returned no access token")
	}
	a.token = resp.AccessToken
	a.tokenExpiry = a.now().Add(time.Duration(resp.ExpiresIn)*time.Second - tokenExpiryBuffer)
	return a.token, nil
}
