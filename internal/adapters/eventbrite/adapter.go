// Package eventbrite pulls event attendees from the Eventbrite v3 API.
package eventbrite

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
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
	defaultBaseURL   = "https://www.eventbriteapi.com/v3"
	changedSinceForm = "2006-01-02T15:04:05Z"
)

type Adapter struct {
	token string
	api   *adapters.HTTPClient
	logg  *logger.Logger
}

func New(cfg config.EventbriteConfig, logg *logger.Logger, opts ...adapters.Option) *Adapter {
	base := cfg.BaseURL
	if strings.TrimSpace(base) == "" {
		base = defaultBaseURL
	}
	return &Adapter{
		token: strings.TrimSpace(cfg.Token),
		api:   adapters.NewHTTPClient(base, opts...),
		logg:  logg,
	}
}

func (a *Adapter) SourceType() enums.SourceType { return enums.SourceEventbrite }

type sourceConfig struct {
	EventIDs       []string `json:"event_ids"`
	OrganizationID string   `json:"organization_id"`
}

type pagination struct {
	HasMoreItems bool   `json:"has_more_items"`
	Continuation string `json:"continuation"`
}

type attendee struct {
	ID              string `json:"id"`
	Created         string `json:"created"`
	Changed         string `json:"changed"`
	CheckedIn       bool   `json:"checked_in"`
	Cancelled       bool   `json:"cancelled"`
	Status          string `json:"status"`
	OrderID         string `json:"order_id"`
	TicketClassName string `json:"ticket_class_name"`
	Profile         struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		CellPhone string `json:"cell_phone"`
		Company   string `json:"company"`
	} `json:"profile"`
}

type attendeesPage struct {
	Pagination pagination        `json:"pagination"`
	Attendees  []json.RawMessage `json:"attendees"`
}

type eventsPage struct {
	Pagination pagination `json:"pagination"`
	Events     []struct {
		ID string `json:"id"`
	} `json:"events"`
}

func (a *Adapter) FetchAndMap(ctx context.Context, source models.FunnelSource, since time.Time) (*adapters.Batch, error) {
	var sc sourceConfig
	if err := source.Config.Decode(&sc); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode eventbrite source config")
	}
	if a.token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "eventbrite token not configured")
	}

	eventIDs, err := a.eventIDs(ctx, sc)
	if err != nil {
		return nil, err
	}

	batch := &adapters.Batch{}
	for _, id := range eventIDs {
		if err := a.collect(ctx, id, since, batch); err != nil {
			return nil, err
		}
	}

	if a.logg != nil {
		logCtx := a.logg.WithFields(ctx, map[string]any{
			"source_type": enums.SourceEventbrite,
			"events":      len(eventIDs),
			"candidates":  len(batch.Candidates),
		})
		a.logg.Info(logCtx, "fetched eventbrite attendees")
	}
	return batch, nil
}

func (a *Adapter) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.token)
}

// eventIDs merges configured ids with every event owned by the organization.
func (a *Adapter) eventIDs(ctx context.Context, sc sourceConfig) ([]string, error) {
	seen := map[string]struct{}{}
	var ids []string
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, id := range sc.EventIDs {
		add(id)
	}

	org := strings.TrimSpace(sc.OrganizationID)
	if org == "" {
		return ids, nil
	}
	continuation := ""
	for {
		q := url.Values{}
		if continuation != "" {
			q.Set("continuation", continuation)
		}
		var page eventsPage
		path := "organizations/" + url.PathEscape(org) + "/events/"
		if err := a.api.GetJSON(ctx, a.api.URL(path, q), a.authorize, &page, "eventbrite organization events"); err != nil {
			return nil, err
		}
		for _, ev := range page.Events {
			add(ev.ID)
		}
		if !page.Pagination.HasMoreItems || page.Pagination.Continuation == "" {
			return ids, nil
		}
		continuation = page.Pagination.Continuation
	}
}

func (a *Adapter) collect(ctx context.Context, eventID string, since time.Time, batch *adapters.Batch) error {
	continuation := ""
	for {
		q := url.Values{}
		q.Set("changed_since", since.UTC().Format(changedSinceForm))
		if continuation != "" {
			q.Set("continuation", continuation)
		}
		var page attendeesPage
		path := "events/" + url.PathEscape(eventID) + "/attendees/"
		if err := a.api.GetJSON(ctx, a.api.URL(path, q), a.authorize, &page, "eventbrite attendees"); err != nil {
			return err
		}
		adapters.EachRecord(page.Attendees, batch, eventID+":", func(at attendee) {
			mapAttendee(eventID, at, batch)
		})
		if !page.Pagination.HasMoreItems || page.Pagination.Continuation == "" {
			return nil
		}
		continuation = page.Pagination.Continuation
	}
}

func mapAttendee(eventID string, at attendee, batch *adapters.Batch) {
	externalID := eventID + ":" + at.ID
	if at.Cancelled {
		return
	}
	if strings.TrimSpace(at.Profile.Email) == "" {
		batch.Reject(externalID, "attendee has no email")
		return
	}
	created, err := parseOptional(at.Created)
	if err != nil {
		batch.Reject(externalID, err.Error())
		return
	}

	data := map[string]any{"event_id": eventID, "attendee_id": at.ID}
	for key, v := range map[string]string{"order_id": at.OrderID, "ticket_class": at.TicketClassName, "status": at.Status} {
		if v != "" {
			data[key] = v
		}
	}
	base := funnel.Candidate{
		ExternalID: externalID,
		EventType:  enums.EventRegistered,
		Email:      at.Profile.Email,
		FirstName:  at.Profile.FirstName,
		LastName:   at.Profile.LastName,
		Phone:      at.Profile.CellPhone,
		Company:    at.Profile.Company,
		OccurredAt: created,
		Data:       data,
	}
	batch.Candidates = append(batch.Candidates, base)

	if at.CheckedIn {
		attended := base
		attended.EventType = enums.EventAttended
		if changed, err := parseOptional(at.Changed); err == nil && !changed.IsZero() {
			attended.OccurredAt = changed
		}
		batch.Candidates = append(batch.Candidates, attended)
	}
}

func parseOptional(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	return adapters.ParseTime(raw)
}
