// Package poshvip pulls ticket orders for a Posh.VIP group.
package poshvip

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/signup-sync/internal/adapters"
	"github.com/angelmondragon/signup-sync/internal/funnel"
	"github.com/angelmondragon/signup-sync/pkg/config"
	"github.com/angelmondragon/signup-sync/pkg/db/models"
	"github.com/angelmondragon/signup-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/signup-sync/pkg/errors"
	"github.com/angelmondragon/signup-sync/pkg/logger"
)

const (
	defaultBaseURL = "https://api.posh.vip"
	maxPages       = 500
)

type Adapter struct {
	apiKey string
	api    *adapters.HTTPClient
	logg   *logger.Logger
}

func New(cfg config.PoshVIPConfig, logg *logger.Logger, opts ...adapters.Option) *Adapter {
	base := cfg.BaseURL
	if strings.TrimSpace(base) == "" {
		base = defaultBaseURL
	}
	return &Adapter{
		apiKey: strings.TrimSpace(cfg.APIKey),
		api:    adapters.NewHTTPClient(base, opts...),
		logg:   logg,
	}
}

func (a *Adapter) SourceType() enums.SourceType { return enums.SourcePoshVIP }

type sourceConfig struct {
	GroupID string `json:"group_id"`
}

type order struct {
	ID           string              `json:"id"`
	Email        string              `json:"email"`
	FirstName    string              `json:"first_name"`
	LastName     string              `json:"last_name"`
	Phone        string              `json:"phone"`
	CreatedAt    string              `json:"created_at"`
	EventID      string              `json:"event_id"`
	EventName    string              `json:"event_name"`
	Total        decimal.NullDecimal `json:"total"`
	Currency     string              `json:"currency"`
	TicketCount  int                 `json:"ticket_count"`
	TrackingLink *struct {
		Name     string `json:"name"`
		Source   string `json:"source"`
		Campaign string `json:"campaign"`
	} `json:"tracking_link"`
}

type ordersPage struct {
	Orders     []json.RawMessage `json:"orders"`
	Page       int               `json:"page"`
	TotalPages int               `json:"total_pages"`
}

func (a *Adapter) FetchAndMap(ctx context.Context, source models.FunnelSource, since time.Time) (*adapters.Batch, error) {
	var sc sourceConfig
	if err := source.Config.Decode(&sc); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode poshvip source config")
	}
	if a.apiKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "poshvip api key not configured")
	}
	group := strings.TrimSpace(sc.GroupID)
	if group == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "poshvip source config requires group_id")
	}

	authorize := func(req *http.Request) {
		req.Header.Set("x-api-key", a.apiKey)
	}
	batch := &adapters.Batch{}
	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		q.Set("updated_after", since.UTC().Format(time.RFC3339))
		q.Set("page", strconv.Itoa(page))
		var resp ordersPage
		path := "v1/groups/" + url.PathEscape(group) + "/orders"
		if err := a.api.GetJSON(ctx, a.api.URL(path, q), authorize, &resp, "poshvip orders"); err != nil {
			return nil, err
		}
		adapters.EachRecord(resp.Orders, batch, "", func(o order) {
			mapOrder(o, batch)
		})
		if len(resp.Orders) == 0 || page >= resp.TotalPages {
			break
		}
	}

	if a.logg != nil {
		logCtx := a.logg.WithFields(ctx, map[string]any{
			"source_type": enums.SourcePoshVIP,
			"group_id":    group,
			"candidates":  len(batch.Candidates),
		})
		a.logg.Info(logCtx, "fetched poshvip orders")
	}
	return batch, nil
}

func mapOrder(o order, batch *adapters.Batch) {
	if strings.TrimSpace(o.Email) == "" {
		batch.Reject(o.ID, "order has no email")
		return
	}
	var occurred time.Time
	if strings.TrimSpace(o.CreatedAt) != "" {
		parsed, err := adapters.ParseTime(o.CreatedAt)
		if err != nil {
			batch.Reject(o.ID, err.Error())
			return
		}
		occurred = parsed
	}

	data := map[string]any{"order_id": o.ID}
	if o.EventID != "" {
		data["event_id"] = o.EventID
	}
	if o.EventName != "" {
		data["event_name"] = o.EventName
	}
	if o.Total.Valid {
		data["order_total"] = o.Total.Decimal.StringFixed(2)
	}
	if o.Currency != "" {
		data["currency"] = o.Currency
	}
	if o.TicketCount > 0 {
		data["ticket_count"] = o.TicketCount
	}

	c := funnel.Candidate{
		ExternalID: o.ID,
		EventType:  enums.EventTicketPurchased,
		Email:      o.Email,
		FirstName:  o.FirstName,
		LastName:   o.LastName,
		Phone:      o.Phone,
		OccurredAt: occurred,
		Data:       data,
	}
	if link := o.TrackingLink; link != nil {
		c.UTMSource = link.Source
		c.UTMCampaign = link.Campaign
		if c.UTMCampaign == "" {
			c.UTMCampaign = link.Name
		}
		if link.Name != "" {
			data["tracking_link"] = link.Name
		}
	}
	batch.Candidates = append(batch.Candidates, c)
}
