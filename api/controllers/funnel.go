package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/signup-sync/api/responses"
	"github.com/angelmondragon/signup-sync/api/validators"
	"github.com/angelmondragon/signup-sync/internal/funnel"
	"github.com/angelmondragon/signup-sync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/signup-sync/pkg/errors"
	"github.com/angelmondragon/signup-sync/pkg/logger"
)

type recordEventRequest struct {
	SourceType  string         `json:"source_type" validate:"required,source_type"`
	EventType   string         `json:"event_type" validate:"required,event_type"`
	Email       string         `json:"email" validate:"required,email"`
	ExternalID  string         `json:"external_id" validate:"max=255"`
	FirstName   string         `json:"first_name" validate:"max=255"`
	LastName    string         `json:"last_name" validate:"max=255"`
	Phone       string         `json:"phone" validate:"max=64"`
	Company     string         `json:"company" validate:"max=255"`
	UTMSource   string         `json:"utm_source" validate:"max=255"`
	UTMMedium   string         `json:"utm_medium" validate:"max=255"`
	UTMCampaign string         `json:"utm_campaign" validate:"max=255"`
	UTMContent  string         `json:"utm_content" validate:"max=255"`
	UTMTerm     string         `json:"utm_term" validate:"max=255"`
	Referrer    string         `json:"referrer"`
	OccurredAt  *time.Time     `json:"occurred_at"`
	EventData   map[string]any `json:"event_data"`
}

type eventResponse struct {
	*models.FunnelEvent
	Created bool `json:"created"`
}

// RecordEvent stores a manually reported funnel event. Reposting the same
// event returns the stored row with created=false.
func RecordEvent(svc funnel.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "funnel service unavailable"))
			return
		}
		var req recordEventRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.RecordEvent(r.Context(), funnel.RecordEventInput{
			SourceType:  req.SourceType,
			EventType:   req.EventType,
			Email:       req.Email,
			ExternalID:  req.ExternalID,
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			Phone:       req.Phone,
			Company:     req.Company,
			UTMSource:   req.UTMSource,
			UTMMedium:   req.UTMMedium,
			UTMCampaign: req.UTMCampaign,
			UTMContent:  req.UTMContent,
			UTMTerm:     req.UTMTerm,
			Referrer:    firstNonEmpty(req.Referrer, r.Referer()),
			IPAddress:   validators.ClientIP(r),
			UserAgent:   validators.Clip(r.UserAgent(), 512),
			OccurredAt:  req.OccurredAt,
			EventData:   req.EventData,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, eventResponse{FunnelEvent: result.Event, Created: result.Created})
	}
}

type recordConversionRequest struct {
	Email             string           `json:"email" validate:"required,email"`
	SourceType        string           `json:"source_type" validate:"required,source_type"`
	UserID            string           `json:"user_id" validate:"max=255"`
	ConvertedAt       *time.Time       `json:"converted_at"`
	EstimatedValueUSD *decimal.Decimal `json:"estimated_value_usd"`
}

type conversionResponse struct {
	*models.FunnelConversion
	Created bool `json:"created"`
}

func RecordConversion(svc funnel.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "funnel service unavailable"))
			return
		}
		var req recordConversionRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.RecordConversion(r.Context(), funnel.RecordConversionInput{
			Email:             req.Email,
			SourceType:        req.SourceType,
			UserID:            req.UserID,
			ConvertedAt:       req.ConvertedAt,
			EstimatedValueUSD: req.EstimatedValueUSD,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, conversionResponse{FunnelConversion: result.Conversion, Created: result.Created})
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
