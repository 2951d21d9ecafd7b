package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/signup-sync/api/responses"
	"github.com/angelmondragon/signup-sync/api/validators"
	"github.com/angelmondragon/signup-sync/internal/analytics"
	"github.com/angelmondragon/signup-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/signup-sync/pkg/errors"
	"github.com/angelmondragon/signup-sync/pkg/logger"
)

func FunnelMetrics(svc analytics.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "analytics service unavailable"))
			return
		}
		var filter analytics.Filter
		if raw := strings.TrimSpace(r.URL.Query().Get("source_type")); raw != "" {
			st, err := enums.ParseSourceType(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "unknown source_type").
					WithDetails(map[string]any{"source_type": raw, "allowed": enums.SourceTypes()}))
				return
			}
			filter.SourceType = &st
		}
		start, err := validators.ParseQueryDate(r, "start_date")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		end, err := validators.ParseQueryDate(r, "end_date")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter.StartDate, filter.EndDate = start, end

		out, err := svc.FunnelMetrics(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}
