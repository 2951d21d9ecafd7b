package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/signup-sync/api/responses"
	"github.com/angelmondragon/signup-sync/api/validators"
	"github.com/angelmondragon/signup-sync/internal/sources"
	"github.com/angelmondragon/signup-sync/internal/syncer"
	"github.com/angelmondragon/signup-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/signup-sync/pkg/errors"
	"github.com/angelmondragon/signup-sync/pkg/logger"
)

// SourceTypeParam is the chi URL parameter naming a source.
const SourceTypeParam = "source_type"

// SyncSource triggers a manual sync of one source. A failed sync is still a
// 200 carrying status "failed"; an overlapping sync is a 409.
func SyncSource(svc syncer.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync service unavailable"))
			return
		}
		raw := chi.URLParam(r, SourceTypeParam)
		sourceType, err := enums.ParseSourceType(raw)
		if err != nil || !sourceType.IsSyncable() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Newf(pkgerrors.CodeNotFound, "unknown sync source %q", raw))
			return
		}
		force, err := validators.ParseQueryBool(r, "force_sync", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithSourceType(ctx, string(sourceType))
		}
		result, err := svc.Sync(ctx, sourceType, syncer.Options{ForceSync: force, SyncType: enums.SyncTypeManual})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// SyncAll syncs every active source, or the comma separated `sources` subset.
func SyncAll(svc syncer.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync service unavailable"))
			return
		}
		force, err := validators.ParseQueryBool(r, "force_sync", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		opts := syncer.Options{ForceSync: force, SyncType: enums.SyncTypeManual}
		for _, raw := range validators.ParseQueryList(r, "sources") {
			st, err := enums.ParseSourceType(raw)
			if err != nil || !st.IsSyncable() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown sync source %q", raw).
					WithDetails(map[string]any{"sources": raw, "allowed": enums.SyncableSourceTypes()}))
				return
			}
			opts.Sources = append(opts.Sources, st)
		}

		result, err := svc.SyncAll(r.Context(), opts)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func SyncStatus(svc sources.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sources service unavailable"))
			return
		}
		raw := chi.URLParam(r, SourceTypeParam)
		sourceType, err := enums.ParseSourceType(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Newf(pkgerrors.CodeNotFound, "unknown source %q", raw))
			return
		}
		status, err := svc.Status(r.Context(), sourceType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}
