package controllers

import (
	"math"
	"net/http"
	"strings"

	"github.com/angelmondragon/ledgermatch-backend/api/middleware"
	"github.com/angelmondragon/ledgermatch-backend/api/responses"
	"github.com/angelmondragon/ledgermatch-backend/api/validators"
	"github.com/angelmondragon/ledgermatch-backend/internal/audit"
	"github.com/angelmondragon/ledgermatch-backend/internal/reconciliation"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 500
)

// AuditTimeline returns a record's entries oldest first.
func AuditTimeline(svc audit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "audit service unavailable"))
			return
		}

		recordID, err := validators.ParseURLUUID(r, "recordId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, err := svc.Timeline(r.Context(), recordID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entries)
	}
}

// AuditLogs searches entries newest first. Limits above 500 are capped.
func AuditLogs(svc audit.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "audit service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", defaultAuditLimit, 1, math.MaxInt32)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if limit > maxAuditLimit {
			limit = maxAuditLimit
		}

		filter := audit.Filter{Limit: limit}
		if filter.UploadJobID, err = validators.ParseQueryUUID(r, "uploadJobId"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filter.RecordID, err = validators.ParseQueryUUID(r, "recordId"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("source")); raw != "" {
			source, err := enums.ParseAuditSource(strings.ToUpper(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid source"))
				return
			}
			filter.Source = &source
		}

		entries, err := svc.Search(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entries)
	}
}

// AuditBackfill writes missing reconciliationStatus entries for existing results.
func AuditBackfill(svc reconciliation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation service unavailable"))
			return
		}

		stats, err := svc.Backfill(r.Context(), middleware.ActorID(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}
