package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/ledgermatch-backend/api/middleware"
	"github.com/angelmondragon/ledgermatch-backend/api/responses"
	"github.com/angelmondragon/ledgermatch-backend/api/validators"
	"github.com/angelmondragon/ledgermatch-backend/internal/reconciliation"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
)

// ReconciliationJobReport returns the summary, chart series and records of one upload.
func ReconciliationJobReport(svc reconciliation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation service unavailable"))
			return
		}

		jobID, err := validators.ParseURLUUID(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		report, err := svc.JobReport(r.Context(), jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

// ReconciliationSummary aggregates status counts over records created in a date range.
func ReconciliationSummary(svc reconciliation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation service unavailable"))
			return
		}

		var filter reconciliation.SummaryFilter
		var err error
		if filter.StartDate, err = validators.ParseQueryDate(r, "startDate"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filter.EndDate, err = validators.ParseQueryDate(r, "endDate"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseReconciliationStatus(strings.ToUpper(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			filter.Status = &status
		}

		summary, err := svc.GlobalSummary(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// ManualCorrection edits a record from the reconciliation view and re-runs matching.
func ManualCorrection(svc reconciliation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation service unavailable"))
			return
		}

		recordID, err := validators.ParseURLUUID(r, "recordId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := decodeRecordPatch(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ManualCorrect(r.Context(), recordID, input, middleware.ActorID(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
