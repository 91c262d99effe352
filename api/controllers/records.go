package controllers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/angelmondragon/ledgermatch-backend/api/middleware"
	"github.com/angelmondragon/ledgermatch-backend/api/responses"
	"github.com/angelmondragon/ledgermatch-backend/api/validators"
	"github.com/angelmondragon/ledgermatch-backend/internal/records"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
	"github.com/angelmondragon/ledgermatch-backend/pkg/logger"
)

// looseString accepts a JSON string or number so amounts can be posted either way.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = looseString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*s = looseString(num.String())
	return nil
}

type recordPatchRequest struct {
	TransactionID   *string      `json:"transactionId" validate:"omitempty,max=255"`
	Amount          *looseString `json:"amount" validate:"omitempty,amount"`
	ReferenceNumber *string      `json:"referenceNumber" validate:"omitempty,max=255"`
	TransactionDate *string      `json:"transactionDate" validate:"omitempty,txndate"`
	Version         *int         `json:"version" validate:"omitempty,min=1"`
}

func (p recordPatchRequest) toInput() (records.UpdateInput, error) {
	input := records.UpdateInput{
		TransactionID:   p.TransactionID,
		ReferenceNumber: p.ReferenceNumber,
		Version:         p.Version,
	}
	if p.Amount != nil {
		amount, err := records.ParseAmount(string(*p.Amount))
		if err != nil {
			return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
		}
		input.Amount = &amount
	}
	if p.TransactionDate != nil {
		date, err := records.ParseDate(*p.TransactionDate)
		if err != nil {
			return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transactionDate")
		}
		input.TransactionDate = &date
	}
	return input, nil
}

type recordCreateRequest struct {
	TransactionID   string      `json:"transactionId" validate:"required,max=255"`
	Amount          looseString `json:"amount" validate:"required,amount"`
	ReferenceNumber string      `json:"referenceNumber" validate:"max=255"`
	TransactionDate string      `json:"transactionDate" validate:"required,txndate"`
}

func decodeRecordPatch(r *http.Request) (records.UpdateInput, error) {
	var body recordPatchRequest
	if err := validators.DecodeJSONBody(r, &body); err != nil {
		return records.UpdateInput{}, err
	}
	return body.toInput()
}

// ListRecords returns records grouped by the upload that produced them.
func ListRecords(svc records.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "records service unavailable"))
			return
		}

		jobID, err := validators.ParseQueryUUID(r, "uploadJobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter := records.ListFilter{UploadJobID: jobID}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseReconciliationStatus(strings.ToUpper(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			filter.Status = &status
		}

		groups, err := svc.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, groups)
	}
}

func GetRecord(svc records.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "records service unavailable"))
			return
		}

		recordID, err := validators.ParseURLUUID(r, "recordId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.Get(r.Context(), recordID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// CreateRecord adds a manual entry outside any upload.
func CreateRecord(svc records.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "records service unavailable"))
			return
		}

		var body recordCreateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := records.ParseAmount(string(body.Amount))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount"))
			return
		}
		date, err := records.ParseDate(body.TransactionDate)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transactionDate"))
			return
		}

		view, err := svc.Create(r.Context(), records.CreateInput{
			TransactionID:   body.TransactionID,
			Amount:          amount,
			ReferenceNumber: body.ReferenceNumber,
			TransactionDate: date,
		}, middleware.ActorID(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, view)
	}
}

// UpdateRecord edits matching fields and triggers a recompute.
func UpdateRecord(svc records.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "records service unavailable"))
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

		view, err := svc.Update(r.Context(), recordID, input, middleware.ActorID(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func DeleteRecord(svc records.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "records service unavailable"))
			return
		}

		recordID, err := validators.ParseURLUUID(r, "recordId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Delete(r.Context(), recordID, middleware.ActorID(r.Context())); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "deleted", "id": recordID.String()})
	}
}
