package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/ledgermatch-backend/internal/records"
	"github.com/angelmondragon/ledgermatch-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	// Bodies are checked with the same parsers ingestion uses, so an amount or date a
	// client can post is one a bank file could have carried.
	mustRegister(v, "amount", func(fl validator.FieldLevel) bool {
		_, err := records.ParseAmount(fl.Field().String())
		return err == nil
	})
	mustRegister(v, "txndate", func(fl validator.FieldLevel) bool {
		_, err := records.ParseDate(fl.Field().String())
		return err == nil
	})
	mustRegister(v, "userrole", func(fl validator.FieldLevel) bool {
		_, err := enums.ParseUserRole(strings.ToLower(strings.TrimSpace(fl.Field().String())))
		return err == nil
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// DecodeJSONBody decodes a single JSON object into dest and validates it. Unknown
// fields are rejected so a misspelled column mapping or record field is not silently
// ignored.
func DecodeJSONBody(r *http.Request, dest any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return decodeError(err)
	}
	if decoder.More() {
		return pkgerrors.New(pkgerrors.CodeValidation, "request body must contain a single JSON object")
	}
	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func decodeError(err error) *pkgerrors.Error {
	details := map[string]any{"error": err.Error()}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		details = map[string]any{"field": typeErr.Field, "error": "has the wrong type"}
	}
	if errors.Is(err, io.EOF) {
		details = map[string]any{"error": "request body is empty"}
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").WithDetails(details)
}

func formatValidationErrors(err error) *pkgerrors.Error {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "email":
		return "must be a valid email"
	case "amount":
		return fmt.Sprintf("must be a decimal amount below 10^14 with up to %d decimal places", records.AmountScale)
	case "txndate":
		return "must be a date such as 2024-03-01 or 03/01/2024"
	case "userrole":
		return "must be one of admin, analyst, viewer"
	}
	return "is invalid"
}
