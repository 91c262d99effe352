package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/ledgermatch-backend/pkg/errors"
)

type manualRecordBody struct {
	TransactionID   string `json:"transactionId" validate:"required"`
	Amount          string `json:"amount" validate:"required,amount"`
	TransactionDate string `json:"transactionDate" validate:"required,txndate"`
	Role            string `json:"role" validate:"omitempty,userrole"`
}

func TestDecodeJSONBodyAcceptsLedgerValues(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(
		`{"transactionId":"TX-1","amount":"$1,234.50","transactionDate":"03/01/2024","role":"Analyst"}`))

	var body manualRecordBody
	require.NoError(t, DecodeJSONBody(req, &body))
	assert.Equal(t, "$1,234.50", body.Amount)
}

func TestDecodeJSONBodyReportsLedgerFieldProblems(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(
		`{"transactionId":"TX-1","amount":"100000000000000","transactionDate":"someday","role":"owner"}`))

	var body manualRecordBody
	err := DecodeJSONBody(req, &body)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())

	details, ok := typed.Details().(map[string]string)
	require.True(t, ok, "details %T", typed.Details())
	assert.Contains(t, details["amount"], "decimal amount")
	assert.Contains(t, details["transactionDate"], "date such as")
	assert.Contains(t, details["role"], "admin, analyst, viewer")
	assert.NotContains(t, details, "transactionId")
}

func TestDecodeJSONBodyRejectsMalformedBodies(t *testing.T) {
	cases := map[string]string{
		"empty":         ``,
		"wrong type":    `{"transactionId": 7}`,
		"unknown field": `{"transactionId":"TX-1","status":"MATCHED"}`,
		"two objects":   `{"transactionId":"TX-1","amount":"1","transactionDate":"2024-03-01"}{}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var body manualRecordBody
			err := DecodeJSONBody(httptest.NewRequest("POST", "/", strings.NewReader(raw)), &body)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
		})
	}
}
