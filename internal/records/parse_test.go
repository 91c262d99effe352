package records

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := map[string]string{
		"100":        "100",
		"$1,234.50":  "1234.5",
		"(12.00)":    "-12",
		" -7.25 ":    "-7.25",
		"1 000":      "1000",
		"1.2345678":  "1.234568",
		"-0.0000004": "0",
	}
	for raw, want := range cases {
		got, err := ParseAmount(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got.String(), raw)
	}

	for _, raw := range []string{"", "abc", "()", "1.2.3", "100000000000000", "-99999999999999.9999999"} {
		_, err := ParseAmount(raw)
		assert.Error(t, err, raw)
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 2, 9, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{"2024-02-09", "2024-02-09T18:45:00Z", "02/09/2024", "2/9/2024", "Feb 9, 2024", "09 Feb 2024", "02-09-24", "2/9/24 00:00", "2/9/24", "9-Feb-24"} {
		got, err := ParseDate(raw)
		require.NoError(t, err, raw)
		assert.True(t, want.Equal(got), "%s parsed as %s", raw, got)
	}

	_, err := ParseDate("yesterday")
	assert.Error(t, err)
	_, err = ParseDate(" ")
	assert.Error(t, err)
}

func TestParseSheetDate(t *testing.T) {
	got, err := ParseSheetDate("45331")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 9, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseSheetDate("2024-02-09")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 9, 0, 0, 0, 0, time.UTC), got)

	for _, raw := range []string{"2024", "45331.5x", "900000"} {
		_, err := ParseSheetDate(raw)
		assert.Error(t, err, raw)
	}
	_, err = ParseDate("45331")
	assert.Error(t, err, "serials are only accepted from ingested files")
}
