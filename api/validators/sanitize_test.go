package validators

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFileNameStripsDirectories(t *testing.T) {
	cases := map[string]string{
		"../../statements/march.csv": "march.csv",
		`C:\exports\april.xlsx`:      "april.xlsx",
		"  may.csv \n":               "may.csv",
		"jun\x00e.csv":               "june.csv",
		"../":                        "upload",
		"":                           "upload",
	}
	for raw, want := range cases {
		assert.Equal(t, want, SanitizeFileName(raw, 255), raw)
	}
}

func TestSanitizeFileNameTruncatesByRune(t *testing.T) {
	raw := strings.Repeat("é", 300) + ".csv"
	got := SanitizeFileName(raw, 255)

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 255, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, ".csv"))

	assert.Equal(t, "relevé", SanitizeFileName("relevé bancaire", 6))
	assert.Equal(t, "ab", SanitizeFileName("abc\xff", 2))
}
