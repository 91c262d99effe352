package validators

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQueryDate(t *testing.T) {
	req := httptest.NewRequest("GET", "/?startDate=2024-05-01&endDate=2024-05-02T10:00:00%2B02:00&bad=05/01/2024", nil)

	start, err := ParseQueryDate(req, "startDate")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), *start)

	end, err := ParseQueryDate(req, "endDate")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, end.Location())
	assert.Equal(t, 8, end.Hour())

	_, err = ParseQueryDate(req, "bad")
	assert.Error(t, err)

	missing, err := ParseQueryDate(req, "other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestParseQueryUUID(t *testing.T) {
	id := uuid.New()
	req := httptest.NewRequest("GET", "/?jobId="+id.String()+"&bad=nope", nil)

	got, err := ParseQueryUUID(req, "jobId")
	require.NoError(t, err)
	assert.Equal(t, id, *got)

	_, err = ParseQueryUUID(req, "bad")
	assert.Error(t, err)

	none, err := ParseQueryUUID(req, "missing")
	require.NoError(t, err)
	assert.Nil(t, none)
}
