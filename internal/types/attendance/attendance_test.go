package attendance

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDay(t *testing.T) {
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, raw := range []string{"2024-03-01", " 2024-03-01 ", "2024-03-01T23:59:59Z", "2024-03-01T08:00:00.123Z", "2024-03-02T01:00:00+02:00"} {
		got, err := ParseDay(raw)
		require.NoError(t, err, raw)
		assert.True(t, want.Equal(got), "%s parsed to %s", raw, got)
		assert.Equal(t, time.UTC, got.Location())
	}

	for _, raw := range []string{"", "2024-02-30", "01/03/2024", "2024-3-1", "tomorrow"} {
		_, err := ParseDay(raw)
		assert.True(t, errors.Is(err, errors.NotValid), raw)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	for _, raw := range []string{"present", "absent", "excused"} {
		s, err := ParseStatus(raw)
		require.NoError(t, err)

		b, err := json.Marshal(s)
		require.NoError(t, err)
		assert.Equal(t, `"`+raw+`"`, string(b))
	}

	for _, raw := range []string{"", "Present", "presente", "falto", "permiso"} {
		_, err := ParseStatus(raw)
		assert.True(t, errors.Is(err, errors.NotValid), raw)
	}
}

func TestNewRecordNormalizesDay(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec, err := NewRecord("gym-1", "ath-1", time.Date(2024, 3, 1, 21, 15, 0, 0, time.UTC), StatusPresent, now)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", FormatDay(rec.Day))
	assert.Equal(t, 0, rec.Day.Hour())
	assert.Equal(t, "gym-1/ath-1/2024-03-01", rec.Key())

	_, err = NewRecord("", "ath-1", now, StatusPresent, now)
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = NewRecord("gym-1", "ath-1", now, Status("late"), now)
	assert.True(t, errors.Is(err, errors.NotValid))
}
