package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedKeys serves keys in pages of size, the cursor being the next offset.
type pagedKeys struct {
	keys  []string
	size  int
	calls int
}

func (p *pagedKeys) scan(_ context.Context, cursor uint64) ([]string, uint64, error) {
	p.calls++
	start := int(cursor)
	end := min(start+p.size, len(p.keys))
	next := uint64(end)
	if end == len(p.keys) {
		next = 0
	}
	return p.keys[start:end], next, nil
}

func TestSweepFollowsCursorToTheEnd(t *testing.T) {
	keys := make([]string, 0, 250)
	for i := 0; i < 250; i++ {
		keys = append(keys, fmt.Sprintf("attendance:gym:gym-1:gen:0:day:%d", i))
	}
	pages := &pagedKeys{keys: keys, size: 10}

	var deleted []string
	err := sweep(context.Background(), pages.scan, func(_ context.Context, batch []string) error {
		deleted = append(deleted, batch...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 25, pages.calls)
	assert.Equal(t, keys, deleted)
}

func TestSweepStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pages := &pagedKeys{keys: make([]string, 100), size: 10}

	err := sweep(ctx, pages.scan, func(context.Context, []string) error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, pages.calls)
}

func TestSweepReportsScanErrors(t *testing.T) {
	failing := func(context.Context, uint64) ([]string, uint64, error) {
		return nil, 0, assert.AnError
	}
	err := sweep(context.Background(), failing, func(context.Context, []string) error {
		t.Fatal("nothing to delete")
		return nil
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestGymDayKeyCarriesGeneration(t *testing.T) {
	prefix := gymViewPrefix("gym-1")
	assert.NotEqual(t, gymDayKey("gym-1", 1, "2024-03-01"), gymDayKey("gym-1", 2, "2024-03-01"))
	assert.Contains(t, gymDayKey("gym-1", 1, "2024-03-01"), prefix)
	// a sweep of prefix* must not remove the counter
	assert.False(t, strings.HasPrefix(generationKey(prefix), prefix))
}
