package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-site/internal/domain"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestFactoryInstantiate(t *testing.T) {
	factory := NewFactory(NewManualTimeSource(epoch))

	tests := []struct {
		name     string
		timezone int
		wantErr  bool
	}{
		{"utc", 0, false},
		{"east edge", 12, false},
		{"west edge", -12, false},
		{"too far east", 13, true},
		{"too far west", -13, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk, err := factory.Instantiate(tt.timezone)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, domain.KindValidation, domain.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.timezone, clk.Timezone())
		})
	}
}

func TestClockAppliesTimezoneOffset(t *testing.T) {
	source := NewManualTimeSource(epoch)
	factory := NewFactory(source)

	east, err := factory.Instantiate(3)
	require.NoError(t, err)
	west, err := factory.Instantiate(-5)
	require.NoError(t, err)

	eastNow, err := east.Now()
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(3*time.Hour), eastNow)

	westNow, err := west.Now()
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(-5*time.Hour), westNow)
}

func TestClockNeverMovesBackward(t *testing.T) {
	source := NewManualTimeSource(epoch)
	factory := NewFactory(source)
	clk, err := factory.Instantiate(0)
	require.NoError(t, err)

	first, err := clk.Now()
	require.NoError(t, err)

	// A source regression must be clamped to the last observed instant.
	source.Advance(-10 * time.Minute)
	second, err := clk.Now()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	source.Advance(20 * time.Minute)
	third, err := clk.Now()
	require.NoError(t, err)
	assert.True(t, third.After(second))
}

func TestClockUnavailable(t *testing.T) {
	source := NewManualTimeSource(epoch)
	factory := NewFactory(source)
	clk, err := factory.Instantiate(0)
	require.NoError(t, err)

	source.SetFailing(true)
	_, err = clk.Now()
	require.Error(t, err)
	assert.Equal(t, domain.KindClockUnavailable, domain.KindOf(err))

	source.SetFailing(false)
	_, err = clk.Now()
	require.NoError(t, err)
}

func TestScheduleFiresOnce(t *testing.T) {
	source := NewManualTimeSource(epoch)
	factory := NewFactory(source)
	clk, err := factory.Instantiate(0)
	require.NoError(t, err)

	fired := 0
	clk.Schedule(epoch.Add(time.Hour), func() { fired++ })

	source.Advance(30 * time.Minute)
	assert.Equal(t, 0, fired)

	source.Advance(30 * time.Minute)
	assert.Equal(t, 1, fired)

	// Already consumed; later advances must not refire it.
	source.Advance(time.Hour)
	assert.Equal(t, 1, fired)
}

func TestScheduleInPastFiresOnNextObservation(t *testing.T) {
	source := NewManualTimeSource(epoch)
	factory := NewFactory(source)
	clk, err := factory.Instantiate(0)
	require.NoError(t, err)

	fired := false
	clk.Schedule(epoch.Add(-time.Minute), func() { fired = true })

	_, err = clk.Now()
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestScheduleOrdering(t *testing.T) {
	source := NewManualTimeSource(epoch)
	factory := NewFactory(source)
	clk, err := factory.Instantiate(0)
	require.NoError(t, err)

	var order []string
	clk.Schedule(epoch.Add(2*time.Hour), func() { order = append(order, "late") })
	clk.Schedule(epoch.Add(time.Hour), func() { order = append(order, "early") })

	source.Advance(3 * time.Hour)
	assert.Equal(t, []string{"early", "late"}, order)
}

func TestAdvanceAllowsInstantiateFromCallback(t *testing.T) {
	source := NewManualTimeSource(epoch)
	factory := NewFactory(source)
	clk, err := factory.Instantiate(0)
	require.NoError(t, err)

	// Registering a new clock from inside an alarm callback mutates the
	// source's watcher list while Advance is notifying it.
	var late *Clock
	clk.Schedule(epoch.Add(30*time.Minute), func() {
		late, _ = factory.Instantiate(0)
	})

	source.Advance(time.Hour)
	require.NotNil(t, late)

	fired := false
	late.Schedule(epoch.Add(90*time.Minute), func() { fired = true })
	source.Advance(time.Hour)
	assert.True(t, fired)
}

func TestSystemTimeSource(t *testing.T) {
	source := NewSystemTimeSource()
	now, err := source.Now()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, now.Location())
	assert.WithinDuration(t, time.Now().UTC(), now, time.Minute)
}
