package location

import (
	"testing"
	"time"

	"locshare/backend/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	assert.InDelta(t, 0, Distance(52.37, 4.89, 52.37, 4.89), 1e-9)
	// One degree of longitude on the equator.
	assert.InDelta(t, 111195, Distance(0, 0, 0, 1), 1)
	// Amsterdam to Paris.
	assert.InDelta(t, 430000, Distance(52.3676, 4.9041, 48.8566, 2.3522), 5000)
	assert.Less(t, Distance(52.0, 4.0, 52.00003, 4.0), DwellRadius)
	assert.Greater(t, Distance(52.0, 4.0, 52.0001, 4.0), DwellRadius)
}

func TestBatteryPercent(t *testing.T) {
	assert.Equal(t, 0, batteryPercent(0))
	assert.Equal(t, 50, batteryPercent(0.499))
	assert.Equal(t, 100, batteryPercent(1))
	assert.Equal(t, 100, batteryPercent(1.2))
	assert.Equal(t, 0, batteryPercent(-0.1))
}

func TestDwell(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	at := func(lat float64, ts time.Time, dur int) *models.LocationRecord {
		lon := 4.0
		return &models.LocationRecord{Latitude: &lat, Longitude: &lon, Timestamp: ts, Duration: dur}
	}

	tests := []struct {
		name string
		prev *models.LocationRecord
		next *models.LocationRecord
		want int
	}{
		{"first fix", nil, at(52, t0, 0), 0},
		{"stayed put", at(52, t0, 40), at(52.00001, t0.Add(15*time.Second), 0), 55},
		{"moved away", at(52, t0, 40), at(52.001, t0.Add(15*time.Second), 0), 0},
		{"previous not sharing", &models.LocationRecord{Timestamp: t0, Duration: 40}, at(52, t0.Add(time.Second), 0), 0},
		{"clock went backwards", at(52, t0, 40), at(52, t0.Add(-time.Second), 0), 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dwell(tt.prev, tt.next))
		})
	}
}
