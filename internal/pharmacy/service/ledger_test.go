package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/repository"
)

func TestClassifyExpiry(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		days int
		want string
	}{
		{"expired yesterday", -1, ExpiryRed},
		{"expires tomorrow", 1, ExpiryRed},
		{"six months out", 180, ExpiryRed},
		{"just past red", 181, ExpiryYellow},
		{"eleven months out", 330, ExpiryYellow},
		{"a year out", 365, ExpiryYellow},
		{"well past a year", 366, ExpiryGreen},
		{"two years out", 730, ExpiryGreen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caducidad := now.AddDate(0, 0, tt.days)
			assert.Equal(t, tt.want, ClassifyExpiry(caducidad, now))
		})
	}
}

func TestClassifyLots_AnnotatesDays(t *testing.T) {
	now := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	lots := []*repository.Lot{
		{ID: "a", Caducidad: now.AddDate(0, 0, 30)},
		{ID: "b", Caducidad: now.AddDate(0, 0, 400)},
	}

	out := classifyLots(lots, now)
	assert.Len(t, out, 2)
	assert.Equal(t, ExpiryRed, out[0].ExpiryStatus)
	assert.Equal(t, 30, out[0].DaysToExpiry)
	assert.Equal(t, ExpiryGreen, out[1].ExpiryStatus)
	assert.Equal(t, 400, out[1].DaysToExpiry)
}
