package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWeightedAvgPrice(t *testing.T) {
	tests := []struct {
		name       string
		oldQty     float64
		oldAvg     float64
		addQty     float64
		tradePrice float64
		want       float64
	}{
		{"first buy into empty position", 0, 0, 20, 10, 10},
		{"repeat buy shifts the average", 20, 10, 5, 20, 12},
		{"same price leaves average unchanged", 10, 7.5, 90, 7.5, 7.5},
		{"tiny add barely moves a large position", 1e6, 100, 1, 200, (1e6*100 + 200) / (1e6 + 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WeightedAvgPrice(tt.oldQty, tt.oldAvg, tt.addQty, tt.tradePrice)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestGainPercentage(t *testing.T) {
	assert.InDelta(t, 20, GainPercentage(1200, 1000), 1e-9)
	assert.InDelta(t, -50, GainPercentage(500, 1000), 1e-9)
	assert.InDelta(t, 0, GainPercentage(1000, 1000), 1e-9)
	assert.Equal(t, 0.0, GainPercentage(1200, 0), "no starting balance means no measurable gain")
}
