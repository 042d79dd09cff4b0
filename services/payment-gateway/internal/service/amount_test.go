package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		name    string
		minor   int64
		divisor int64
		want    int64
		wantErr bool
	}{
		{name: "rounds up", minor: 4999, divisor: 100, want: 50},
		{name: "exact", minor: 5000, divisor: 100, want: 50},
		{name: "rounds down", minor: 5049, divisor: 100, want: 50},
		{name: "half rounds away from zero", minor: 5050, divisor: 100, want: 51},
		{name: "tiny amount clamps to one", minor: 40, divisor: 100, want: 1},
		{name: "one minor unit clamps to one", minor: 1, divisor: 100, want: 1},
		{name: "divisor of one", minor: 4999, divisor: 1, want: 4999},
		{name: "non-positive divisor treated as one", minor: 12, divisor: 0, want: 12},
		{name: "zero amount", minor: 0, divisor: 100, wantErr: true},
		{name: "negative amount", minor: -5, divisor: 100, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAmount(tt.minor, tt.divisor)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
