package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Ticker string `yaml:"ticker" validate:"required,ticker"`
	From   string `yaml:"from" validate:"required,datetime=2006-01-02"`
	Mode   string `yaml:"mode" validate:"oneof=overwrite append"`
}

func TestIsTicker(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"AAPL", true},
		{"BRK.B", true},
		{"X:BTCUSD", true},
		{"", false},
		{"aapl", false},
		{"AAPL MSFT", false},
		{"../etc", false},
		{"ABCDEFGHIJKLMNOPQ", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTicker(tt.in))
		})
	}
}

func TestValidator_Struct(t *testing.T) {
	v := New()

	assert.NoError(t, v.Struct(sample{Ticker: "AAPL", From: "2023-01-01", Mode: "append"}))

	err := v.Struct(sample{Ticker: "aapl", From: "01/01/2023", Mode: "merge"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ticker must be a valid ticker symbol")
	assert.Contains(t, err.Error(), "from must be a date in 2006-01-02 format")
	assert.Contains(t, err.Error(), "mode must be one of: overwrite, append")
}
