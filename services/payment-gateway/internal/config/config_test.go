package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv("GATEWAY_TEST_MERCHANT_ID", "MS100")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, int64(100), cfg.Gateway.AmountDivisor)
	assert.Equal(t, "30m0s", cfg.Gateway.RedirectTTL.String())
	assert.Equal(t, "10m0s", cfg.Gateway.ReplayTTL.String())
	assert.Equal(t, "MS100", cfg.Gateway.Test.MerchantID)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestActiveEnvironment(t *testing.T) {
	full := Credentials{MerchantID: "MS1", HashKey: "k", HashIV: "iv"}

	tests := []struct {
		name    string
		gateway GatewayConfig
		wantErr error
		want    string
	}{
		{
			name:    "test mode",
			gateway: GatewayConfig{Mode: "test", Test: full},
			want:    "MS1",
		},
		{
			name:    "live mode is case insensitive",
			gateway: GatewayConfig{Mode: "LIVE", Live: Credentials{MerchantID: "MS9", HashKey: "k", HashIV: "iv"}},
			want:    "MS9",
		},
		{
			name:    "live mode never falls back to test credentials",
			gateway: GatewayConfig{Mode: "live", Test: full},
			wantErr: ErrMissingCredentials,
		},
		{
			name:    "blank key",
			gateway: GatewayConfig{Mode: "test", Test: Credentials{MerchantID: "MS1", HashKey: "  ", HashIV: "iv"}},
			wantErr: ErrMissingCredentials,
		},
		{
			name:    "unknown mode",
			gateway: GatewayConfig{Mode: "staging", Test: full},
			wantErr: ErrUnknownMode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Gateway: tt.gateway}
			env, err := cfg.ActiveEnvironment()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, env.MerchantID)
			assert.NotEmpty(t, env.CheckoutURL)
			assert.NotEmpty(t, env.CloseURL)
		})
	}
}
