package redmine_notifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfig_InitDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.InitDefaults()

	assert.True(t, cfg.IsEnabled())
	assert.Equal(t, "bug-tracker", cfg.ProjectID)
	assert.Equal(t, 1, cfg.TrackerID)
	assert.Equal(t, "unknown", cfg.AppName)
	assert.Empty(t, cfg.DefaultTags)
	assert.Equal(t, 300*time.Second, cfg.CooldownDuration())
	assert.Equal(t, 5*time.Second, cfg.Transport.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.Transport.ReadTimeout)
	assert.True(t, *cfg.Transport.SSLVerify)
	assert.Equal(t, 5*time.Minute, cfg.Cache.CleanupInterval)
}

func TestConfig_InitDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		Enabled:   ptrTo(false),
		ProjectID: "ops",
		TrackerID: 3,
		AppName:   "shop",
		Cooldown:  ptrTo(0),
		Transport: TransportConfig{SSLVerify: ptrTo(false)},
	}
	cfg.InitDefaults()

	assert.False(t, cfg.IsEnabled())
	assert.Equal(t, "ops", cfg.ProjectID)
	assert.Equal(t, 3, cfg.TrackerID)
	assert.Equal(t, "shop", cfg.AppName)
	assert.Equal(t, time.Duration(0), cfg.CooldownDuration(), "zero cooldown disables throttling")
	assert.False(t, *cfg.Transport.SSLVerify)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "valid",
			cfg:  Config{RedmineURL: "https://redmine.example.com", APIKey: "k"},
		},
		{
			name:    "missing url",
			cfg:     Config{APIKey: "k"},
			wantErr: "redmine_url is required",
		},
		{
			name:    "missing key",
			cfg:     Config{RedmineURL: "https://redmine.example.com"},
			wantErr: "api_key is required",
		},
		{
			name:    "bad scheme",
			cfg:     Config{RedmineURL: "redmine.example.com", APIKey: "k"},
			wantErr: "scheme",
		},
		{
			name:    "negative cooldown",
			cfg:     Config{RedmineURL: "https://redmine.example.com", APIKey: "k", Cooldown: ptrTo(-1)},
			wantErr: "cooldown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.True(t, tt.cfg.IsValid())
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.False(t, tt.cfg.IsValid())
		})
	}
}

func TestConfig_CooldownIsSeconds(t *testing.T) {
	tests := []struct {
		doc  string
		want time.Duration
	}{
		{doc: "cooldown: 300", want: 300 * time.Second},
		{doc: "cooldown: 0", want: 0},
		{doc: "api_key: k", want: 300 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.doc, func(t *testing.T) {
			cfg := &Config{}
			require.NoError(t, yaml.Unmarshal([]byte(tt.doc), cfg))
			cfg.InitDefaults()
			assert.Equal(t, tt.want, cfg.CooldownDuration())
		})
	}
}
