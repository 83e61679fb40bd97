package safebrowsing

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientOfflineDoesNotRequireKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Offline = true
	cfg.DataFilePath = ""

	c, err := NewClient(cfg, []string{"goog-malware-shavar"}, prometheus.NewRegistry())
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, []string{"goog-malware-shavar"}, c.Lists())
	assert.Equal(t, ErrOffline, c.Update(context.Background()))
}

func TestNewClientRejectsMissingKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server = "https://safebrowsing.example.com/"
	_, err := NewClient(cfg, nil, prometheus.NewRegistry())
	assert.Error(t, err, "expected NewClient to reject a config with no API key")
}
