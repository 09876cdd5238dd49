package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cartograph/internal/config"
)

func TestFormatFor(t *testing.T) {
	tests := []struct {
		explicit, path, want string
	}{
		{"yaml", "graph.json", "yaml"},
		{"", "graph.yml", "yaml"},
		{"", "hosts.YAML", "yaml"},
		{"", "inventory.yml", "ansible-inventory"},
		{"", "graph.json", "json"},
		{"", "-", "json"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatFor(tt.explicit, tt.path), "%q %q", tt.explicit, tt.path)
	}
}

func TestBuildProbes(t *testing.T) {
	names := func(cfg *config.Config) []string {
		var out []string
		for _, p := range buildProbes(cfg, nil, nil, zap.NewNop()) {
			out = append(out, p.Name())
		}
		return out
	}

	cfg := config.DefaultConfig()
	assert.Equal(t, []string{config.ProbeTCPScan, config.ProbeScanDomain}, names(cfg))

	passive := config.ModePassive
	cfg.Mode = &passive
	assert.Empty(t, names(cfg))

	discovery := config.ModeDiscovery
	cfg.Mode = &discovery
	cfg.Probes.SSHLogin.Enabled = true
	cfg.Probes.SSHLogin.Credentials = []config.CredentialPair{{Username: "root", Password: "toor"}}
	got := names(cfg)
	assert.Contains(t, got, config.ProbeSSHLogin)
	assert.Contains(t, got, config.ProbeTCPScan)
}

func TestRootFlagsOverrideConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cartograph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("posture: cautious\ndatabase:\n  path: /var/lib/cartograph.db\n"), 0600))

	root := rootFlags{configPath: path, dbPath: "engagement.db", mode: "discovery", logLevel: "DEBUG"}
	cfg, loaded, err := root.load()
	require.NoError(t, err)
	assert.Equal(t, path, loaded)
	assert.Equal(t, "engagement.db", cfg.Database.Path)
	assert.Equal(t, config.PostureCautious, cfg.Posture)
	assert.Equal(t, config.ModeDiscovery, cfg.EffectiveMode())
	assert.Equal(t, "debug", cfg.Log.Level)

	root.posture = "reckless"
	_, _, err = root.load()
	assert.Error(t, err)
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cartograph.yaml")
	root := rootFlags{configPath: path}

	written, err := root.initConfig()
	require.NoError(t, err)
	assert.Equal(t, path, written)

	cfg, _, err := root.load()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Database.Path, cfg.Database.Path)

	_, err = root.initConfig()
	assert.ErrorContains(t, err, "already exists")
}
