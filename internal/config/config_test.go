package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultPhysicsConstants(t *testing.T) {
	c := Default()
	require.Equal(t, 0.101, c.Physics.MomentOfInertia)
	require.Equal(t, 1e-4, c.Physics.InitialK)
	require.Equal(t, 4, c.Physics.MagnetsPerRev)
}

func TestLoadFallsBackToDefaultsWhenFileMissing(t *testing.T) {
	log := zap.NewNop()
	c := Load(filepath.Join(t.TempDir(), "missing.yaml"), log)
	require.Equal(t, Default().Physics, c.Physics)
}

func TestLoadParsesYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("physics:\n  moment_of_inertia: 0.2\n"), 0o644))

	c := Load(path, zap.NewNop())
	require.Equal(t, 0.2, c.Physics.MomentOfInertia)
	require.Equal(t, Default().Thresholds, c.Thresholds) // untouched fields keep defaults
}

func TestEnvOverrideWins(t *testing.T) {
	t.Setenv("ERGO_LISTEN_ADDR", ":9999")
	c := Load(filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop())
	require.Equal(t, ":9999", c.Server.ListenAddr)
}

func TestUpdateFromJSONDeepMergesAndPreservesUntouchedFields(t *testing.T) {
	c := Default()
	err := c.UpdateFromJSON([]byte(`{"user":{"weightKg":80}}`))
	require.NoError(t, err)
	require.Equal(t, 80.0, c.User.WeightKg)
	require.Equal(t, Default().User.MaxHR, c.User.MaxHR)
	require.Equal(t, Default().Network.DeviceName, c.Network.DeviceName)
}

func TestResetToDefaultsPreservesPath(t *testing.T) {
	c := Load(filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop())
	_ = c.UpdateFromJSON([]byte(`{"user":{"weightKg":999}}`))
	path := c.path
	c.ResetToDefaults()
	require.Equal(t, Default().User.WeightKg, c.User.WeightKg)
	require.Equal(t, path, c.path)
}

func TestToJSONOmitsCredentials(t *testing.T) {
	c := Default()
	c.Network.WifiPassword = "secret"
	data, err := c.ToJSON()
	require.NoError(t, err)
	require.NotContains(t, string(data), "secret")
}
