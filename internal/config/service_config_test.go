package config

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

// mockServiceConfig implements ServiceConfig for testing ApplyServiceConfigs
type mockServiceConfig struct {
	calls       []string
	configDir   string
	validateErr error
}

func (m *mockServiceConfig) ApplyDefaults()     { m.calls = append(m.calls, "defaults") }
func (m *mockServiceConfig) ApplyEnvOverrides() { m.calls = append(m.calls, "env") }

func (m *mockServiceConfig) ResolvePaths(configDir string) {
	m.calls = append(m.calls, "paths")
	m.configDir = configDir
}

func (m *mockServiceConfig) Validate() error {
	m.calls = append(m.calls, "validate")
	return m.validateErr
}

func TestApplyServiceConfigs_Order(t *testing.T) {
	a, b := &mockServiceConfig{}, &mockServiceConfig{}

	err := ApplyServiceConfigs("config", a, b)

	assert.NoError(t, err)
	assert.Equal(t, []string{"defaults", "env", "paths", "validate"}, a.calls)
	assert.Equal(t, "config", b.configDir)
}

func TestApplyServiceConfigs_StopsOnError(t *testing.T) {
	bad := &mockServiceConfig{validateErr: errors.New("bad")}
	next := &mockServiceConfig{}

	err := ApplyServiceConfigs("config", bad, next)

	assert.EqualError(t, err, "bad")
	assert.Empty(t, next.calls)
}

func TestResolvePath(t *testing.T) {
	dir := filepath.Join("app", "config")

	assert.Equal(t, "", resolvePath(dir, ""))
	assert.Equal(t, "/abs/data", resolvePath(dir, "/abs/data"))
	assert.Equal(t, filepath.Join("app", "data"), resolvePath(dir, "data"))
	assert.Equal(t, filepath.Join("app", "other"), resolvePath(dir, "../other"))
}
