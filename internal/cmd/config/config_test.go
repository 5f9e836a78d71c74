package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	appconfig "github.com/Iron-Ham/storyloop/internal/config"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		key, value string
		want       any
		wantErr    bool
	}{
		{key: "run.max_iterations", value: "20", want: 20},
		{key: "run.max_iterations", value: "-1", wantErr: true},
		{key: "run.max_iterations", value: "many", wantErr: true},
		{key: "state.backend", value: "sqlite", want: "sqlite"},
		{key: "state.backend", value: "mysql", wantErr: true},
		{key: "logging.level", value: "DEBUG", want: "debug"},
		{key: "logging.level", value: "trace", wantErr: true},
		{key: "server.addr", value: ":9000", want: ":9000"},
		{key: "workers.dev.command", value: "x", wantErr: true},
		{key: "nope", value: "x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			got, err := parseValue(tt.key, tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultConfigContentIsValid(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	appconfig.SetDefaults()
	viper.SetConfigType("yaml")
	require.NoError(t, viper.ReadConfig(bytes.NewBufferString(defaultConfigContent)))

	cfg, err := appconfig.Load()
	require.NoError(t, err)
	assert.Equal(t, appconfig.Default().State, cfg.State)
	assert.Equal(t, appconfig.Default().Run, cfg.Run)
	assert.Equal(t, []string{"default"}, cfg.WorkerNames())
}

func TestInitSetShow(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	appconfig.SetDefaults()

	var out bytes.Buffer
	configInitCmd.SetOut(&out)
	require.NoError(t, runConfigInit(configInitCmd, nil))
	assert.FileExists(t, appconfig.ConfigFile())
	assert.Error(t, runConfigInit(configInitCmd, nil), "second init must not overwrite")

	configSetCmd.SetOut(&out)
	require.NoError(t, runConfigSet(configSetCmd, []string{"run.max_parallel", "3"}))

	data, err := os.ReadFile(appconfig.ConfigFile())
	require.NoError(t, err)
	var written map[string]any
	require.NoError(t, yaml.Unmarshal(data, &written))
	run, ok := written["run"].(map[string]any)
	require.True(t, ok, "run section missing from %s", data)
	assert.Equal(t, 3, run["max_parallel"])

	out.Reset()
	configShowCmd.SetOut(&out)
	require.NoError(t, runConfigShow(configShowCmd, nil))
	assert.Contains(t, out.String(), "max_parallel: 3")

	out.Reset()
	configPathCmd.SetOut(&out)
	require.NoError(t, runConfigPath(configPathCmd, nil))
	assert.Contains(t, out.String(), filepath.Join(appconfig.ProjectConfigDir, "config.yaml"))
	assert.Contains(t, out.String(), "STORYLOOP_RUN_MAX_ITERATIONS")
}
