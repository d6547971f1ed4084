package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/pid"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
)

const plantYAML = `
controller:
  name: granulation-line
  scan:
    period: 200ms
  historian:
    capacity_per_tag: 500
  storage:
    archive:
      type: local
      base_dir: /tmp/archive
  units:
    - name: granulator
      devices:
        - name: jacket
          type: first_order
          params:
            gain: 1.5
        - name: heater
          type: static
      tags:
        - name: granulator.jacket.temperature
          unit: degC
          limits:
            high: 80
            high_high: 90
      loops:
        - name: TIC-101
          kp: 2
          ki: 0.1
          output_min: 0
          output_max: 100
          setpoint: 60
          mode: AUTO
          pv: granulator.jacket.temperature
          output: granulator.heater.power
      interlocks:
        - name: overtemp
          when: {tag: granulator.jacket.temperature, op: ">=", value: 95}
          actions:
            - {type: output, target: TIC-101, value: 0}
            - {type: alarm, target: OVERTEMP, message: jacket over temperature, priority: CRITICAL}
      safety:
        - name: SIS-1
          architecture: 2oo3
          sil: 2
          outputs: [heater_permissive]
          channels:
            - {tag: granulator.jacket.temperature, op: "<", value: 100}
            - {tag: granulator.jacket.temperature, op: "<", value: 100}
            - {tag: granulator.jacket.temperature, op: "<", value: 100}
      outputs:
        - {device: heater, key: power, source_tag: granulator.heater.power, gated_by: [SIS-1]}
  recipes:
    - name: R1
      version: 1
      phases:
        - name: heat
          duration: 5s
          operations:
            - {type: setpoint, target: TIC-101, value: 65}
        - name: hold
          duration: 10s
`

func TestLoadConfig_DefaultsAndYAML(t *testing.T) {
	cfg, err := config.LoadConfig("", []byte(plantYAML), nil)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	c := cfg.Controller
	assert.Equal(t, "granulation-line", c.Name)
	assert.Equal(t, 200*time.Millisecond, c.Scan.Period)
	assert.Equal(t, 1.5, c.Scan.OverrunFactor, "unset keys keep their defaults")
	assert.Equal(t, 500, c.Historian.CapacityPerTag)
	assert.Equal(t, "INFO", c.System.Logging.Level)
	assert.Equal(t, ":8080", c.API.Addr)

	require.Len(t, c.Units, 1)
	u := c.Units[0]
	require.Len(t, u.Loops, 1)
	assert.Equal(t, "TIC-101", u.Loops[0].Name)
	assert.Equal(t, pid.ModeAuto, u.Loops[0].InitialMode)
	assert.Equal(t, 60.0, u.Loops[0].InitialSetpoint)
	assert.Equal(t, 1.5, u.Devices[0].Params["gain"])
	require.NotNil(t, u.Tags[0].Limits.HighHigh)
	assert.Equal(t, 90.0, *u.Tags[0].Limits.HighHigh)
	assert.Len(t, u.Safety[0].Channels, 3)

	require.Len(t, c.Recipes, 1)
	assert.Equal(t, 5*time.Second, c.Recipes[0].Phases[0].Duration)
	assert.Equal(t, []byte(plantYAML), []byte(cfg.EmbeddedConfig))
}

func TestLoadConfig_EmptyDocumentUsesDefaults(t *testing.T) {
	cfg, err := config.LoadConfig("", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, config.NewConfig().Controller.Scan, cfg.Controller.Scan)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_UnknownKeyRejected(t *testing.T) {
	_, err := config.LoadConfig("", []byte("controller:\n  scan:\n    perod: 1s\n"), nil)
	require.Error(t, err)
	assert.True(t, exception.IsConfiguration(err))
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PHARMA_SCAN_PERIOD", "250ms")
	t.Setenv("PHARMA_API_ADDR", ":9090")
	t.Setenv("PHARMA_ALARMS_AUTO_CLEAR_ACKNOWLEDGED", "true")
	t.Setenv("PHARMA_AUDIT_CAPACITY", "42")
	t.Setenv("PHARMA_STORAGE_ARCHIVE_BASE_DIR", "/var/lib/dcs")

	cfg, err := config.LoadConfig("", []byte(plantYAML), nil)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Controller.Scan.Period)
	assert.Equal(t, ":9090", cfg.Controller.API.Addr)
	assert.True(t, cfg.Controller.Alarms.AutoClearAcknowledged)
	assert.Equal(t, 42, cfg.Controller.Audit.Capacity, "inline sections share the parent prefix")
	assert.Equal(t, "/var/lib/dcs", cfg.Controller.Storage["archive"].BaseDir)
}

func TestLoadConfig_BadOverride(t *testing.T) {
	t.Setenv("PHARMA_SCAN_PERIOD", "fast")
	_, err := config.LoadConfig("", nil, nil)
	assert.Error(t, err)
}

func TestLoadConfig_EnvFileAndPlaceholders(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "controller.env")
	require.NoError(t, os.WriteFile(envFile, []byte("DCS_TEST_INFLUX_TOKEN=s3cret\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("DCS_TEST_INFLUX_TOKEN")
	})

	doc := `
controller:
  influx:
    token: ${DCS_TEST_INFLUX_TOKEN}
    org: ${DCS_TEST_INFLUX_ORG:-pharma}
`
	cfg, err := config.LoadConfig(envFile, []byte(doc), nil)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Controller.Influx.Token)
	assert.Equal(t, "pharma", cfg.Controller.Influx.Org)
}

func TestOsEnvironmentExpander(t *testing.T) {
	t.Setenv("DCS_TEST_HOST", "plc-1")
	out, err := config.NewOsEnvironmentExpander().Expand([]byte("url: http://${DCS_TEST_HOST}:${DCS_TEST_PORT:-502} user: $DCS_TEST_UNSET"))
	require.NoError(t, err)
	assert.Equal(t, "url: http://plc-1:502 user: ", string(out))
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Controller.Units = []config.UnitConfig{
		{
			Name: "u1",
			Loops: []config.LoopConfig{
				{Config: pid.Config{Name: "L1", OutputMax: 100}, PV: "a", Output: "b"},
				{Config: pid.Config{Name: "L1", OutputMax: 100}, PV: "a", Output: "c"},
			},
		},
	}
	cfg.Controller.Scan.Period = -time.Second
	cfg.Controller.Redundancy.Enabled = true
	cfg.Controller.Redundancy.PeerURL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, exception.IsConfiguration(err))
	assert.True(t, errors.Is(err, exception.ErrInvalidConfig))
	msg := err.Error()
	assert.Contains(t, msg, `duplicate loop "L1"`)
	assert.Contains(t, msg, "Period")
	assert.Contains(t, msg, "PeerURL")
}

func TestValidate_CrossReferences(t *testing.T) {
	cfg, err := config.LoadConfig("", []byte(plantYAML), nil)
	require.NoError(t, err)

	u := &cfg.Controller.Units[0]
	u.Outputs[0].GatedBy = []string{"SIS-9"}
	u.Safety[0].Channels = u.Safety[0].Channels[:2]
	cfg.Controller.Audit.Archive.Enabled = true
	cfg.Controller.Audit.Archive.Storage = "missing"
	cfg.Controller.Recipes[0].Phases[1].Duration = 0

	err = cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown safety module "SIS-9"`)
	assert.Contains(t, msg, "2oo3 needs 3 channels, got 2")
	assert.Contains(t, msg, `unknown storage "missing"`)
	assert.Contains(t, msg, "needs a duration or a completion condition")
}
