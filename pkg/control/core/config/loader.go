package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/safety"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/tag"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

const moduleName = "config"

// EnvPrefix prefixes every environment override, e.g. PHARMA_SCAN_PERIOD=250ms.
const EnvPrefix = "PHARMA_"

var durationType = reflect.TypeOf(time.Duration(0))

var validate = validator.New()

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string              `name:"envFilePath" optional:"true"`
	Expander       EnvironmentExpander `optional:"true"`
}

// NewConfigProvider loads, validates and returns the configuration, and applies the log level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := LoadConfig(params.EnvFilePath, params.EmbeddedConfig, params.Expander)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.SetLogLevel(cfg.Controller.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Controller.System.Logging.Level)
	return cfg, nil
}

// LoadFile reads path and loads it with LoadConfig. The result is not validated.
func LoadFile(path, envFilePath string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, exception.Configuration(moduleName, err, "failed to read configuration file %s", path)
	}
	return LoadConfig(envFilePath, raw, nil)
}

// LoadConfig builds a Config from defaults, the .env file, the YAML document and PHARMA_*
// environment overrides, in that order. A nil expander uses the process environment.
func LoadConfig(envFilePath string, raw EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}
	if expander == nil {
		expander = NewOsEnvironmentExpander()
	}

	expanded, err := expander.Expand(raw)
	if err != nil {
		return nil, exception.Configuration(moduleName, err, "failed to expand environment placeholders")
	}

	cfg := NewConfig()
	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, exception.Configuration(moduleName, err, "failed to unmarshal configuration")
	}
	cfg.EmbeddedConfig = raw

	if err := loadStructFromEnv(reflect.ValueOf(&cfg.Controller).Elem(), EnvPrefix); err != nil {
		return nil, exception.Configuration(moduleName, err, "failed to load configuration from environment variables")
	}
	return cfg, nil
}

// Validate checks struct constraints and cross references. Every problem is reported.
func (c *Config) Validate() error {
	var errs *multierror.Error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = multierror.Append(errs, fmt.Errorf("%s: failed '%s' check", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = multierror.Append(errs, err)
		}
	}
	errs = multierror.Append(errs, c.Controller.validateUnits()...)
	for _, r := range c.Controller.Recipes {
		if err := r.Validate(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for name, s := range c.Controller.Storage {
		if s.Type == "local" && s.BaseDir == "" {
			errs = multierror.Append(errs, fmt.Errorf("storage %s: base_dir is required for local storage", name))
		}
		if s.Type == "gcs" && s.BucketName == "" {
			errs = multierror.Append(errs, fmt.Errorf("storage %s: bucket_name is required for gcs storage", name))
		}
	}
	for _, a := range []ArchiveConfig{c.Controller.Audit.Archive, c.Controller.Historian.Export} {
		if _, ok := c.Controller.Storage[a.Storage]; a.Enabled && !ok {
			errs = multierror.Append(errs, fmt.Errorf("archive refers to unknown storage %q", a.Storage))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return exception.NewControlError(moduleName, exception.KindConfiguration,
			fmt.Sprintf("configuration is invalid: %v", err), fmt.Errorf("%w: %w", exception.ErrInvalidConfig, err))
	}
	return nil
}

func (c ControllerConfig) validateUnits() []error {
	var errs []error
	units := map[string]bool{}
	loops := map[string]bool{}
	modules := map[string]bool{}
	for _, u := range c.Units {
		if units[u.Name] {
			errs = append(errs, fmt.Errorf("duplicate unit %q", u.Name))
		}
		units[u.Name] = true
		devices := map[string]bool{}
		for _, d := range u.Devices {
			if devices[d.Name] {
				errs = append(errs, fmt.Errorf("unit %s: duplicate device %q", u.Name, d.Name))
			}
			devices[d.Name] = true
		}
		for _, l := range u.Loops {
			if loops[l.Name] {
				errs = append(errs, fmt.Errorf("duplicate loop %q", l.Name))
			}
			loops[l.Name] = true
			if err := l.Config.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("unit %s: %w", u.Name, err))
			}
		}
		for _, s := range u.Safety {
			if modules[s.Name] {
				errs = append(errs, fmt.Errorf("duplicate safety module %q", s.Name))
			}
			modules[s.Name] = true
			if err := s.Config.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("unit %s: %w", u.Name, err))
				continue
			}
			arch, _ := safety.ParseArchitecture(string(s.Architecture))
			if want := arch.Channels(); len(s.Channels) != want {
				errs = append(errs, fmt.Errorf("safety module %s: %s needs %d channels, got %d",
					s.Name, arch, want, len(s.Channels)))
			}
			errs = append(errs, validateConditions("safety module "+s.Name, s.Channels)...)
		}
		for _, il := range u.Interlocks {
			errs = append(errs, validateConditions("interlock "+il.Name, []tag.Condition{il.When})...)
			for i, op := range il.Actions {
				if err := op.Validate(); err != nil {
					errs = append(errs, fmt.Errorf("interlock %s action %d: %w", il.Name, i, err))
				}
			}
		}
		for _, o := range u.Outputs {
			if !devices[o.Device] {
				errs = append(errs, fmt.Errorf("unit %s: output %s.%s refers to unknown device", u.Name, o.Device, o.Key))
			}
		}
	}
	// Gating may reference a module declared in a later unit, so check after the walk.
	for _, u := range c.Units {
		for _, o := range u.Outputs {
			for _, m := range o.GatedBy {
				if !modules[m] {
					errs = append(errs, fmt.Errorf("unit %s: output %s.%s gated by unknown safety module %q",
						u.Name, o.Device, o.Key, m))
				}
			}
		}
		for _, l := range u.Loops {
			if l.CascadeFrom != "" && l.CascadeFrom == l.Output {
				errs = append(errs, fmt.Errorf("loop %s cascades from its own output", l.Name))
			}
		}
	}
	return errs
}

func validateConditions(owner string, conds []tag.Condition) []error {
	var errs []error
	for _, c := range conds {
		if err := c.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", owner, err))
		}
	}
	return errs
}

// loadStructFromEnv overrides scalar fields from environment variables named after the yaml
// path, e.g. Scan.Period is read from PHARMA_SCAN_PERIOD. Inline structs share their parent's
// prefix; maps of structs are walked for the keys already present.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		name, opts, _ := strings.Cut(fieldType.Tag.Get("yaml"), ",")
		if name == "-" || !fieldType.IsExported() {
			continue
		}
		if opts == "inline" {
			if err := loadStructFromEnv(field, prefix); err != nil {
				return err
			}
			continue
		}
		if name == "" {
			continue
		}
		envVarName := strings.ToUpper(prefix + name)

		switch {
		case field.Kind() == reflect.Struct:
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		case field.Kind() == reflect.Map && field.Type().Elem().Kind() == reflect.Struct:
			if err := loadMapOfStructsFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadMapOfStructsFromEnv applies overrides to each existing entry, e.g.
// PHARMA_STORAGE_ARCHIVE_BASE_DIR sets Storage["archive"].BaseDir.
func loadMapOfStructsFromEnv(mapField reflect.Value, prefix string) error {
	if mapField.IsNil() {
		return nil
	}
	iter := mapField.MapRange()
	for iter.Next() {
		key := iter.Key()
		elem := reflect.New(mapField.Type().Elem()).Elem()
		elem.Set(iter.Value())
		if err := loadStructFromEnv(elem, prefix+strings.ToUpper(key.String())+"_"); err != nil {
			return err
		}
		mapField.SetMapIndex(key, elem)
	}
	return nil
}

// setField converts value to the field's kind. Durations accept time.ParseDuration syntax.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}
