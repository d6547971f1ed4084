package unit

import "context"

// Device is the read side of a piece of field equipment. Each diagnostic key becomes the
// tag "<unit>.<device>.<key>".
type Device interface {
	Name() string
	ReadDiagnostics(ctx context.Context) (map[string]float64, error)
}

// OutputDevice is a Device that also accepts commanded values keyed like its diagnostics.
type OutputDevice interface {
	Device
	ApplyOutputs(ctx context.Context, values map[string]float64) error
}

// OutputBinding routes a tag value to an output device key. When any of the gating safety
// modules is tripped, SafeValue is written instead.
type OutputBinding struct {
	Device    string   `yaml:"device" validate:"required"`
	Key       string   `yaml:"key" validate:"required"`
	SourceTag string   `yaml:"source_tag" validate:"required"`
	GatedBy   []string `yaml:"gated_by"`
	SafeValue float64  `yaml:"safe_value"`
}
