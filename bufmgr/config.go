package bufmgr

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"sigs.k8s.io/yaml"
)

// Duration is a time.Duration that reads and writes as a Go duration string such as "1500ms"
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	err := json.Unmarshal(data, &raw)
	if err != nil {
		return errors.Wrap(err, "invalid duration")
	}

	switch value := raw.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return errors.Wrapf(err, "invalid duration %q", value)
		}
		*d = Duration(parsed)
		return nil
	default:
		return errors.Newf("invalid duration %s", string(data))
	}
}

func (p CachePick) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *CachePick) UnmarshalJSON(data []byte) error {
	var name string
	err := json.Unmarshal(data, &name)
	if err != nil {
		return errors.Wrap(err, "cache pick policies are strings")
	}

	for pick, pickName := range cachePickNames {
		if pickName == name {
			*p = pick
			return nil
		}
	}

	return errors.Newf("unknown cache pick policy %q", name)
}

// Config is the serialized form of CreateOptions
type Config struct {
	ExternallySynchronized bool `json:"externallySynchronized,omitempty"`
	DisableReuse           bool `json:"disableReuse,omitempty"`
	NoHardware             bool `json:"noHardware,omitempty"`

	BatchSize        int       `json:"batchSize,omitempty"`
	MaxCacheSize     int       `json:"maxCacheSize,omitempty"`
	MappingCacheSize int       `json:"mappingCacheSize,omitempty"`
	UnlimitedReuse   bool      `json:"unlimitedReuse,omitempty"`
	CacheGracePeriod Duration  `json:"cacheGracePeriod,omitempty"`
	RenderReuse      CachePick `json:"renderReuse,omitempty"`
	UploadReuse      CachePick `json:"uploadReuse,omitempty"`

	ApertureSize      uint64  `json:"apertureSize,omitempty"`
	ApertureThreshold float64 `json:"apertureThreshold,omitempty"`
}

// LoadConfig parses a YAML or JSON manager configuration
func LoadConfig(data []byte) (*Config, error) {
	config := &Config{}
	err := yaml.UnmarshalStrict(data, config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse the buffer manager configuration")
	}

	return config, nil
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "failed to render the buffer manager configuration")
	}
	return data, nil
}

// CreateOptions converts the configuration to the options New accepts
func (c *Config) CreateOptions() CreateOptions {
	var flags CreateFlags
	if c.ExternallySynchronized {
		flags |= CreateExternallySynchronized
	}
	if c.DisableReuse {
		flags |= CreateDisableReuse
	}
	if c.NoHardware {
		flags |= CreateNoHardware
	}

	return CreateOptions{
		Flags:             flags,
		BatchSize:         c.BatchSize,
		MaxCacheSize:      c.MaxCacheSize,
		MappingCacheSize:  c.MappingCacheSize,
		UnlimitedReuse:    c.UnlimitedReuse,
		CacheGracePeriod:  time.Duration(c.CacheGracePeriod),
		RenderReuse:       c.RenderReuse,
		UploadReuse:       c.UploadReuse,
		ApertureSize:      c.ApertureSize,
		ApertureThreshold: c.ApertureThreshold,
	}
}
