package config

import (
	"encoding/json"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"go.viam.com/depth360/logging"
)

// Read reads a JSON config file on top of the defaults and validates it.
func Read(path string) (*Config, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Global().Errorw("error closing config file", "path", path, "error", err)
		}
	}()
	cfg, err := FromReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %q", path)
	}
	return cfg, nil
}

// FromReader decodes a JSON config on top of the defaults and validates it.
func FromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "cannot parse config")
	}
	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return cfg, nil
}

// An AttributeMap is a loosely typed set of config overrides keyed by JSON field name.
type AttributeMap map[string]interface{}

// ParseAttributes turns key=value pairs into an AttributeMap. Dotted keys address nested
// sections, as in backbone.seed=3.
func ParseAttributes(pairs []string) (AttributeMap, error) {
	attrs := AttributeMap{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, errors.Errorf("expected key=value but got %q", pair)
		}
		parts := strings.Split(key, ".")
		section := map[string]interface{}(attrs)
		for _, part := range parts[:len(parts)-1] {
			next, ok := section[part].(map[string]interface{})
			if !ok {
				next = map[string]interface{}{}
				section[part] = next
			}
			section = next
		}
		section[parts[len(parts)-1]] = value
	}
	return attrs, nil
}

var levelType = reflect.TypeOf(logging.Level(0))

func levelDecodeHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != levelType || from.Kind() != reflect.String {
		return data, nil
	}
	s, ok := data.(string)
	if !ok {
		return data, nil
	}
	return logging.LevelFromString(s)
}

// Apply decodes attrs over c and validates the result. String values are converted to the field
// types, so command line overrides can be applied directly.
func (c *Config) Apply(attrs AttributeMap) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           c,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       levelDecodeHook,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]interface{}(attrs)); err != nil {
		return errors.Wrap(err, "cannot apply config overrides")
	}
	return c.Validate("")
}

// Schema returns the JSON schema of the config file.
func Schema() *jsonschema.Schema {
	return jsonschema.Reflect(&Config{})
}
