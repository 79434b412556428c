package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// EnvLoader overrides configuration fields from environment variables.
// Names are derived from yaml tags: Backup.RetentionDays under prefix PMS
// is read from PMS_BACKUP_RETENTION_DAYS.
type EnvLoader struct {
	prefix string
	lookup func(string) (string, bool)
}

// NewEnvLoader creates a new environment loader
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix: prefix,
		lookup: os.LookupEnv,
	}
}

// Load applies every set variable to config.
func (el *EnvLoader) Load(config *Config) error {
	return el.loadStruct(reflect.ValueOf(config).Elem(), el.prefix)
}

// loadStruct recursively loads a struct from environment variables
func (el *EnvLoader) loadStruct(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		name, inline := parseYAMLTag(fieldType)
		if name == "-" {
			continue
		}

		envName := prefix
		if !inline {
			envName = el.buildEnvName(prefix, name)
		}

		if field.Kind() == reflect.Struct {
			if err := el.loadStruct(field, envName); err != nil {
				return err
			}
			continue
		}
		if inline {
			continue
		}

		value, ok := el.lookup(envName)
		if !ok || value == "" {
			continue
		}

		var err error
		if field.Kind() == reflect.Slice {
			err = setSlice(field, value)
		} else {
			err = setScalar(field, value)
		}
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", envName, err)
		}
	}

	return nil
}

// parseYAMLTag returns the key a field is stored under and whether its
// fields are flattened into the parent.
func parseYAMLTag(field reflect.StructField) (string, bool) {
	tag := field.Tag.Get("yaml")
	name, opts, _ := strings.Cut(tag, ",")
	inline := false
	for _, opt := range strings.Split(opts, ",") {
		if opt == "inline" {
			inline = true
		}
	}
	if name == "" && field.Anonymous {
		inline = true
	}
	if name == "" {
		name = field.Name
	}
	return name, inline
}

func setScalar(field reflect.Value, value string) error {
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
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}

// setSlice splits a comma separated list.
func setSlice(field reflect.Value, value string) error {
	parts := strings.Split(value, ",")
	slice := reflect.MakeSlice(field.Type(), 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		elem := reflect.New(field.Type().Elem()).Elem()
		if err := setScalar(elem, part); err != nil {
			return err
		}
		slice = reflect.Append(slice, elem)
	}
	field.Set(slice)
	return nil
}

// buildEnvName builds environment variable name from prefix and field name
func (el *EnvLoader) buildEnvName(prefix, fieldName string) string {
	envName := strings.ToUpper(fieldName)
	envName = strings.ReplaceAll(envName, "-", "_")
	envName = strings.ReplaceAll(envName, ".", "_")

	if prefix != "" {
		return prefix + "_" + envName
	}
	return envName
}
