package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator checks field constraints declared in validate tags, then the
// rules that span several sections.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _ := parseYAMLTag(field)
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// Validate performs a full validation of the provided Config struct.
func (v *Validator) Validate(cfg *Config) error {
	if err := v.validate.Struct(cfg); err != nil {
		return formatValidationErrors(err)
	}

	if err := v.validateStorage(cfg); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	if err := v.validateLedger(&cfg.Ledger); err != nil {
		return fmt.Errorf("ledger config: %w", err)
	}
	if err := v.validateAPI(cfg); err != nil {
		return fmt.Errorf("api config: %w", err)
	}
	if err := v.validateScheduler(&cfg.Scheduler); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}
	return nil
}

func (v *Validator) validateStorage(cfg *Config) error {
	switch cfg.Storage.Type {
	case "", "local":
		if cfg.Storage.Dir == "" {
			return errors.New("dir is required for local storage")
		}
	case "minio":
		if cfg.Storage.Minio.Endpoint == "" {
			return errors.New("minio endpoint is required")
		}
		if cfg.Storage.Minio.BucketName == "" {
			return errors.New("minio bucket is required")
		}
	}
	return nil
}

func (v *Validator) validateLedger(cfg *LedgerConfig) error {
	if cfg.Driver == "badger" && cfg.Path == "" {
		return errors.New("path is required for the badger store")
	}
	return nil
}

func (v *Validator) validateAPI(cfg *Config) error {
	if !cfg.API.Enabled {
		return nil
	}
	if err := validateListenAddress(cfg.API.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr: %w", err)
	}
	if cfg.API.MaxUploadBytes > 0 && cfg.API.MaxUploadBytes < cfg.Backup.MaxSnapshotBytes {
		return fmt.Errorf("max_upload_bytes (%d) is below backup max_snapshot_bytes (%d)",
			cfg.API.MaxUploadBytes, cfg.Backup.MaxSnapshotBytes)
	}
	return nil
}

func (v *Validator) validateScheduler(cfg *SchedulerConfig) error {
	if cfg.Enabled && cfg.SnapshotInterval <= 0 {
		return errors.New("snapshot_interval must be positive when the scheduler is enabled")
	}
	return nil
}

// validateListenAddress checks if a string is a valid network listen address.
func validateListenAddress(addr string) error {
	if addr == "" {
		return errors.New("address cannot be empty")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address format: %s", addr)
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return fmt.Errorf("invalid port: %s", addr)
	}
	return nil
}

// formatValidationErrors flattens validator errors into one message keyed
// by the yaml path of each field.
func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		path := fe.Namespace()
		if i := strings.Index(path, "."); i >= 0 {
			path = path[i+1:]
		}
		msg := fmt.Sprintf("%s failed %q", path, fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s failed %q (%s)", path, fe.Tag(), fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return errors.New(strings.Join(msgs, "; "))
}
