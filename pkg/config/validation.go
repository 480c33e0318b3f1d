package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the struct tags first, then the rules tags cannot express:
// partition suffixes must parse as DNs and be unique, badger stores need a
// path unless in memory, and sort gc durations must not be negative.
//
// Log levels are accepted in any case; ApplyDefaults uppercases them.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

func validateCustomRules(cfg *Config) error {
	if len(cfg.Directory.Partitions) == 0 {
		return fmt.Errorf("directory.partitions: at least one partition must be configured")
	}

	// Suffixes must parse and be unique once normalized
	suffixes := make(map[string]int)
	for i, p := range cfg.Directory.Partitions {
		dn, err := ldap.ParseDN(p.Suffix)
		if err != nil || len(dn.RDNs) == 0 {
			return fmt.Errorf("directory.partitions[%d]: invalid suffix %q", i, p.Suffix)
		}
		key := strings.ToLower(dn.String())
		if j, ok := suffixes[key]; ok {
			return fmt.Errorf("directory.partitions[%d]: duplicate suffix %q (already used by partitions[%d])", i, p.Suffix, j)
		}
		suffixes[key] = i

		if err := validateStore(p.Store); err != nil {
			return fmt.Errorf("directory.partitions[%d].store: %w", i, err)
		}
	}

	if cfg.Sort.GC.Interval < 0 || cfg.Sort.GC.MinAge < 0 {
		return fmt.Errorf("sort.gc: interval and min_age must not be negative")
	}

	return nil
}

// validateStore checks the type-specific options that tags cannot express.
func validateStore(cfg StoreConfig) error {
	if cfg.Type != "badger" {
		return nil
	}
	inMemory, _ := cfg.Badger["in_memory"].(bool)
	path, _ := cfg.Badger["path"].(string)
	if !inMemory && path == "" {
		return fmt.Errorf("badger: path is required unless in_memory is set")
	}
	return nil
}

// formatValidationError reports every failed field as
// "<namespace>: <tag>[=<param>] (value: <v>)", one per line.
func formatValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, e := range fieldErrs {
		rule := e.Tag()
		if e.Param() != "" {
			rule += "=" + e.Param()
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s (value: %v)", e.Namespace(), rule, e.Value()))
	}
	return errors.New(strings.Join(msgs, "\n"))
}
