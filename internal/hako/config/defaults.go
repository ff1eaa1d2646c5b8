// Package config holds hako's two configuration layers: operator defaults
// for `hako run` stored in the registry database, and process settings read
// from a TOML file and HAKO_* environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/bdobrica/Hako/internal/hako/store"
	"github.com/bdobrica/Hako/internal/hako/transport"
)

// Keys understood by the defaults store.
const (
	KeyTransport         = "run.transport"
	KeyPermissionProfile = "run.permission-profile"
	KeyPort              = "run.port"
)

var (
	// ErrNotFound is returned by Get when the requested key has no value.
	ErrNotFound = errors.New("config: key not found")
	// ErrUnknownKey is returned for keys outside Keys().
	ErrUnknownKey = errors.New("config: unknown key")
	// ErrInvalidValue is returned by Set when a value fails validation.
	ErrInvalidValue = errors.New("config: invalid value")
)

var validators = map[string]func(string) error{
	KeyTransport: func(v string) error {
		_, err := transport.ParseMode(v)
		return err
	},
	KeyPermissionProfile: func(v string) error {
		if v == "" {
			return errors.New("must not be empty")
		}
		return nil
	},
	KeyPort: func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%q is not a number", v)
		}
		if n < 1 || n > 65535 {
			return fmt.Errorf("%d out of range 1-65535", n)
		}
		return nil
	},
}

// Keys returns the supported keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(validators))
	for k := range validators {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Store is the read/write interface for run defaults. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get returns the value for key, or ErrNotFound when unset.
	Get(ctx context.Context, key string) (string, error)

	// Set validates and stores value under key.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an unset key is a no-op.
	Delete(ctx context.Context, key string) error

	// List returns every stored pair. The map is empty, not nil, when
	// nothing is set.
	List(ctx context.Context) (map[string]string, error)
}

type sqliteStore struct {
	db *store.Store
}

// New returns a Store backed by the registry database.
func New(db *store.Store) Store {
	return &sqliteStore{db: db}
}

func checkKey(key string) error {
	if _, ok := validators[key]; !ok {
		return fmt.Errorf("%w %q (valid: %v)", ErrUnknownKey, key, Keys())
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	v, err := s.db.GetSetting(ctx, key)
	if errors.Is(err, store.ErrSettingNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("config: get %q: %w", key, err)
	}
	return v, nil
}

func (s *sqliteStore) Set(ctx context.Context, key, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := validators[key](value); err != nil {
		return fmt.Errorf("%w for %s: %w", ErrInvalidValue, key, err)
	}
	if err := s.db.SetSetting(ctx, key, value); err != nil {
		return fmt.Errorf("config: set %q: %w", key, err)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := s.db.DeleteSetting(ctx, key); err != nil {
		return fmt.Errorf("config: delete %q: %w", key, err)
	}
	return nil
}

func (s *sqliteStore) List(ctx context.Context) (map[string]string, error) {
	m, err := s.db.ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("config: list: %w", err)
	}
	return m, nil
}

// RunDefaults are the stored defaults applied to `hako run` flags that were
// not given.
type RunDefaults struct {
	Transport         string
	PermissionProfile string
	Port              int
}

// LoadRunDefaults reads the run.* keys. Unset keys leave zero values; a
// stored port that no longer parses is ignored.
func LoadRunDefaults(ctx context.Context, s Store) (RunDefaults, error) {
	m, err := s.List(ctx)
	if err != nil {
		return RunDefaults{}, err
	}
	d := RunDefaults{
		Transport:         m[KeyTransport],
		PermissionProfile: m[KeyPermissionProfile],
	}
	if v, ok := m[KeyPort]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			d.Port = n
		}
	}
	return d, nil
}
