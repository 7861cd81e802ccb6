package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/stplan/sheetsweep/internal/log"
	"github.com/stplan/sheetsweep/internal/model"
	"github.com/stplan/sheetsweep/internal/storage"
)

// ServiceConfig is the configuration of the settings service.
type ServiceConfig struct {
	Repository storage.SettingRepository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "settings.Service"})
	return nil
}

// Service reads and writes the global settings store with a small in-process
// cache in front, so the hot sweep path does not hit the database for every
// lookup.
type Service struct {
	repo   storage.SettingRepository
	logger log.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// NewService creates a new settings service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
		cache:  map[string]string{},
	}, nil
}

// Get returns the raw value of a setting, or model.ErrNotFound when the key is
// not stored.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	value, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return value, nil
	}

	setting, err := s.repo.GetSetting(ctx, key)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.cache[key] = setting.Value
	s.mu.Unlock()

	return setting.Value, nil
}

// GetDefault returns the value of a setting, or the fallback when the key is
// not stored.
func (s *Service) GetDefault(ctx context.Context, key, fallback string) (string, error) {
	value, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return fallback, nil
		}
		return "", err
	}
	return value, nil
}

// GetInt returns the value of a setting parsed as an integer, or the fallback
// when the key is not stored.
func (s *Service) GetInt(ctx context.Context, key string, fallback int) (int, error) {
	value, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return fallback, nil
		}
		return 0, err
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("setting %s is not an integer (%q): %w", key, value, model.ErrNotValid)
	}
	return n, nil
}

// GetSeconds returns the value of a setting interpreted as a number of
// seconds, or the fallback when the key is not stored.
func (s *Service) GetSeconds(ctx context.Context, key string, fallback time.Duration) (time.Duration, error) {
	n, err := s.GetInt(ctx, key, int(fallback/time.Second))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

// GetStringList returns the value of a setting parsed as a JSON string array,
// or the fallback when the key is not stored.
func (s *Service) GetStringList(ctx context.Context, key string, fallback []string) ([]string, error) {
	value, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return fallback, nil
		}
		return nil, err
	}

	var list []string
	if err := json.Unmarshal([]byte(value), &list); err != nil {
		return nil, fmt.Errorf("setting %s is not a string list (%q): %w", key, value, model.ErrNotValid)
	}
	return list, nil
}

// List returns all stored settings.
func (s *Service) List(ctx context.Context) ([]model.Setting, error) {
	return s.repo.ListSettings(ctx)
}

// Set writes a setting through to the store and updates the cache.
func (s *Service) Set(ctx context.Context, setting model.Setting) error {
	if setting.Key == "" {
		return fmt.Errorf("setting key is required: %w", model.ErrNotValid)
	}

	if err := s.repo.SetSetting(ctx, setting); err != nil {
		return fmt.Errorf("could not store setting: %w", err)
	}

	s.mu.Lock()
	s.cache[setting.Key] = setting.Value
	s.mu.Unlock()

	s.logger.WithCtxValues(ctx).Infof("Setting %s updated", setting.Key)
	return nil
}

// Delete removes a setting from the store and the cache.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.repo.DeleteSetting(ctx, key); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()

	return nil
}

// Refresh drops the cache so the next lookups hit the store again.
func (s *Service) Refresh() {
	s.mu.Lock()
	s.cache = map[string]string{}
	s.mu.Unlock()
}
