package profile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("profile not found")

const (
	DefaultSyncInterval       = 86400
	DefaultEpgRefreshInterval = 86400
	DefaultTimeout            = 10
)

// Registry holds the portal profiles defined as YAML files in one directory.
type Registry struct {
	profilesDir string
	cache       map[string]*Profile
	mu          sync.RWMutex
}

func NewRegistry(profilesDir string) *Registry {
	return &Registry{
		profilesDir: profilesDir,
		cache:       make(map[string]*Profile),
	}
}

func (r *Registry) Run() error {
	if _, err := os.Stat(r.profilesDir); os.IsNotExist(err) {
		slog.Warn("Profiles directory does not exist", "dir", r.profilesDir)
		return nil
	}

	files, err := filepath.Glob(filepath.Join(r.profilesDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		id := strings.TrimSuffix(filepath.Base(file), ".yml")

		p, err := r.LoadProfile(id)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Profile loaded", "profile", id, "enabled", p.Settings.Enabled, "sync_interval", p.Settings.SyncInterval)
	}

	return nil
}

func (r *Registry) LoadProfile(id string) (*Profile, error) {
	file := filepath.Join(r.profilesDir, id+".yml")
	p, err := parseProfile(file)
	if err != nil {
		return nil, err
	}

	p.ID = id
	if p.Name == "" {
		p.Name = id
	}

	if err := validateProfile(p); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", file, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[id] = p

	return copyProfile(p), nil
}

func (r *Registry) GetProfile(id string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.cache[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copyProfile(p), nil
}

// GetProfiles returns all profiles ordered by id.
func (r *Registry) GetProfiles() []*Profile {
	return r.collect(func(*Profile) bool { return true })
}

func (r *Registry) GetEnabledProfiles() []*Profile {
	return r.collect(func(p *Profile) bool { return p.Settings.Enabled })
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func (r *Registry) collect(keep func(*Profile) bool) []*Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profiles := make([]*Profile, 0, len(r.cache))
	for _, p := range r.cache {
		if keep(p) {
			profiles = append(profiles, copyProfile(p))
		}
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })
	return profiles
}

func parseProfile(file string) (*Profile, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	p := Profile{Settings: Settings{Enabled: true}}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if p.Settings.SyncInterval == 0 {
		p.Settings.SyncInterval = DefaultSyncInterval
	}
	if p.Settings.EpgRefreshInterval == 0 {
		p.Settings.EpgRefreshInterval = DefaultEpgRefreshInterval
	}
	if p.Settings.Timeout == 0 {
		p.Settings.Timeout = DefaultTimeout
	}

	return &p, nil
}

func validateProfile(p *Profile) error {
	if p == nil {
		return fmt.Errorf("profile is nil")
	}

	requiredFields := map[string]string{
		"host":     strings.TrimSpace(p.Host),
		"username": p.Username,
		"password": p.Password,
	}

	for fieldName, fieldValue := range requiredFields {
		if fieldValue == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
	}

	nonNegativeFields := map[string]int{
		"sync interval":        p.Settings.SyncInterval,
		"epg refresh interval": p.Settings.EpgRefreshInterval,
		"timeout":              p.Settings.Timeout,
	}

	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	return nil
}

func copyProfile(p *Profile) *Profile {
	c := *p
	return &c
}
