// Package config resolves tenant credentials (keyring profiles or
// environment) and the engine settings file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
	"github.com/joho/godotenv"
)

const (
	defaultProfile    = "default"
	profilePrefix     = "profile:"
	profileIndexKey   = "profiles_index"
	currentProfileKey = "current_profile"
)

// Profile holds one tenant's connection details.
type Profile struct {
	BaseURL    string `json:"base_url"`
	APIToken   string `json:"api_token"`
	TenantID   string `json:"tenant_id"`
	CableURL   string `json:"cable_url,omitempty"`
	OperatorID string `json:"operator_id,omitempty"`
}

// Validate checks the required fields.
func (p Profile) Validate() error {
	var missing []string
	if strings.TrimSpace(p.BaseURL) == "" {
		missing = append(missing, "base URL")
	}
	if strings.TrimSpace(p.APIToken) == "" {
		missing = append(missing, "API token")
	}
	if strings.TrimSpace(p.TenantID) == "" {
		missing = append(missing, "tenant id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("profile incomplete: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// ErrNotConfigured is returned when no profile is stored and the
// environment does not provide one.
var ErrNotConfigured = errors.New("convo not configured - run 'convo auth login' first")

// LoadDotEnv loads .env from the working directory. Variables already set
// in the environment win.
func LoadDotEnv() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	_ = godotenv.Load(".env")
}

// profileFromEnv reports ok=false when CONVO_BASE_URL is unset.
func profileFromEnv() (Profile, bool, error) {
	baseURL := strings.TrimSpace(os.Getenv("CONVO_BASE_URL"))
	if baseURL == "" {
		return Profile{}, false, nil
	}
	p := Profile{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		APIToken:   strings.TrimSpace(os.Getenv("CONVO_API_TOKEN")),
		TenantID:   strings.TrimSpace(os.Getenv("CONVO_TENANT_ID")),
		CableURL:   strings.TrimSpace(os.Getenv("CONVO_CABLE_URL")),
		OperatorID: strings.TrimSpace(os.Getenv("CONVO_OPERATOR_ID")),
	}
	if p.APIToken == "" || p.TenantID == "" {
		return Profile{}, true, errors.New("environment variables CONVO_BASE_URL, CONVO_API_TOKEN, and CONVO_TENANT_ID must all be set")
	}
	return p, true, nil
}

// Resolve returns the profile to use. Precedence: environment, the named
// profile, CONVO_PROFILE, then the current keyring profile.
func Resolve(name string) (Profile, error) {
	if p, ok, err := profileFromEnv(); ok {
		return p, err
	}
	if name = strings.TrimSpace(name); name != "" {
		return LoadProfile(name)
	}
	if env := strings.TrimSpace(os.Getenv("CONVO_PROFILE")); env != "" {
		return LoadProfile(env)
	}
	current, err := CurrentProfile()
	if err != nil {
		return Profile{}, err
	}
	return LoadProfile(current)
}

func profileKey(name string) string {
	if name == "" {
		name = defaultProfile
	}
	return profilePrefix + name
}

func loadProfileIndex(ring keyring.Keyring) ([]string, error) {
	item, err := ring.Get(profileIndexKey)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to get profile index: %w", err)
	}
	var profiles []string
	if err := json.Unmarshal(item.Data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile index: %w", err)
	}
	return profiles, nil
}

func saveProfileIndex(ring keyring.Keyring, profiles []string) error {
	data, err := json.Marshal(profiles)
	if err != nil {
		return fmt.Errorf("failed to marshal profile index: %w", err)
	}
	return ring.Set(keyring.Item{Key: profileIndexKey, Data: data})
}

func normalizeProfiles(profiles []string) []string {
	seen := make(map[string]struct{}, len(profiles))
	var out []string
	for _, p := range profiles {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// SaveProfile stores a profile, adds it to the index and makes it current.
func SaveProfile(name string, p Profile) error {
	if name == "" {
		name = defaultProfile
	}
	if err := p.Validate(); err != nil {
		return err
	}
	p.BaseURL = strings.TrimSuffix(p.BaseURL, "/")

	ring, err := openKeyring(keyringConfig())
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := ring.Set(keyring.Item{Key: profileKey(name), Data: data}); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	profiles, err := loadProfileIndex(ring)
	if err != nil {
		return err
	}
	if err := saveProfileIndex(ring, normalizeProfiles(append(profiles, name))); err != nil {
		return err
	}
	return setCurrent(ring, name)
}

// LoadProfile reads a named profile from the keyring.
func LoadProfile(name string) (Profile, error) {
	ring, err := openKeyring(keyringConfig())
	if err != nil {
		return Profile{}, fmt.Errorf("failed to open keyring: %w", err)
	}
	item, err := ring.Get(profileKey(name))
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return Profile{}, ErrNotConfigured
		}
		return Profile{}, fmt.Errorf("failed to get profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(item.Data, &p); err != nil {
		return Profile{}, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return p, nil
}

// DeleteProfile removes a profile. When it was current, the first remaining
// profile becomes current.
func DeleteProfile(name string) error {
	if name == "" {
		name = defaultProfile
	}
	ring, err := openKeyring(keyringConfig())
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}
	if err := ring.Remove(profileKey(name)); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("failed to remove profile: %w", err)
	}

	profiles, err := loadProfileIndex(ring)
	if err != nil {
		return err
	}
	var remaining []string
	for _, p := range profiles {
		if p != name {
			remaining = append(remaining, p)
		}
	}
	if err := saveProfileIndex(ring, remaining); err != nil {
		return err
	}

	if current, err := currentFrom(ring); err == nil && current == name {
		next := defaultProfile
		if len(remaining) > 0 {
			next = remaining[0]
		}
		_ = setCurrent(ring, next)
	}
	return nil
}

// ListProfiles returns the stored profile names.
func ListProfiles() ([]string, error) {
	ring, err := openKeyring(keyringConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return loadProfileIndex(ring)
}

// CurrentProfile returns the active profile name.
func CurrentProfile() (string, error) {
	ring, err := openKeyring(keyringConfig())
	if err != nil {
		return "", fmt.Errorf("failed to open keyring: %w", err)
	}
	return currentFrom(ring)
}

// SetCurrentProfile switches the active profile.
func SetCurrentProfile(name string) error {
	ring, err := openKeyring(keyringConfig())
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}
	return setCurrent(ring, name)
}

func currentFrom(ring keyring.Keyring) (string, error) {
	item, err := ring.Get(currentProfileKey)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return defaultProfile, nil
		}
		return "", fmt.Errorf("failed to get current profile: %w", err)
	}
	return string(item.Data), nil
}

func setCurrent(ring keyring.Keyring, name string) error {
	if name == "" {
		name = defaultProfile
	}
	return ring.Set(keyring.Item{Key: currentProfileKey, Data: []byte(name)})
}
