// Package settings manages persistent user settings for the lnmt CLIs.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Settings holds persistent user preferences. The file also carries the
// session token saved by `authctl login`, so it is written 0600.
type Settings struct {
	// Server is the daemon base URL used when --server is not specified
	Server string `json:"server,omitempty"`

	// Token is the bearer token from the last successful login
	Token string `json:"token,omitempty"`

	// Username is the account the token belongs to
	Username string `json:"username,omitempty"`

	// Format is the default output format (json or table)
	Format string `json:"format,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "lnmt_settings.json"
	}
	return filepath.Join(home, ".lnmt", "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty settings if file doesn't exist
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}

	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// GetServer returns the server URL (with fallback)
func (s *Settings) GetServer() string {
	if s.Server != "" {
		return s.Server
	}
	return "http://127.0.0.1:8487"
}

// GetFormat returns the output format (with fallback)
func (s *Settings) GetFormat() string {
	if s.Format != "" {
		return s.Format
	}
	return "table"
}

// SetSession stores the credentials from a successful login
func (s *Settings) SetSession(username, token string) {
	s.Username = username
	s.Token = token
}

// ClearSession forgets the saved token
func (s *Settings) ClearSession() {
	s.Username = ""
	s.Token = ""
}
