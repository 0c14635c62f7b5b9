package auth

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// TokenStore persists the Google grant between runs.
type TokenStore interface {
	SaveToken(token *oauth2.Token) error
	LoadToken() (*oauth2.Token, error)
}

// grant is the on-disk form of a stored token together with the scopes it
// was issued for.
type grant struct {
	Token  *oauth2.Token `json:"token"`
	Scopes []string      `json:"scopes,omitempty"`
}

// TokenFile is a TokenStore backed by a JSON file. A stored grant that does
// not cover Scopes is treated as missing, so the consent flow runs again.
type TokenFile struct {
	Path   string
	Scopes []string
}

// NewTokenFile returns a TokenFile at path for grants covering scopes.
func NewTokenFile(path string, scopes []string) *TokenFile {
	return &TokenFile{Path: path, Scopes: scopes}
}

// SaveToken replaces the stored grant. The new file is written in the same
// directory and renamed over the old one.
func (f *TokenFile) SaveToken(token *oauth2.Token) error {
	data, err := json.MarshalIndent(grant{Token: token, Scopes: f.Scopes}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	// CreateTemp already uses 0600
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// LoadToken returns the stored token, or nil when there is none or it was
// granted for fewer scopes than required. Files holding a bare token, as
// written by earlier versions, are accepted as they are.
func (f *TokenFile) LoadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var stored grant
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode token file: %w", err)
	}
	if stored.Token == nil {
		var bare oauth2.Token
		if err := json.Unmarshal(data, &bare); err != nil || bare.AccessToken == "" {
			return nil, fmt.Errorf("token file %s holds no token", f.Path)
		}
		return &bare, nil
	}

	if missing := missingScopes(stored.Scopes, f.Scopes); len(missing) > 0 {
		log.Printf("Warning: stored Google grant lacks %v, calendar access must be granted again", missing)
		return nil, nil
	}
	return stored.Token, nil
}

func missingScopes(granted, required []string) []string {
	have := make(map[string]bool, len(granted))
	for _, scope := range granted {
		have[scope] = true
	}
	var missing []string
	for _, scope := range required {
		if !have[scope] {
			missing = append(missing, scope)
		}
	}
	return missing
}
