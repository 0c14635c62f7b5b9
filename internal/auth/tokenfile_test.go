package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestTokenFile_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cruisecal", "token.json")
	tokens := NewTokenFile(path, CalendarScopes)

	token := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour).Round(time.Second),
	}
	if err := tokens.SaveToken(token); err != nil {
		t.Fatalf("SaveToken() returned an error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Expected the token file to exist: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("Expected mode 0600, got %o", perm)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("Expected only the token file in its directory, got %d entries", len(entries))
	}

	loaded, err := tokens.LoadToken()
	if err != nil {
		t.Fatalf("LoadToken() returned an error: %v", err)
	}
	if loaded == nil || loaded.AccessToken != "access" || loaded.RefreshToken != "refresh" || !loaded.Expiry.Equal(token.Expiry) {
		t.Errorf("Unexpected token %+v", loaded)
	}

	// A second save replaces the first.
	token.AccessToken = "access-2"
	if err := tokens.SaveToken(token); err != nil {
		t.Fatalf("SaveToken() returned an error: %v", err)
	}
	if loaded, _ := tokens.LoadToken(); loaded == nil || loaded.AccessToken != "access-2" {
		t.Errorf("Expected the replaced token, got %+v", loaded)
	}
}

func TestTokenFile_Missing(t *testing.T) {
	tokens := NewTokenFile(filepath.Join(t.TempDir(), "token.json"), CalendarScopes)

	token, err := tokens.LoadToken()
	if err != nil {
		t.Fatalf("Expected no error for a missing file, got %v", err)
	}
	if token != nil {
		t.Errorf("Expected nil token, got %+v", token)
	}
}

func TestTokenFile_ScopesChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	old := NewTokenFile(path, CalendarScopes[:1])
	if err := old.SaveToken(&oauth2.Token{AccessToken: "access"}); err != nil {
		t.Fatalf("SaveToken() returned an error: %v", err)
	}

	token, err := NewTokenFile(path, CalendarScopes).LoadToken()
	if err != nil {
		t.Fatalf("LoadToken() returned an error: %v", err)
	}
	if token != nil {
		t.Errorf("Expected a grant for fewer scopes to be ignored, got %+v", token)
	}
}

func TestTokenFile_BareToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	bare := `{"access_token":"legacy","token_type":"Bearer","refresh_token":"r"}`
	if err := os.WriteFile(path, []byte(bare), 0600); err != nil {
		t.Fatal(err)
	}

	token, err := NewTokenFile(path, CalendarScopes).LoadToken()
	if err != nil {
		t.Fatalf("LoadToken() returned an error: %v", err)
	}
	if token == nil || token.AccessToken != "legacy" || token.RefreshToken != "r" {
		t.Errorf("Expected the bare token to load, got %+v", token)
	}
}

func TestTokenFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(path, []byte(`{"scopes": []}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewTokenFile(path, CalendarScopes).LoadToken(); err == nil {
		t.Error("Expected an error for a file without a token")
	}
}
