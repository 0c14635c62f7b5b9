package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/cruisecal/calendar-sync/internal/permission"
)

// CalendarScopes are the scopes requested for the Google calendar store.
var CalendarScopes = []string{
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/calendar.events",
}

// ErrNoToken is returned when an API call is attempted before consent was given.
var ErrNoToken = errors.New("no OAuth token stored, calendar access has not been granted")

// consentTimeout bounds how long the browser flow waits for the callback.
const consentTimeout = 5 * time.Minute

// NewGoogleOAuthConfig returns the OAuth configuration for a desktop client.
func NewGoogleOAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  "http://127.0.0.1:8080", // Will be updated dynamically by the consent flow
		Scopes:       CalendarScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}
}

// storedTokenSource reads the token from the store on first use, refreshes it
// through the OAuth config and saves every refreshed token back.
type storedTokenSource struct {
	ctx    context.Context
	config *oauth2.Config
	store  TokenStore

	mu        sync.Mutex
	source    oauth2.TokenSource
	lastToken *oauth2.Token
}

// Token implements oauth2.TokenSource.
func (s *storedTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source == nil {
		token, err := s.store.LoadToken()
		if err != nil {
			return nil, fmt.Errorf("failed to load token: %w", err)
		}
		if token == nil {
			return nil, ErrNoToken
		}
		s.source = oauth2.ReuseTokenSource(token, s.config.TokenSource(s.ctx, token))
		s.lastToken = token
	}

	token, err := s.source.Token()
	if err != nil {
		return nil, err
	}

	// Check if the token was refreshed by comparing access tokens
	if s.lastToken == nil || s.lastToken.AccessToken != token.AccessToken {
		if err := s.store.SaveToken(token); err != nil {
			return nil, fmt.Errorf("failed to save refreshed token: %w", err)
		}
		s.lastToken = token
	}

	return token, nil
}

// NewClient returns an HTTP client authorized with the stored token. The token
// is read lazily, so the client can be built before consent has been given;
// requests fail with ErrNoToken until then.
func NewClient(ctx context.Context, config *oauth2.Config, store TokenStore) *http.Client {
	return oauth2.NewClient(ctx, &storedTokenSource{ctx: ctx, config: config, store: store})
}

// GoogleAuthorizer maps the OAuth consent of the Google account onto the single
// combined calendar permission.
type GoogleAuthorizer struct {
	config *oauth2.Config
	store  TokenStore

	// Prompt shows the consent URL to the user. Defaults to printing it.
	Prompt func(authURL, redirectURL string)
}

// NewGoogleAuthorizer creates a GoogleAuthorizer.
func NewGoogleAuthorizer(config *oauth2.Config, store TokenStore) *GoogleAuthorizer {
	return &GoogleAuthorizer{config: config, store: store, Prompt: printConsentPrompt}
}

// AuthorizationStatus implements permission.CombinedAuthorizer.
func (a *GoogleAuthorizer) AuthorizationStatus(ctx context.Context) (permission.Status, error) {
	token, err := a.store.LoadToken()
	if err != nil {
		return permission.Unknown, fmt.Errorf("failed to load token: %w", err)
	}
	if token == nil {
		return permission.NotDetermined, nil
	}
	if !token.Valid() && token.RefreshToken == "" {
		// Expired with no way to refresh; a new consent is needed.
		return permission.Denied, nil
	}
	return permission.Granted, nil
}

// RequestPermissions implements permission.CombinedAuthorizer by running the
// browser consent flow and storing the resulting token.
func (a *GoogleAuthorizer) RequestPermissions(ctx context.Context) (permission.Status, error) {
	redirectURL, codeChan, errorChan, shutdown, err := startLocalServer()
	if err != nil {
		return permission.Unknown, err
	}
	defer shutdown()

	config := *a.config
	config.RedirectURL = redirectURL
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	a.Prompt(authURL, redirectURL)

	var code string
	select {
	case code = <-codeChan:
	case err := <-errorChan:
		return permission.Denied, fmt.Errorf("failed to receive authorization code: %w", err)
	case <-time.After(consentTimeout):
		return permission.Unknown, fmt.Errorf("authorization timeout: no response received within %v", consentTimeout)
	case <-ctx.Done():
		return permission.Unknown, ctx.Err()
	}

	token, err := config.Exchange(ctx, code)
	if err != nil {
		return permission.Denied, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if err := a.store.SaveToken(token); err != nil {
		return permission.Unknown, fmt.Errorf("failed to save token: %w", err)
	}
	return permission.Granted, nil
}

func printConsentPrompt(authURL, redirectURL string) {
	fmt.Printf("Starting local server on %s\n", redirectURL)
	if redirectURL != "http://127.0.0.1:8080" {
		fmt.Printf("Note: Port 8080 was unavailable. Make sure to add %s to your authorized redirect URIs in Google Cloud Console.\n", redirectURL)
	}
	fmt.Println("\nPlease visit the following URL to grant calendar access:")
	fmt.Println(authURL)
	fmt.Println("\nWaiting for authorization...")
}

// startLocalServer starts a local HTTP server to receive the OAuth callback.
// Uses port 8080 by default, or a random port if 8080 is unavailable.
func startLocalServer() (redirectURL string, codes <-chan string, errs <-chan error, shutdown func(), err error) {
	listener, err := net.Listen("tcp", "127.0.0.1:8080")
	if err != nil {
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return "", nil, nil, nil, fmt.Errorf("failed to start local server: %w", err)
		}
	}

	port := listener.Addr().(*net.TCPAddr).Port
	redirectURL = fmt.Sprintf("http://127.0.0.1:%d", port)

	codeChan := make(chan string, 1)
	errorChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if code := r.URL.Query().Get("code"); code != "" {
			fmt.Fprintf(w, "<html><body><h1>Calendar access granted!</h1><p>You can close this window.</p></body></html>")
			select {
			case codeChan <- code:
			default:
			}
			return
		}

		errMsg := r.URL.Query().Get("error")
		if errMsg == "" {
			errMsg = "no authorization code received"
		}
		fmt.Fprintf(w, "<html><body><h1>Authorization failed</h1><p>Error: %s</p></body></html>", errMsg)
		select {
		case errorChan <- fmt.Errorf("authorization error: %s", errMsg):
		default:
		}
	})

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  10 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case errorChan <- fmt.Errorf("server error: %w", err):
			default:
			}
		}
	}()

	shutdown = func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
	return redirectURL, codeChan, errorChan, shutdown, nil
}
