package main

import (
	"context"
	"fmt"

	"github.com/cruisecal/calendar-sync/internal/auth"
	"github.com/cruisecal/calendar-sync/internal/calendar"
	"github.com/cruisecal/calendar-sync/internal/config"
	"github.com/cruisecal/calendar-sync/internal/permission"
)

// platform bundles the calendar store of the configured platform with the
// permission flow that guards it.
type platform struct {
	store calendar.Store
	gate  permission.Gate
	close func() error
}

// Close releases platform resources such as the D-Bus connection.
func (p *platform) Close() error {
	if p.close == nil {
		return nil
	}
	return p.close()
}

func newPlatform(ctx context.Context, cfg *config.Config) (*platform, error) {
	switch cfg.Platform {
	case config.PlatformGoogle:
		clientID, clientSecret, err := config.LoadGoogleCredentials(cfg.GoogleCredentialsPath)
		if err != nil {
			return nil, err
		}
		oauthConfig := auth.NewGoogleOAuthConfig(clientID, clientSecret)
		tokenStore := auth.NewTokenFile(cfg.TokenPath, auth.CalendarScopes)

		httpClient := auth.NewClient(ctx, oauthConfig, tokenStore)
		httpClient.Timeout = cfg.APITimeout()
		store, err := calendar.NewGoogleStore(ctx, httpClient)
		if err != nil {
			return nil, err
		}
		authorizer := auth.NewGoogleAuthorizer(oauthConfig, tokenStore)
		return &platform{store: store, gate: permission.NewCombinedGate(authorizer)}, nil

	case config.PlatformApple:
		store, err := calendar.NewCalDAVStore(cfg.ServerURL, cfg.Username, cfg.Password, cfg.CalendarHome, cfg.APITimeout())
		if err != nil {
			return nil, err
		}
		return &platform{store: store, gate: permission.NewSplitGate(store)}, nil

	case config.PlatformEDS:
		store, err := calendar.NewEDSStore(ctx)
		if err != nil {
			return nil, err
		}
		return &platform{store: store, gate: permission.NewCombinedGate(store), close: store.Close}, nil
	}
	return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
}
