package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

// Scopes requested for the installed-app flow.
var Scopes = []string{calendar.CalendarEventsScope, calendar.CalendarReadonlyScope}

// PromptFunc shows authURL to the user and returns the code they paste back.
type PromptFunc func(authURL string) (string, error)

// HTTPClient returns an authorized client for the OAuth client in
// credentialsFile. The token is cached in tokenFile; when it is missing
// prompt runs the consent flow once.
func HTTPClient(ctx context.Context, credentialsFile, tokenFile string, prompt PromptFunc) (*http.Client, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading Google client credentials: %w", err)
	}
	conf, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing Google client credentials: %w", err)
	}

	tok, err := loadToken(tokenFile)
	if err != nil {
		if prompt == nil {
			return nil, fmt.Errorf("no cached Google token at %s: %w", tokenFile, err)
		}
		code, perr := prompt(conf.AuthCodeURL("calsync", oauth2.AccessTypeOffline))
		if perr != nil {
			return nil, perr
		}
		tok, err = conf.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("exchanging Google authorization code: %w", err)
		}
		if err := saveToken(tokenFile, tok); err != nil {
			return nil, err
		}
	}
	return conf.Client(ctx, tok), nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, errors.New("token file holds no token")
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
