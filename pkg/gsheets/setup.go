package gsheets

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const spreadsheetsScope = "https://www.googleapis.com/auth/spreadsheets"

// DecodeCredentials accepts the service account key either as raw JSON or base64 encoded.
func DecodeCredentials(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("service account credentials are empty")
	}

	if json.Valid([]byte(raw)) {
		return []byte(raw), nil
	}

	credBytes, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("credentials are neither JSON nor base64: %w", err)
	}
	if !json.Valid(credBytes) {
		return nil, fmt.Errorf("decoded credentials are not valid JSON")
	}

	return credBytes, nil
}

// NewService authenticates with a service account key and returns a Sheets client.
func NewService(ctx context.Context, credentials string) (*sheets.Service, error) {
	credBytes, err := DecodeCredentials(credentials)
	if err != nil {
		return nil, err
	}

	config, err := google.JWTConfigFromJSON(credBytes, spreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to get config from json: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return srv, nil
}
