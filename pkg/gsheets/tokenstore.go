package gsheets

import (
	"context"
	"fmt"
	"strings"
)

const (
	apiKeyCell      = "A1"
	accessTokenCell = "C1"
)

type BrokerCredentials struct {
	APIKey      string
	APISecret   string
	AccessToken string
}

// TokenStore keeps the broker credentials in the first row of a worksheet.
type TokenStore struct {
	tab *Tab
}

func NewTokenStore(tab *Tab) *TokenStore {
	return &TokenStore{tab: tab}
}

func (s *TokenStore) Load(ctx context.Context) (*BrokerCredentials, error) {
	rows, err := s.tab.FetchRows(ctx, apiKeyCell+":"+accessTokenCell)
	if err != nil {
		return nil, fmt.Errorf("failed to read token store: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("token store %s is empty", s.tab.Name)
	}

	cell := func(i int) string {
		if i >= len(rows[0]) {
			return ""
		}
		return strings.TrimSpace(fmt.Sprintf("%v", rows[0][i]))
	}

	creds := &BrokerCredentials{
		APIKey:      cell(0),
		APISecret:   cell(1),
		AccessToken: cell(2),
	}
	if creds.APIKey == "" || creds.AccessToken == "" {
		return nil, fmt.Errorf("token store %s is missing the api key or access token", s.tab.Name)
	}

	return creds, nil
}

func (s *TokenStore) SaveAccessToken(ctx context.Context, token string) error {
	return s.tab.UpdateCell(ctx, accessTokenCell, token)
}
