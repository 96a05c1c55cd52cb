package mgmt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pablo12222/notes-manager/internal/tokencache"
)

const tokenCacheKey = "mgmt:token"

// Tokens are cached a minute short of their real expiry so an entry handed
// out near the end of its life still outlives the request using it.
const tokenExpirySlack = 60

// TokenProvider exchanges client credentials for a management-API token and
// keeps it cached until shortly before expiry. Concurrent refreshes collapse
// into a single exchange.
type TokenProvider struct {
	tokenURL     string
	clientID     string
	clientSecret string
	audience     string
	cache        tokencache.Cache
	http         *http.Client
	group        singleflight.Group
}

func NewTokenProvider(tokenURL, clientID, clientSecret, audience string, cache tokencache.Cache, timeout time.Duration) *TokenProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TokenProvider{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		audience:     audience,
		cache:        cache,
		http:         &http.Client{Timeout: timeout},
	}
}

func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	if token, ok, err := p.cache.Get(ctx, tokenCacheKey); err == nil && ok {
		return token, nil
	}

	value, err, _ := p.group.Do(tokenCacheKey, func() (any, error) {
		// A refresh that lost the race finds the winner's token here.
		if token, ok, err := p.cache.Get(ctx, tokenCacheKey); err == nil && ok {
			return token, nil
		}
		return p.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func (p *TokenProvider) refresh(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     p.clientID,
		"client_secret": p.clientSecret,
		"audience":      p.audience,
	})
	if err != nil {
		return "", err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := p.http.Do(request)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange: unexpected status %d", response.StatusCode)
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(response.Body).Decode(&grant); err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	if grant.AccessToken == "" {
		return "", fmt.Errorf("token exchange: empty access_token")
	}

	ttlSeconds := grant.ExpiresIn - tokenExpirySlack
	if ttlSeconds < tokenExpirySlack {
		ttlSeconds = tokenExpirySlack
	}
	if err := p.cache.Set(ctx, tokenCacheKey, grant.AccessToken, time.Duration(ttlSeconds)*time.Second); err != nil {
		// A cold cache just means the next call exchanges again.
		return grant.AccessToken, nil
	}
	return grant.AccessToken, nil
}
