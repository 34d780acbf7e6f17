// Package auth supplies the credential boundary consumed by the transport.
// Credentials stay opaque to the rest of the library: the only thing ever
// asked of them is to decorate outgoing request headers.
package auth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

const APIKeyHeader string = "X-API-Key"

type Credentials interface {
	Apply(ctx context.Context, header http.Header) error
}

type apiKey string

// APIKey authenticates requests with an X-API-Key header, the scheme used
// by api.datacommons.org.
func APIKey(key string) Credentials {
	return apiKey(key)
}

func (k apiKey) Apply(_ context.Context, header http.Header) error {
	if k == "" {
		return fmt.Errorf("api key credentials configured with an empty key")
	}

	header.Set(APIKeyHeader, string(k))

	return nil
}

type tokenSource struct {
	source oauth2.TokenSource
}

// TokenSource authenticates requests with bearer tokens minted by an
// oauth2 token source, for self hosted instances behind an identity aware
// proxy.
func TokenSource(source oauth2.TokenSource) Credentials {
	return &tokenSource{source: source}
}

func (t *tokenSource) Apply(_ context.Context, header http.Header) error {
	token, err := t.source.Token()
	if err != nil {
		return fmt.Errorf("failed to retrieve access token: %w", err)
	}

	header.Set("Authorization", token.Type()+" "+token.AccessToken)

	return nil
}
