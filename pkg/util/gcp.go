package util

import (
	"context"
	"fmt"
	"net/http"

	"gocloud.dev/gcp"
)

// NewGCPHTTPClient returns an HTTP client authorized with the application
// default credentials. Tokens are refreshed by the client itself. Callers
// bound each request with its context.
func NewGCPHTTPClient(ctx context.Context) (*http.Client, error) {
	creds, err := gcp.DefaultCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("default credentials: %w", err)
	}

	client, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
	if err != nil {
		return nil, err
	}
	return &client.Client, nil
}
