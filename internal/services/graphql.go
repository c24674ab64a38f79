package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	graphql "github.com/hasura/go-graphql-client"
	"golang.org/x/oauth2"
)

// newGraphQLClient returns a client for endpoint. A non-empty token is sent as
// an OAuth2 bearer token; base supplies the transport and timeout.
func newGraphQLClient(ctx context.Context, endpoint string, base *http.Client, token string) *graphql.Client {
	httpClient := base
	if token != "" {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
		httpClient.Timeout = base.Timeout
	}
	return graphql.NewClient(endpoint, httpClient)
}

// execGraphQL runs a hand-built query and decodes its data into out.
func execGraphQL(ctx context.Context, client *graphql.Client, query string, variables map[string]any, out any) error {
	data, err := client.ExecRaw(ctx, query, variables)
	if err != nil {
		return err
	}
	if len(data) == 0 || string(data) == "null" {
		return errors.New("graphql response has no data")
	}
	return json.Unmarshal(data, out)
}
