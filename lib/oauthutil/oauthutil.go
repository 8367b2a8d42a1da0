// Package oauthutil provides OAuth utilities.
package oauthutil

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/fserrors"
	"github.com/rclone/cloudrepo/fs/fshttp"
	"golang.org/x/oauth2"
)

// Config keys shared by the OAuth backends
const (
	ConfigToken        = "token"
	ConfigClientID     = "client_id"
	ConfigClientSecret = "client_secret"
	ConfigAuthURL      = "auth_url"
	ConfigTokenURL     = "token_url"
)

// SharedOptions are shared between backends using OAuth
var SharedOptions = []fs.Option{{
	Name: ConfigClientID,
	Help: "OAuth Client Id.\n\nLeave blank normally.",
}, {
	Name: ConfigClientSecret,
	Help: "OAuth Client Secret.\n\nLeave blank normally.",
}, {
	Name:     ConfigToken,
	Help:     "OAuth Access Token as a JSON blob.",
	Required: true,
}, {
	Name: ConfigAuthURL,
	Help: "Auth server URL.\n\nLeave blank to use the provider defaults.",
}, {
	Name: ConfigTokenURL,
	Help: "Token server url.\n\nLeave blank to use the provider defaults.",
}}

// SaveFunc persists a refreshed token of cloud
type SaveFunc func(cloud *fs.Cloud, token string) error

type saverKey struct{}

// WithSaver returns a context whose OAuth clients save refreshed
// tokens with save
//
// The token held in the cloud config is never changed as it is part
// of the identity of the cloud.
func WithSaver(ctx context.Context, save SaveFunc) context.Context {
	return context.WithValue(ctx, saverKey{}, save)
}

func getSaver(ctx context.Context) SaveFunc {
	save, _ := ctx.Value(saverKey{}).(SaveFunc)
	return save
}

// GetToken returns the token saved in the config of cloud
func GetToken(cloud *fs.Cloud) (*oauth2.Token, error) {
	tokenString, ok := cloud.Config.Get(ConfigToken)
	if !ok || tokenString == "" {
		return nil, fserrors.Kinded(fserrors.WrongCredentials, errors.Errorf("empty token found - please set %q for %q", ConfigToken, cloud))
	}
	token := new(oauth2.Token)
	err := json.Unmarshal([]byte(tokenString), token)
	if err != nil {
		return nil, fserrors.Kinded(fserrors.WrongCredentials, errors.Wrap(err, "couldn't decode token"))
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, fserrors.Kinded(fserrors.WrongCredentials, errors.Errorf("token for %q holds no access or refresh token", cloud))
	}
	return token, nil
}

// TokenSource refreshes the token of a cloud, saving the new ones
type TokenSource struct {
	mu          sync.Mutex
	cloud       *fs.Cloud
	tokenSource oauth2.TokenSource
	token       *oauth2.Token
	config      *oauth2.Config
	ctx         context.Context
	save        SaveFunc
}

type retrieveErrResponse struct {
	Error string `json:"error"`
}

// If err is nil or an error other than fatal OAuth errors, returns err itself.
// Otherwise returns a WrongCredentials error.
func maybeWrapOAuthError(err error, cloud *fs.Cloud) (newErr error) {
	newErr = err
	rErr, ok := err.(*oauth2.RetrieveError)
	if !ok || rErr.Response == nil {
		return
	}
	if rErr.Response.StatusCode == 400 || rErr.Response.StatusCode == 401 {
		fs.Debugf(cloud, "got fatal oauth error: %v", rErr)
		var resp retrieveErrResponse
		if err = json.Unmarshal(rErr.Body, &resp); err != nil {
			return fserrors.Kinded(fserrors.WrongCredentials, errors.Wrap(rErr, "can't decode error info - try getting a new token"))
		}
		var suggestion string
		switch resp.Error {
		case "invalid_client", "unauthorized_client", "unsupported_grant_type", "invalid_scope":
			suggestion = "if you're using your own client id/secret, make sure they're properly set up"
		default:
			suggestion = "maybe token expired? - try getting a new token"
		}
		newErr = fserrors.Kinded(fserrors.WrongCredentials, errors.Errorf("%s: %s", resp.Error, suggestion))
	}
	return
}

// Token returns a token or an error.
// Token must be safe for concurrent use by multiple goroutines.
// The returned Token must not be modified.
//
// This saves the token if it has changed
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	var (
		token *oauth2.Token
		err   error
	)
	const maxTries = 5

	if !ts.token.Valid() && ts.token.RefreshToken == "" {
		return nil, fserrors.Kinded(fserrors.WrongCredentials, errors.New("token expired and there's no refresh token"))
	}

	// Try getting the token a few times
	for i := 1; i <= maxTries; i++ {
		// Make a new token source if required
		if ts.tokenSource == nil {
			ts.tokenSource = ts.config.TokenSource(ts.ctx, ts.token)
		}

		token, err = ts.tokenSource.Token()
		if err == nil {
			break
		}
		if newErr := maybeWrapOAuthError(err, ts.cloud); newErr != err {
			err = newErr // Fatal OAuth error
			break
		}
		if ts.ctx.Err() != nil {
			break
		}
		fs.Debugf(ts.cloud, "Token refresh failed try %d/%d: %v", i, maxTries, err)
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		return nil, errors.Wrap(err, "couldn't fetch token")
	}
	changed := token.AccessToken != ts.token.AccessToken || token.RefreshToken != ts.token.RefreshToken || token.Expiry != ts.token.Expiry
	ts.token = token
	if changed && ts.save != nil {
		tokenBytes, err := json.Marshal(token)
		if err != nil {
			return nil, err
		}
		if err = ts.save(ts.cloud, string(tokenBytes)); err != nil {
			fs.Errorf(ts.cloud, "Couldn't save refreshed token: %v", err)
		} else {
			fs.Debugf(ts.cloud, "Saved new token")
		}
	}
	return token, nil
}

// Invalidate drops the access token so the next call refreshes it
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token.AccessToken = ""
	ts.tokenSource = nil
	ts.mu.Unlock()
}

// Current returns the token in use
func (ts *TokenSource) Current() *oauth2.Token {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t := *ts.token
	return &t
}

// Check interface satisfied
var _ oauth2.TokenSource = (*TokenSource)(nil)

// Context returns a context with our HTTP Client baked in for oauth2
func Context(ctx context.Context, client *http.Client) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// overrideCredentials sets the ClientID and ClientSecret from the
// config if they are not blank.
// the origConfig is copied
func overrideCredentials(cloud *fs.Cloud, origConfig *oauth2.Config) *oauth2.Config {
	newConfig := new(oauth2.Config)
	*newConfig = *origConfig
	if clientID, ok := cloud.Config.Get(ConfigClientID); ok && clientID != "" {
		newConfig.ClientID = clientID
		// Clear out any existing client secret since the ID changed.
		newConfig.ClientSecret = ""
	}
	if clientSecret, ok := cloud.Config.Get(ConfigClientSecret); ok && clientSecret != "" {
		newConfig.ClientSecret = clientSecret
	}
	if authURL, ok := cloud.Config.Get(ConfigAuthURL); ok && authURL != "" {
		newConfig.Endpoint.AuthURL = authURL
	}
	if tokenURL, ok := cloud.Config.Get(ConfigTokenURL); ok && tokenURL != "" {
		newConfig.Endpoint.TokenURL = tokenURL
	}
	return newConfig
}

// NewClientWithBaseClient gets a token from the config of cloud and
// configures a Client with it.  It returns the client and a
// TokenSource which Invalidate may need to be called on.  It uses the
// httpClient passed in as the base client.
func NewClientWithBaseClient(ctx context.Context, cloud *fs.Cloud, config *oauth2.Config, baseClient *http.Client) (*http.Client, *TokenSource, error) {
	config = overrideCredentials(cloud, config)
	token, err := GetToken(cloud)
	if err != nil {
		return nil, nil, err
	}
	save := getSaver(ctx)

	// the adapter outlives the call which made it
	ctx = Context(context.Background(), baseClient)

	ts := &TokenSource{
		cloud:  cloud,
		token:  token,
		config: config,
		ctx:    ctx,
		save:   save,
	}
	return oauth2.NewClient(ctx, ts), ts, nil
}

// NewClient gets a token from the config of cloud and configures a
// Client with it.  It returns the client and a TokenSource which
// Invalidate may need to be called on
func NewClient(ctx context.Context, cloud *fs.Cloud, oauthConfig *oauth2.Config) (*http.Client, *TokenSource, error) {
	return NewClientWithBaseClient(ctx, cloud, oauthConfig, fshttp.NewClient(ctx))
}

