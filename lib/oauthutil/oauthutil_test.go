package oauthutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rclone/cloudrepo/fs"
	"github.com/rclone/cloudrepo/fs/config/configmap"
	"github.com/rclone/cloudrepo/fs/fserrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func tokenJSON(t *testing.T, token *oauth2.Token) string {
	data, err := json.Marshal(token)
	require.NoError(t, err)
	return string(data)
}

// tokenServer hands out access tokens for the refresh token "good"
func tokenServer(t *testing.T) (*httptest.Server, *int32) {
	var refreshes int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("refresh_token") != "good" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		n := atomic.AddInt32(&refreshes, 1)
		_, _ = fmt.Fprintf(w, `{"access_token":"access-%d","token_type":"Bearer","refresh_token":"good","expires_in":3600}`, n)
	}))
	t.Cleanup(server.Close)
	return server, &refreshes
}

func TestGetToken(t *testing.T) {
	_, err := GetToken(fs.NewCloud("x", "drive", nil))
	assert.True(t, fserrors.IsKind(err, fserrors.WrongCredentials))

	_, err = GetToken(fs.NewCloud("x", "drive", configmap.Simple{"token": "{not json"}))
	assert.True(t, fserrors.IsKind(err, fserrors.WrongCredentials))

	token, err := GetToken(fs.NewCloud("x", "drive", configmap.Simple{"token": `{"access_token":"a"}`}))
	require.NoError(t, err)
	assert.Equal(t, "a", token.AccessToken)
}

func TestRefreshAndSave(t *testing.T) {
	server, refreshes := tokenServer(t)
	expired := &oauth2.Token{AccessToken: "old", RefreshToken: "good", Expiry: time.Now().Add(-time.Hour)}
	cloud := fs.NewCloud("x", "drive", configmap.Simple{
		"token":     tokenJSON(t, expired),
		"token_url": server.URL,
	})
	var saved string
	ctx := WithSaver(context.Background(), func(c *fs.Cloud, token string) error {
		assert.Same(t, cloud, c)
		saved = token
		return nil
	})
	_, ts, err := NewClient(ctx, cloud, &oauth2.Config{})
	require.NoError(t, err)

	token, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-1", token.AccessToken)
	assert.Contains(t, saved, "access-1")
	assert.Equal(t, tokenJSON(t, expired), cloud.Config["token"], "cloud config must not change")

	// valid now so no more refreshes
	_, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(refreshes))

	ts.Invalidate()
	token, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-2", token.AccessToken)
}

func TestRefreshRejected(t *testing.T) {
	server, _ := tokenServer(t)
	cloud := fs.NewCloud("x", "drive", configmap.Simple{
		"token":     tokenJSON(t, &oauth2.Token{AccessToken: "old", RefreshToken: "revoked", Expiry: time.Now().Add(-time.Hour)}),
		"token_url": server.URL,
	})
	client, ts, err := NewClient(context.Background(), cloud, &oauth2.Config{})
	require.NoError(t, err)
	_, err = ts.Token()
	require.Error(t, err)
	assert.Equal(t, fserrors.WrongCredentials, fserrors.KindOf(err))

	// through the client the kind survives the url.Error
	_, err = client.Get(server.URL)
	require.Error(t, err)
	assert.Equal(t, fserrors.WrongCredentials, fserrors.KindOf(err))
}

func TestNoRefreshToken(t *testing.T) {
	cloud := fs.NewCloud("x", "drive", configmap.Simple{
		"token": tokenJSON(t, &oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(-time.Hour)}),
	})
	_, ts, err := NewClient(context.Background(), cloud, &oauth2.Config{})
	require.NoError(t, err)
	_, err = ts.Token()
	assert.True(t, fserrors.IsKind(err, fserrors.WrongCredentials))
}

func TestOverrideCredentials(t *testing.T) {
	cloud := fs.NewCloud("x", "drive", configmap.Simple{
		"client_id": "mine",
		"auth_url":  "https://auth.example.com",
	})
	orig := &oauth2.Config{ClientID: "default", ClientSecret: "secret"}
	got := overrideCredentials(cloud, orig)
	assert.Equal(t, "mine", got.ClientID)
	assert.Equal(t, "", got.ClientSecret)
	assert.Equal(t, "https://auth.example.com", got.Endpoint.AuthURL)
	assert.Equal(t, "default", orig.ClientID)
}
