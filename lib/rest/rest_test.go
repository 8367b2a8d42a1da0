package rest

import (
	"bytes"
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seen struct {
	method string
	path   string
	body   string
	auth   string
}

// recorder makes a handler which records every request and answers
// with next
func recorder(log *[]seen, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := ioutil.ReadAll(r.Body)
		*log = append(*log, seen{
			method: r.Method,
			path:   r.URL.Path,
			body:   string(body),
			auth:   r.Header.Get("Authorization"),
		})
		next(w, r)
	}
}

func TestCallFollowsRedirectKeepingMethodAndBody(t *testing.T) {
	var log []seen
	ts := httptest.NewServer(recorder(&log, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/old":
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
		case "/new":
			w.WriteHeader(207)
			_, _ = w.Write([]byte("ok"))
		}
	}))
	defer ts.Close()

	api := NewClient(http.DefaultClient).SetRoot(ts.URL).SetUserPass("user", "pass")
	resp, err := api.Call(context.Background(), &Opts{
		Method: "PROPFIND",
		Path:   "/old",
		Body:   strings.NewReader("<propfind/>"),
	})
	require.NoError(t, err)
	body, err := ReadBody(resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))

	require.Len(t, log, 2)
	for _, s := range log {
		assert.Equal(t, "PROPFIND", s.method)
		assert.Equal(t, "<propfind/>", s.body)
		assert.NotEmpty(t, s.auth, "same origin keeps credentials")
	}
	assert.Equal(t, "/new", log[1].path)
}

func TestCallRedirectCrossOriginDropsAuthorization(t *testing.T) {
	var otherLog []seen
	other := httptest.NewServer(recorder(&otherLog, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer other.Close()

	var log []seen
	ts := httptest.NewServer(recorder(&log, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, other.URL+"/elsewhere", http.StatusTemporaryRedirect)
	}))
	defer ts.Close()

	api := NewClient(http.DefaultClient).SetRoot(ts.URL).SetUserPass("user", "pass")
	_, err := api.Call(context.Background(), &Opts{
		Method:     "PUT",
		Path:       "/file",
		Body:       bytes.NewReader([]byte("data")),
		NoResponse: true,
	})
	require.NoError(t, err)

	require.Len(t, log, 1)
	assert.NotEmpty(t, log[0].auth)
	require.Len(t, otherLog, 1)
	assert.Equal(t, "PUT", otherLog[0].method)
	assert.Equal(t, "data", otherLog[0].body)
	assert.Equal(t, "", otherLog[0].auth)
}

func TestCallSeeOtherBecomesGet(t *testing.T) {
	var log []seen
	ts := httptest.NewServer(recorder(&log, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/post" {
			http.Redirect(w, r, "/result", http.StatusSeeOther)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	api := NewClient(http.DefaultClient).SetRoot(ts.URL)
	_, err := api.Call(context.Background(), &Opts{
		Method:     "POST",
		Path:       "/post",
		Body:       strings.NewReader("form"),
		NoResponse: true,
	})
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, "GET", log[1].method)
	assert.Equal(t, "", log[1].body)
}

func TestCallTooManyRedirects(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	defer ts.Close()

	api := NewClient(http.DefaultClient).SetRoot(ts.URL).SetMaxRedirects(3)
	_, err := api.Call(context.Background(), &Opts{Method: "GET", Path: "/loop"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped after 3 redirects")
	assert.Equal(t, 4, calls)
}

func TestCallNoRedirect(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/somewhere", http.StatusFound)
	}))
	defer ts.Close()

	api := NewClient(http.DefaultClient).SetRoot(ts.URL)
	resp, err := api.Call(context.Background(), &Opts{Method: "GET", NoRedirect: true, IgnoreStatus: true, NoResponse: true})
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/somewhere", resp.Header.Get("Location"))
}

func TestCallUnreplayableBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/again", http.StatusTemporaryRedirect)
	}))
	defer ts.Close()

	api := NewClient(http.DefaultClient).SetRoot(ts.URL)
	_, err := api.Call(context.Background(), &Opts{
		Method: "PUT",
		Body:   ioutil.NopCloser(strings.NewReader("x")),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can't be replayed")
}

func TestCallErrorHandler(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	}))
	defer ts.Close()

	api := NewClient(http.DefaultClient).SetRoot(ts.URL)
	resp, err := api.Call(context.Background(), &Opts{Method: "GET"})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, err.Error(), `"missing"`)

	errCustom := errors.New("custom")
	api.SetErrorHandler(func(resp *http.Response) error {
		_ = resp.Body.Close()
		return errCustom
	})
	_, err = api.Call(context.Background(), &Opts{Method: "GET"})
	assert.Equal(t, errCustom, err)
}

func TestCallJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "v", r.URL.Query().Get("k"))
		body, _ := ioutil.ReadAll(r.Body)
		assert.JSONEq(t, `{"name":"a"}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"b"}`))
	}))
	defer ts.Close()

	type item struct {
		Name string `json:"name"`
	}
	var out item
	api := NewClient(http.DefaultClient).SetRoot(ts.URL)
	_, err := api.CallJSON(context.Background(), &Opts{
		Method:     "POST",
		Parameters: map[string][]string{"k": {"v"}},
	}, &item{Name: "a"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "b", out.Name)
}

func TestCallNilOpts(t *testing.T) {
	api := NewClient(http.DefaultClient)
	_, err := api.Call(context.Background(), nil)
	assert.Error(t, err)
	_, err = api.Call(context.Background(), &Opts{})
	assert.EqualError(t, err, "RootURL not set")
}

func TestURLPathEscape(t *testing.T) {
	assert.Equal(t, "/a%20b/c%3Fd", URLPathEscape("/a b/c?d"))
}
