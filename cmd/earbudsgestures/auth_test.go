package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

// freeAddr returns a loopback address that was free a moment ago.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// fakeTokenServer implements the token endpoint for the authorization-code grant.
func fakeTokenServer(t *testing.T, wantCode string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		id, secret, ok := r.BasicAuth()
		if !ok || id != "client-id" || secret != "client-secret" {
			http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("grant_type") != "authorization_code" || r.PostForm.Get("code") != wantCode {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"server_error"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "tok-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "refresh-1",
			"scope":         strings.Join(spotifyScopes, " "),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testAuthConfig(callbackAddr, tokenURL, apiURL string) AuthConfig {
	return AuthConfig{
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		RedirectURI:   "http://" + callbackAddr + "/callback",
		Scopes:        spotifyScopes,
		AuthURL:       "https://accounts.example.test/authorize",
		TokenURL:      tokenURL,
		APIURL:        apiURL,
		CallbackAddr:  callbackAddr,
		CallbackWait:  5 * time.Second,
		RemoteTimeout: 2 * time.Second,
		OpenBrowser:   true,
	}
}

// browserFollowingRedirect plays the user's browser: it approves the request
// by calling the redirect URI with code and the state from the authorize URL.
func browserFollowingRedirect(t *testing.T, code string, seen chan<- *url.URL) func(string) error {
	return func(authorizeURL string) error {
		u, err := url.Parse(authorizeURL)
		if err != nil {
			return err
		}
		seen <- u
		q := u.Query()
		redirect := q.Get("redirect_uri") + "?code=" + url.QueryEscape(code) + "&state=" + url.QueryEscape(q.Get("state"))
		go func() {
			client := &http.Client{Timeout: 2 * time.Second}
			resp, err := client.Get(redirect)
			if err != nil {
				t.Errorf("callback GET: %v", err)
				return
			}
			resp.Body.Close()
		}()
		return nil
	}
}

func TestAuthenticate_EndToEnd(t *testing.T) {
	gotAuth := make(chan string, 1)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"is_playing":true}`))
	}))
	defer api.Close()

	tokenSrv := fakeTokenServer(t, "abc123", http.StatusOK)
	addr := freeAddr(t)

	var console bytes.Buffer
	a := NewAuthenticator(testAuthConfig(addr, tokenSrv.URL, api.URL), &console, quietLogger())
	seen := make(chan *url.URL, 1)
	a.openURL = browserFollowingRedirect(t, "abc123", seen)

	client, err := a.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	authorize := <-seen
	q := authorize.Query()
	if q.Get("client_id") != "client-id" || q.Get("response_type") != "code" {
		t.Fatalf("authorize URL query = %v", q)
	}
	if q.Get("scope") != strings.Join(spotifyScopes, " ") {
		t.Fatalf("scope = %q", q.Get("scope"))
	}
	if q.Get("state") == "" {
		t.Fatalf("authorize URL carries no state")
	}
	if !strings.Contains(console.String(), authorize.String()) {
		t.Fatalf("authorize URL not printed to console:\n%s", console.String())
	}

	st, err := client.CurrentPlayback(context.Background())
	if err != nil {
		t.Fatalf("CurrentPlayback: %v", err)
	}
	if !st.IsPlaying {
		t.Fatalf("state = %+v", st)
	}
	if got := <-gotAuth; got != "Bearer tok-1" {
		t.Fatalf("Authorization header = %q, want Bearer tok-1", got)
	}

	// The callback server is gone once the token is in hand.
	if conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		conn.Close()
		t.Fatalf("callback server still listening on %s", addr)
	}
}

func TestAuthenticate_ExchangeFailure(t *testing.T) {
	tokenSrv := fakeTokenServer(t, "abc123", http.StatusInternalServerError)
	addr := freeAddr(t)

	a := NewAuthenticator(testAuthConfig(addr, tokenSrv.URL, "http://127.0.0.1:1"), &bytes.Buffer{}, quietLogger())
	a.openURL = browserFollowingRedirect(t, "abc123", make(chan *url.URL, 1))

	_, err := a.Authenticate(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Step != "exchange" {
		t.Fatalf("error = %v, want *AuthError at exchange", err)
	}
}

func TestAuthenticate_CallbackTimeout(t *testing.T) {
	addr := freeAddr(t)
	cfg := testAuthConfig(addr, "http://127.0.0.1:1/token", "http://127.0.0.1:1")
	cfg.CallbackWait = 50 * time.Millisecond

	a := NewAuthenticator(cfg, &bytes.Buffer{}, quietLogger())
	opened := false
	a.openURL = func(string) error {
		opened = true
		return errors.New("no display")
	}

	_, err := a.Authenticate(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Step != "callback" {
		t.Fatalf("error = %v, want *AuthError at callback", err)
	}
	if !opened {
		t.Fatalf("browser opener was not called")
	}
}

func TestAuthenticate_BrowserDisabled(t *testing.T) {
	addr := freeAddr(t)
	cfg := testAuthConfig(addr, "http://127.0.0.1:1/token", "http://127.0.0.1:1")
	cfg.CallbackWait = 20 * time.Millisecond
	cfg.OpenBrowser = false

	a := NewAuthenticator(cfg, &bytes.Buffer{}, quietLogger())
	a.openURL = func(string) error {
		t.Errorf("browser must not be opened when disabled")
		return nil
	}

	if _, err := a.Authenticate(context.Background()); err == nil {
		t.Fatal("expected a callback timeout")
	}
}

func TestAuthenticate_ListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	a := NewAuthenticator(testAuthConfig(ln.Addr().String(), "http://127.0.0.1:1/token", "http://127.0.0.1:1"), &bytes.Buffer{}, quietLogger())
	a.openURL = func(string) error {
		t.Errorf("URL must not be presented when the callback cannot bind")
		return nil
	}

	_, err = a.Authenticate(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Step != "listen" {
		t.Fatalf("error = %v, want *AuthError at listen", err)
	}
}

func TestAuthorizationState_Monotonic(t *testing.T) {
	st := newAuthorizationState("https://accounts.example.test/authorize?x=1")

	if err := st.tokenExchanged(&oauth2.Token{AccessToken: "early"}); !errors.Is(err, errNoPendingCode) {
		t.Fatalf("tokenExchanged before code = %v, want errNoPendingCode", err)
	}
	if err := st.receiveCode(""); !errors.Is(err, errEmptyCode) {
		t.Fatalf("receiveCode(\"\") = %v, want errEmptyCode", err)
	}
	if err := st.receiveCode("first"); err != nil {
		t.Fatalf("receiveCode: %v", err)
	}
	if err := st.receiveCode("second"); !errors.Is(err, errCodeAlreadyReceived) {
		t.Fatalf("second receiveCode = %v, want errCodeAlreadyReceived", err)
	}
	if got := st.pendingCode(); got != "first" {
		t.Fatalf("pendingCode = %q, want first", got)
	}

	if err := st.tokenExchanged(&oauth2.Token{}); err == nil {
		t.Fatal("empty access token must be rejected")
	}
	if err := st.tokenExchanged(&oauth2.Token{AccessToken: "tok"}); err != nil {
		t.Fatalf("tokenExchanged: %v", err)
	}
	if st.pendingCode() != "" || st.code != "" {
		t.Fatalf("code must be discarded after the exchange")
	}
	if err := st.receiveCode("late"); !errors.Is(err, errCodeAlreadyReceived) {
		t.Fatalf("receiveCode after exchange = %v, want errCodeAlreadyReceived", err)
	}
	if st.phase != authTokenExchanged {
		t.Fatalf("phase = %v, want token exchanged", st.phase)
	}
}

func TestRandomState_Unique(t *testing.T) {
	a, err := randomState()
	if err != nil {
		t.Fatalf("randomState: %v", err)
	}
	b, _ := randomState()
	if a == b || len(a) < 32 {
		t.Fatalf("weak state values %q %q", a, b)
	}
}
