package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// ============================================================================
// Auth Bootstrapper
// ============================================================================
// Runs the OAuth authorization-code flow once per process:
//   1. build the authorize URL
//   2. bind the local callback server, then present the URL
//   3. wait for the redirected code
//   4. exchange it for a token
//   5. return a SpotifyClient bound to that token
// ============================================================================

// AuthConfig carries everything the bootstrapper needs. It is built from
// Config at startup; there are no process-wide credential globals.
type AuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	AuthURL  string
	TokenURL string
	APIURL   string

	CallbackAddr  string
	CallbackWait  time.Duration
	RemoteTimeout time.Duration
	OpenBrowser   bool
}

// Authenticator runs the authorization-code flow.
type Authenticator struct {
	cfg     AuthConfig
	logger  *slog.Logger
	console io.Writer

	// openURL opens the authorize URL for the user; replaced in tests.
	openURL func(string) error
}

// NewAuthenticator creates an Authenticator that prints operator guidance to console.
func NewAuthenticator(cfg AuthConfig, console io.Writer, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		cfg:     cfg,
		logger:  logger,
		console: console,
		openURL: openBrowser,
	}
}

func (a *Authenticator) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.cfg.ClientID,
		ClientSecret: a.cfg.ClientSecret,
		RedirectURL:  a.cfg.RedirectURI,
		Scopes:       a.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   a.cfg.AuthURL,
			TokenURL:  a.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// Authenticate runs the flow and returns an authorized client.
// Any failure is an *AuthError; there is no retry or fallback.
func (a *Authenticator) Authenticate(ctx context.Context) (*SpotifyClient, error) {
	oauthCfg := a.oauthConfig()

	state, err := randomState()
	if err != nil {
		return nil, &AuthError{Step: "state", Err: err}
	}
	st := newAuthorizationState(oauthCfg.AuthCodeURL(state))

	srv := NewCallbackServer(a.cfg.CallbackAddr, state, a.logger)
	if err := srv.Listen(); err != nil {
		return nil, &AuthError{Step: "listen", Err: err}
	}

	fmt.Fprintln(a.console, "[+] Doing authorization flow... Check your browser!")
	fmt.Fprintln(a.console, "Please open the following URL in your web browser to authorize the application (if your browser didn't open automatically):")
	fmt.Fprintln(a.console, st.AuthorizeURL)
	if a.cfg.OpenBrowser && a.openURL != nil {
		if err := a.openURL(st.AuthorizeURL); err != nil {
			a.logger.Warn("could not open browser automatically", "error", err)
		}
	}

	waitCtx := ctx
	if a.cfg.CallbackWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, a.cfg.CallbackWait)
		defer cancel()
	}
	code, err := srv.Wait(waitCtx)
	if err != nil {
		return nil, err
	}
	if err := st.receiveCode(code); err != nil {
		return nil, &AuthError{Step: "callback", Err: err}
	}

	// The exchange and every later API call share one bounded HTTP client.
	httpCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: a.cfg.RemoteTimeout})
	token, err := oauthCfg.Exchange(httpCtx, st.pendingCode())
	if err != nil {
		return nil, &AuthError{Step: "exchange", Err: err}
	}
	if err := st.tokenExchanged(token); err != nil {
		return nil, &AuthError{Step: "exchange", Err: err}
	}
	a.logger.Info("received access token", "expires", token.Expiry.Format(time.RFC3339), "refreshable", token.RefreshToken != "")

	// TokenSource refreshes the access token when it expires.
	httpClient := oauth2.NewClient(httpCtx, oauthCfg.TokenSource(httpCtx, st.token))
	client, err := NewSpotifyClient(a.cfg.APIURL, httpClient, a.cfg.RemoteTimeout, a.logger)
	if err != nil {
		return nil, &AuthError{Step: "client", Err: err}
	}
	return client, nil
}

// randomState returns an unguessable OAuth state value.
func randomState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ============================================================================
// Authorization state
// ============================================================================

type authPhase int

const (
	authCreated authPhase = iota
	authCodeReceived
	authTokenExchanged
)

var (
	errCodeAlreadyReceived = errors.New("authorization code already received")
	errNoPendingCode       = errors.New("no pending authorization code")
	errEmptyCode           = errors.New("empty authorization code")
)

// authorizationState moves forward only: Created -> CodeReceived -> TokenExchanged.
type authorizationState struct {
	AuthorizeURL string

	phase authPhase
	code  string
	token *oauth2.Token
}

func newAuthorizationState(authorizeURL string) *authorizationState {
	return &authorizationState{AuthorizeURL: authorizeURL, phase: authCreated}
}

func (s *authorizationState) receiveCode(code string) error {
	if code == "" {
		return errEmptyCode
	}
	if s.phase != authCreated {
		return errCodeAlreadyReceived
	}
	s.code = code
	s.phase = authCodeReceived
	return nil
}

func (s *authorizationState) pendingCode() string {
	if s.phase != authCodeReceived {
		return ""
	}
	return s.code
}

// tokenExchanged records the token and discards the code.
func (s *authorizationState) tokenExchanged(tok *oauth2.Token) error {
	if s.phase != authCodeReceived {
		return errNoPendingCode
	}
	if tok == nil || tok.AccessToken == "" {
		return errors.New("empty access token")
	}
	s.token = tok
	s.code = ""
	s.phase = authTokenExchanged
	return nil
}
