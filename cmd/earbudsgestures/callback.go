package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// ============================================================================
// Authorization Callback Server
// ============================================================================
// A single-use HTTP listener that captures the authorization code the
// browser is redirected with, then shuts itself down.
//
//   Listening --GET ?code=--> CodeCaptured --shutdown--> Terminated
//   Listening --GET without code--> 400, still Listening
//
// The handler never shuts the server down itself: http.Server.Shutdown waits
// for active handlers, so calling it from inside one would deadlock. The
// handler closes the captured channel and Wait, running in the caller's
// goroutine, performs the shutdown.
// ============================================================================

type callbackPhase int

const (
	phaseIdle callbackPhase = iota
	phaseListening
	phaseCodeCaptured
	phaseTerminated
)

func (p callbackPhase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseListening:
		return "listening"
	case phaseCodeCaptured:
		return "code_captured"
	case phaseTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("callbackPhase(%d)", int(p))
	}
}

const callbackSuccessBody = "You can close this window now."

var errCallbackServerUsed = errors.New("callback server already used")

// CallbackServer captures exactly one authorization code.
type CallbackServer struct {
	addr          string
	expectedState string
	logger        *slog.Logger

	mu       sync.Mutex
	phase    callbackPhase
	code     string
	captured chan struct{}

	ln  net.Listener
	srv *http.Server
}

// NewCallbackServer creates a server for addr. When expectedState is not
// empty, callbacks must carry a matching state parameter.
func NewCallbackServer(addr, expectedState string, logger *slog.Logger) *CallbackServer {
	s := &CallbackServer{
		addr:          addr,
		expectedState: expectedState,
		logger:        logger,
		captured:      make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleCallback)
	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Listen binds the listener. The server accepts connections once Wait runs.
func (s *CallbackServer) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != phaseIdle {
		return errCallbackServerUsed
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.phase = phaseListening
	s.logger.Info("authorization callback server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *CallbackServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Phase returns the current lifecycle phase.
func (s *CallbackServer) Phase() callbackPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Wait serves callbacks until a code is captured or ctx ends, then shuts the
// server down and returns the code. Without a code it returns *AuthError.
func (s *CallbackServer) Wait(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.phase != phaseListening {
		s.mu.Unlock()
		return "", &AuthError{Step: "callback", Err: errCallbackServerUsed}
	}
	ln := s.ln
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		// Serve returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	var waitErr error
	select {
	case <-s.captured:
	case <-ctx.Done():
		waitErr = ctx.Err()
	case err := <-errCh:
		if err == nil {
			err = errors.New("server stopped")
		}
		s.terminate()
		return "", &AuthError{Step: "callback", Err: err}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), callbackShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("callback server shutdown", "error", err)
		_ = s.srv.Close()
	}
	// Wait for the Serve goroutine to return.
	<-errCh

	code := s.terminate()
	if code == "" {
		if waitErr == nil {
			waitErr = errors.New("no authorization code received")
		}
		return "", &AuthError{Step: "callback", Err: fmt.Errorf("no authorization code received: %w", waitErr)}
	}
	s.logger.Debug("authorization callback server terminated")
	return code, nil
}

// terminate moves to the terminal phase and returns the captured code, if any.
func (s *CallbackServer) terminate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phaseTerminated
	return s.code
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		if reason := q.Get("error"); reason != "" {
			s.logger.Warn("authorization callback reported an error", "error", reason)
			http.Error(w, "Authorization failed: "+reason, http.StatusBadRequest)
			return
		}
		s.logger.Debug("authorization callback without code", "path", r.URL.Path)
		http.Error(w, "Missing code in the request", http.StatusBadRequest)
		return
	}

	if s.expectedState != "" && q.Get("state") != s.expectedState {
		s.logger.Warn("authorization callback with mismatched state")
		http.Error(w, "State mismatch in the request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if s.phase != phaseListening {
		s.mu.Unlock()
		http.Error(w, "Authorization code already received", http.StatusConflict)
		return
	}
	s.code = code
	s.phase = phaseCodeCaptured
	close(s.captured)
	s.mu.Unlock()

	s.logger.Debug("authorization code captured")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, callbackSuccessBody)
}
