package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// SessionState tracks the browser session lifecycle.
type SessionState string

const (
	SessionUninitialized SessionState = "UNINITIALIZED"
	SessionLaunching     SessionState = "LAUNCHING"
	SessionReady         SessionState = "READY"
	SessionDegraded      SessionState = "DEGRADED"
	SessionClosed        SessionState = "CLOSED"
)

// Mode selects the recovery strategy. Attached sessions reconnect to an
// externally running browser and never kill it; standalone sessions own
// the process and relaunch it. Configured explicitly, never inferred.
type Mode string

const (
	ModeAttached   Mode = "attached"
	ModeStandalone Mode = "standalone"
)

var ErrSessionClosed = errors.New("browser session closed")

// Session owns the single chromedp browser context. Nothing outside
// this package touches the browser; all access is serialized through
// the session lock.
type Session struct {
	mode          Mode
	remoteURL     string
	headless      bool
	actionTimeout time.Duration

	mu          sync.Mutex
	state       SessionState
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	log zerolog.Logger
}

func NewSession(mode Mode, remoteURL string, headless bool, actionTimeout time.Duration, log zerolog.Logger) *Session {
	return &Session{
		mode:          mode,
		remoteURL:     remoteURL,
		headless:      headless,
		actionTimeout: actionTimeout,
		state:         SessionUninitialized,
		log:           log.With().Str("component", "browser").Logger(),
	}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Launch is idempotent: when the session is READY and the liveness
// probe answers, it returns immediately.
func (s *Session) Launch(ctx context.Context) error {
	s.mu.Lock()
	if s.state == SessionClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state == SessionReady {
		tab := s.tabCtx
		s.mu.Unlock()
		if s.probe(ctx, tab) == nil {
			return nil
		}
		s.mu.Lock()
		s.state = SessionDegraded
	}
	defer s.mu.Unlock()
	return s.launchLocked(ctx)
}

func (s *Session) launchLocked(ctx context.Context) error {
	s.state = SessionLaunching
	s.teardownLocked()

	switch s.mode {
	case ModeAttached:
		s.allocCtx, s.allocCancel = chromedp.NewRemoteAllocator(context.Background(), s.remoteURL)
	case ModeStandalone:
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", s.headless),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
		)
		s.allocCtx, s.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	default:
		return fmt.Errorf("unknown browser mode %q", s.mode)
	}

	s.tabCtx, s.tabCancel = chromedp.NewContext(s.allocCtx)

	// First Run materializes the browser/tab.
	runCtx, cancel := context.WithTimeout(s.tabCtx, s.actionTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx); err != nil {
		s.state = SessionDegraded
		return fmt.Errorf("launch browser (%s): %w", s.mode, err)
	}

	s.state = SessionReady
	s.log.Info().Str("mode", string(s.mode)).Msg("browser session ready")
	return nil
}

// HealthCheck is a cheap liveness probe: read the current page title.
// Failure marks the session DEGRADED.
func (s *Session) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	tab := s.tabCtx
	s.mu.Unlock()

	if state == SessionClosed {
		return ErrSessionClosed
	}
	if state != SessionReady && state != SessionDegraded {
		return fmt.Errorf("session not launched (state %s)", state)
	}

	if err := s.probe(ctx, tab); err != nil {
		s.mu.Lock()
		if s.state == SessionReady {
			s.state = SessionDegraded
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if s.state == SessionDegraded {
		s.state = SessionReady
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) probe(ctx context.Context, tab context.Context) error {
	if tab == nil {
		return fmt.Errorf("no browser tab")
	}
	probeCtx, cancel := context.WithTimeout(tab, 5*time.Second)
	defer cancel()

	var title string
	if err := chromedp.Run(probeCtx, chromedp.Title(&title)); err != nil {
		return fmt.Errorf("liveness probe: %w", err)
	}
	return nil
}

// Recover restores a degraded session using the configured mode's
// strategy: attached reconnects, standalone relaunches from scratch.
func (s *Session) Recover(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionClosed {
		return ErrSessionClosed
	}

	s.log.Warn().Str("mode", string(s.mode)).Msg("recovering browser session")
	return s.launchLocked(ctx)
}

// Run executes chromedp actions against the live tab with the bounded
// action timeout. The caller context composes with the tab lifetime.
func (s *Session) Run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	state := s.state
	tab := s.tabCtx
	timeout := s.actionTimeout
	s.mu.Unlock()

	if state == SessionClosed {
		return ErrSessionClosed
	}
	if tab == nil {
		return fmt.Errorf("session not launched")
	}

	runCtx, cancel := context.WithTimeout(tab, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Close tears the session down. Terminal.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	s.state = SessionClosed
	s.log.Info().Msg("browser session closed")
}

func (s *Session) teardownLocked() {
	if s.tabCancel != nil {
		s.tabCancel()
		s.tabCancel = nil
		s.tabCtx = nil
	}
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCancel = nil
		s.allocCtx = nil
	}
}
