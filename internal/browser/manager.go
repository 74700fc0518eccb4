package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/wayfarer/internal/browser/handle"
	"github.com/xkilldash9x/wayfarer/internal/config"
)

const sessionCloseTimeout = 10 * time.Second

// Manager owns the browser process and the sessions opened in it.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	// The allocator context owns the browser executable.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	sessions map[string]*Session
	mu       sync.Mutex
}

var _ SessionObserver = (*Manager)(nil)

// NewManager prepares the allocator. The browser process starts with the
// first session.
func NewManager(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, m.allocatorOptions()...)

	m.logger.Info("Browser manager initialized",
		zap.Bool("headless", cfg.Browser.Headless),
		zap.String("start_url", cfg.Browser.StartURL),
	)
	return m, nil
}

func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	browserCfg := m.cfg.Browser
	// DefaultExecAllocatorOptions is headless; a visible window has to be
	// asked for explicitly.
	opts = append(opts,
		chromedp.Flag("headless", browserCfg.Headless),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", browserCfg.Headless),
	)
	for _, arg := range browserCfg.Args {
		name, value := splitFlag(arg)
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// splitFlag turns "--name=value" or "--name" into a chromedp flag.
func splitFlag(arg string) (string, interface{}) {
	arg = strings.TrimLeft(arg, "-")
	if name, value, ok := strings.Cut(arg, "="); ok {
		return name, value
	}
	return arg, true
}

// NewSession opens a tab, loads the start page and wraps it in a Session.
// The tab closes when sessionCtx ends or the session is closed.
func (m *Manager) NewSession(sessionCtx context.Context) (*Session, error) {
	ctx, cancel := chromedp.NewContext(m.allocatorCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	)
	go func() {
		select {
		case <-sessionCtx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	// An empty Run attaches the tab; the start page itself goes through the
	// session's interaction queue like every other interaction.
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open browser tab: %w", err)
	}
	return m.startSession(ctx, cancel, handle.Document{})
}

// startSession wraps an attached tab in a Session, registers it and loads
// the start page. The session is closed again if the page cannot be loaded.
func (m *Manager) startSession(ctx context.Context, cancel context.CancelFunc, scope handle.Scope) (*Session, error) {
	session, err := NewSession(ctx, cancel, scope, SessionOptions{
		ID:       uuid.New().String(),
		Browser:  m.cfg.Browser,
		Queue:    m.cfg.Queue,
		Recovery: m.cfg.Recovery,
		Observer: m,
	}, m.logger)
	if err != nil {
		return nil, err
	}
	m.registerSession(session)

	startURL := m.cfg.Browser.StartURL
	if startURL == "" {
		startURL = "about:blank"
	}
	if err := session.Navigate(ctx, startURL); err != nil {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), sessionCloseTimeout)
		defer closeCancel()
		_ = session.Close(closeCtx)
		return nil, fmt.Errorf("failed to load start page %s: %w", startURL, err)
	}
	m.logger.Info("Browser session opened", zap.String("session_id", session.ID()), zap.String("url", startURL))
	return session, nil
}

func (m *Manager) registerSession(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID()] = s
}

func (m *Manager) unregisterSession(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s.ID())
}

// SessionCount returns the number of open sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every session concurrently, then the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager...")

	m.mu.Lock()
	toClose := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		toClose = append(toClose, s)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range toClose {
		s := s
		g.Go(func() error {
			closeCtx, cancel := context.WithTimeout(gctx, sessionCloseTimeout)
			defer cancel()
			if err := s.Close(closeCtx); err != nil {
				return fmt.Errorf("closing session %s: %w", s.ID(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		m.logger.Warn("Error closing browser sessions during shutdown", zap.Error(err))
	}

	if m.allocatorCancel != nil {
		m.allocatorCancel()
	}
	m.logger.Info("Browser manager shutdown complete.")
	return err
}
