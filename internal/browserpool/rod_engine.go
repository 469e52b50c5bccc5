package browserpool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/edukz/vagas-collector/internal/errs"
)

// RodEngine creates stealth-patched rod pages against one launched browser.
// Grounded on the teacher's BrowserFetcher launch sequence.
type RodEngine struct {
	browser    *rod.Browser
	useStealth bool
	customArgs []string
	logger     *slog.Logger
}

// RodEngineOption configures a RodEngine.
type RodEngineOption func(*RodEngine)

// WithStealth enables stealth-mode page creation.
func WithStealth() RodEngineOption {
	return func(e *RodEngine) { e.useStealth = true }
}

// WithCustomArgs appends extra Chromium launch flags.
func WithCustomArgs(args []string) RodEngineOption {
	return func(e *RodEngine) { e.customArgs = args }
}

// NewRodEngine launches a headless Chromium instance and connects rod to it.
func NewRodEngine(headless bool, logger *slog.Logger, opts ...RodEngineOption) (*RodEngine, error) {
	e := &RodEngine{logger: logger.With("component", "browser_engine")}
	for _, opt := range opts {
		opt(e)
	}

	l := launcher.New().
		Headless(headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled")
	for _, arg := range e.customArgs {
		l = l.Set(launcher.Flag(arg))
	}

	launchURL, err := l.Launch()
	if err != nil {
		return nil, &errs.FetchError{Cause: fmt.Errorf("launch browser: %w", err), ErrKind: errs.BrowserUnavailable}
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, &errs.FetchError{Cause: fmt.Errorf("connect browser: %w", err), ErrKind: errs.BrowserUnavailable}
	}
	e.browser = browser
	return e, nil
}

// NewPage creates a fresh page, optionally stealth-patched.
func (e *RodEngine) NewPage(ctx context.Context) (Page, error) {
	var page *rod.Page
	var err error
	if e.useStealth {
		page, err = stealth.Page(e.browser)
	} else {
		page, err = e.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		return nil, &errs.FetchError{Cause: err, Retryable: true, ErrKind: errs.NetworkTransient}
	}
	return &rodPage{page: page}, nil
}

// Close tears down the browser process.
func (e *RodEngine) Close() error {
	if e.browser == nil {
		return nil
	}
	return e.browser.Close()
}

// rodPage adapts *rod.Page to the Page interface.
type rodPage struct {
	page *rod.Page
}

// Underlying returns the wrapped *rod.Page for the fetcher to drive
// navigation directly.
func (p *rodPage) Underlying() *rod.Page { return p.page }

// Healthy performs a cheap liveness check by requesting page info; rod
// surfaces a closed target as an error here.
func (p *rodPage) Healthy() bool {
	_, err := p.page.Info()
	return err == nil
}

func (p *rodPage) Close() error {
	_ = p.page.Navigate("about:blank")
	return p.page.Close()
}
