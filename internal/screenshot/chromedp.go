// Package screenshot implements the final pipeline stage: capturing a
// rendered page image, storing it, and completing the record.
package screenshot

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"

	"github.com/curatorhq/curator/internal/content"
)

// CapturerConfig controls the headless browser pool.
type CapturerConfig struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	DomainQPS         float64
	ViewportWidth     int
	ViewportHeight    int
}

// ChromedpCapturer captures page screenshots with headless Chrome. A shared
// exec allocator reuses the browser across captures; a semaphore bounds
// parallel tabs and a per-domain limiter keeps capture traffic polite.
type ChromedpCapturer struct {
	cfg            CapturerConfig
	limiter        chan struct{}
	domainLimiters sync.Map
	allocator      context.Context
	allocCancel    context.CancelFunc
}

// NewChromedpCapturer creates a ChromedpCapturer.
func NewChromedpCapturer(cfg CapturerConfig) (*ChromedpCapturer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.DomainQPS <= 0 {
		cfg.DomainQPS = 1
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1280
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 800
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &ChromedpCapturer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (c *ChromedpCapturer) Close() {
	c.allocCancel()
}

// Capture navigates to the URL and returns a PNG of the viewport.
func (c *ChromedpCapturer) Capture(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.waitDomain(ctx, rawURL); err != nil {
		return nil, err
	}
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	taskCtx, taskCancel := chromedp.NewContext(c.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, c.cfg.NavigationTimeout)
	defer cancel()

	var buf []byte
	actions := []chromedp.Action{
		c.emulationAction(),
		chromedp.EmulateViewport(int64(c.cfg.ViewportWidth), int64(c.cfg.ViewportHeight)),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.CaptureScreenshot(&buf),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, &content.TransientError{Err: fmt.Errorf("chromedp run: %w", err)}
	}
	return buf, nil
}

func (c *ChromedpCapturer) emulationAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if c.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (c *ChromedpCapturer) waitDomain(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &content.DataShapeError{Err: fmt.Errorf("parse capture url: %w", err)}
	}
	host := strings.ToLower(parsed.Host)
	val, _ := c.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(c.cfg.DomainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type for host %s", host)
	}
	if err := limiter.Wait(ctx); err != nil {
		return &content.TransientError{Err: fmt.Errorf("domain limiter wait: %w", err)}
	}
	return nil
}

func (c *ChromedpCapturer) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return &content.TransientError{Err: fmt.Errorf("capture slot wait canceled: %w", ctx.Err())}
	}
}

func (c *ChromedpCapturer) release() {
	if c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}
