package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"reportgen/internal/apperr"
	"reportgen/internal/logging"
)

// DefaultPrintTimeout bounds one HTML to PDF conversion.
const DefaultPrintTimeout = 60 * time.Second

// PrinterConfig configures the headless browser used for PDF output.
type PrinterConfig struct {
	// Bin is the Chrome or Chromium executable. Empty means search the usual
	// install locations.
	Bin string
	// Timeout bounds each Print call; zero means DefaultPrintTimeout.
	Timeout time.Duration
	// Flags are extra command line switches, e.g. "--disable-gpu" or
	// "--lang=en-US".
	Flags []string
	// NoSandbox disables Chrome's own sandbox, needed when running as root
	// in containers.
	NoSandbox bool
}

// Printer owns one headless Chrome process and prints HTML documents to
// PDF. The browser is launched on first use and kept until Shutdown.
type Printer struct {
	cfg PrinterConfig

	mu      sync.Mutex
	launch  *launcher.Launcher
	browser *rod.Browser
}

// NewPrinter creates a printer. No process is started yet.
func NewPrinter(cfg PrinterConfig) *Printer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPrintTimeout
	}
	return &Printer{cfg: cfg}
}

// LookupBrowser returns the browser executable the printer would launch.
func (p *Printer) LookupBrowser() (string, bool) {
	if p.cfg.Bin != "" {
		if info, err := os.Stat(p.cfg.Bin); err == nil && !info.IsDir() {
			return p.cfg.Bin, true
		}
		return "", false
	}
	return launcher.LookPath()
}

func (p *Printer) unavailable() error {
	msg := "headless chrome is not installed"
	if p.cfg.Bin != "" {
		msg = fmt.Sprintf("headless chrome not found at %s", p.cfg.Bin)
	}
	return &apperr.RenderError{Format: "pdf", Message: msg, Cause: apperr.ErrCapabilityUnavailable}
}

// Start launches and connects to the browser. A healthy running browser is
// reused.
func (p *Printer) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startLocked()
}

func (p *Printer) startLocked() error {
	log := logging.Get(logging.CategoryRender)

	if p.browser != nil {
		if _, err := p.browser.Version(); err == nil {
			return nil
		}
		log.Warn("stale browser connection, relaunching")
		p.stopLocked()
	}

	bin, ok := p.LookupBrowser()
	if !ok {
		return p.unavailable()
	}

	l := launcher.New().Bin(bin).Headless(true).Leakless(false).NoSandbox(p.cfg.NoSandbox)
	for _, raw := range p.cfg.Flags {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	controlURL, err := l.Launch()
	if err != nil {
		return &apperr.RenderError{Format: "pdf", Message: fmt.Sprintf("cannot launch %s", bin), Cause: err}
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return &apperr.RenderError{Format: "pdf", Message: "cannot connect to chrome", Cause: err}
	}

	p.launch = l
	p.browser = browser
	log.Info("browser started", zap.String("bin", bin))
	return nil
}

// Print converts a complete HTML document to PDF bytes.
func (p *Printer) Print(ctx context.Context, doc string) ([]byte, error) {
	p.mu.Lock()
	if err := p.startLocked(); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	browser := p.browser
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, p.printFailed("cannot open page", err)
	}
	defer func() { _ = page.Close() }()

	if err := page.SetDocumentContent(doc); err != nil {
		return nil, p.printFailed("cannot load document", err)
	}
	stream, err := page.PDF(&proto.PagePrintToPDF{
		PrintBackground:   true,
		PreferCSSPageSize: true,
	})
	if err != nil {
		return nil, p.printFailed("print to pdf failed", err)
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, p.printFailed("cannot read pdf stream", err)
	}
	logging.Get(logging.CategoryRender).Debug("pdf printed",
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return data, nil
}

func (p *Printer) printFailed(msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		msg = fmt.Sprintf("%s: timed out after %s", msg, p.cfg.Timeout)
	}
	logging.Get(logging.CategoryRender).Error(msg, zap.Error(err))
	return &apperr.RenderError{Format: "pdf", Message: msg, Cause: err}
}

// Running reports whether a browser process is attached.
func (p *Printer) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.browser != nil
}

// Shutdown closes the browser and removes its profile directory. It is a
// no-op when nothing was started.
func (p *Printer) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopLocked()
}

func (p *Printer) stopLocked() error {
	var err error
	if p.browser != nil {
		err = p.browser.Close()
		p.browser = nil
	}
	if p.launch != nil {
		if err != nil {
			p.launch.Kill()
		}
		p.launch.Cleanup()
		p.launch = nil
	}
	return err
}
