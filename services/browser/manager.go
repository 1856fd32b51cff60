package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/autowebkit/autowebkit/automation"
	"github.com/autowebkit/autowebkit/config"
	"github.com/autowebkit/autowebkit/models"
	"github.com/autowebkit/autowebkit/pkg/logger"
	"github.com/autowebkit/autowebkit/storage"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/pkg/errors"
)

// ErrNotRunning is returned when a script is played before Start.
var ErrNotRunning = errors.New("browser is not running")

// Manager owns the browser process and runs scripts on fresh pages.
type Manager struct {
	config *config.Config
	db     *storage.BoltDB // nil disables execution records

	mu        sync.Mutex
	browser   *rod.Browser
	launcher  *launcher.Launcher
	isRunning bool
	startTime time.Time
	runs      int
}

// NewManager creates a browser manager. db may be nil.
func NewManager(cfg *config.Config, db *storage.BoltDB) *Manager {
	if cfg.Browser == nil {
		cfg.Browser = config.Default().Browser
	}
	return &Manager{
		config: cfg,
		db:     db,
	}
}

func (m *Manager) isRemote() bool {
	return m.config.Browser.ControlURL != ""
}

// Start launches Chrome, or connects to browser.control_url when set.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return errors.New("browser is already running")
	}

	cfg := m.config.Browser
	var url string

	if m.isRemote() {
		url = cfg.ControlURL
		logger.Info(ctx, "Using remote Chrome browser, control URL: %s", url)
	} else {
		logger.Info(ctx, "Starting local Chrome browser (headless: %v)", cfg.Headless)

		l := launcher.New().
			Headless(cfg.Headless).
			Devtools(false).
			Leakless(false)

		if cfg.Proxy != "" {
			l = l.Proxy(cfg.Proxy)
			logger.Info(ctx, "Using proxy: %s", cfg.Proxy)
		}

		for _, arg := range cfg.LaunchArgs {
			arg = strings.TrimPrefix(arg, "--")
			if name, value, ok := strings.Cut(arg, "="); ok {
				l = l.Set(flags.Flag(name), value)
			} else {
				l = l.Set(flags.Flag(arg))
			}
		}

		if cfg.BinPath != "" {
			l = l.Bin(cfg.BinPath)
			logger.Info(ctx, "Using browser path: %s", cfg.BinPath)
		}

		if cfg.UserDataDir != "" {
			if err := os.MkdirAll(cfg.UserDataDir, 0o755); err != nil {
				logger.Warn(ctx, "Failed to create user data directory, starting without it: %v", err)
			} else {
				l = l.UserDataDir(cfg.UserDataDir)
				logger.Info(ctx, "Using user data directory: %s", cfg.UserDataDir)
			}
		}

		var err error
		url, err = l.Launch()
		if err != nil {
			logger.Error(ctx, "Failed to start browser: %v", err)
			if strings.Contains(err.Error(), "already") {
				return errors.New("Chrome is already running with the same user data directory, close it or change browser.user_data_dir")
			}
			return errors.Wrap(err, "failed to start browser")
		}
		m.launcher = l
	}

	browser := rod.New().ControlURL(url).Context(context.Background())
	if cfg.Trace {
		browser = browser.Logger(logger.RodLogger()).Trace(true)
	}
	if err := browser.Connect(); err != nil {
		if m.launcher != nil {
			m.launcher.Kill()
			m.launcher = nil
		}
		return errors.Wrap(err, "failed to connect browser")
	}

	if version, err := browser.Version(); err != nil {
		logger.Warn(ctx, "Failed to get browser version: %v", err)
	} else {
		logger.Info(ctx, "Browser product: %s, user agent: %s", version.Product, version.UserAgent)
	}

	m.browser = browser
	m.isRunning = true
	m.startTime = time.Now()

	logger.Info(ctx, "Browser started successfully")
	return nil
}

// Stop closes the browser, or only disconnects from a remote one.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning {
		return ErrNotRunning
	}

	ctx := context.Background()
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			logger.Warn(ctx, "Error when closing browser connection: %v", err)
		}
	}
	// Kill rather than Cleanup: Cleanup removes the user data directory
	if !m.isRemote() && m.launcher != nil {
		m.launcher.Kill()
		logger.Info(ctx, "Browser process terminated")
	}

	m.browser = nil
	m.launcher = nil
	m.isRunning = false
	logger.Info(ctx, "Browser stopped")
	return nil
}

// IsRunning reports whether Start succeeded and Stop has not been called.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isRunning
}

// Status describes the browser for the status endpoint.
func (m *Manager) Status() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := map[string]interface{}{
		"is_running": m.isRunning,
		"remote":     m.isRemote(),
		"runs":       m.runs,
	}
	if m.isRunning {
		status["start_time"] = m.startTime.Format(time.RFC3339)
		status["uptime"] = time.Since(m.startTime).String()
		if pages, err := m.browser.Pages(); err == nil {
			status["pages_count"] = len(pages)
		}
	}
	return status
}

func (m *Manager) newPage(ctx context.Context) (*rod.Page, error) {
	m.mu.Lock()
	browser := m.browser
	running := m.isRunning
	m.mu.Unlock()
	if !running {
		return nil, ErrNotRunning
	}

	var (
		page *rod.Page
		err  error
	)
	if m.config.Browser.UseStealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		return nil, errors.Wrap(err, "create page")
	}

	userAgent := m.config.Browser.UserAgent
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent}); err != nil {
		logger.Warn(ctx, "Failed to set user agent: %v", err)
	}
	return page, nil
}

// Run executes def with params on a fresh page and returns the record of the
// run without persisting it. Step failures are recorded, not returned.
func (m *Manager) Run(ctx context.Context, def *models.ScriptDefinition, params map[string]string) (*models.ScriptExecution, error) {
	def = def.WithParams(params)
	script, err := automation.Compile(def)
	if err != nil {
		return nil, err
	}

	page, err := m.newPage(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if m.config.Scheduler != nil && m.config.Scheduler.KeepPages {
			return
		}
		if err := page.Close(); err != nil {
			logger.Warn(ctx, "Failed to close page: %v", err)
		}
	}()

	execution := &models.ScriptExecution{
		ScriptID:   def.ID,
		ScriptName: def.Name,
		StartTime:  time.Now(),
	}

	stats := &runStats{}
	target := newRodPage(page, nil)
	sched := automation.NewScheduler(target,
		automation.WithObserver(stats),
		automation.WithDebugWriter(m.debugWriter(ctx)),
		automation.WithLogContext(ctx),
	)
	bridge, err := AttachBridge(ctx, page, sched)
	if err != nil {
		_ = sched.Close()
		return nil, err
	}
	target.bridge = bridge

	if err := sched.Execute(script, automation.InitialContext(def)); err != nil {
		bridge.Stop()
		_ = sched.Close()
		return nil, err
	}

	timeout := m.config.Scheduler.ScriptTimeoutDuration()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	waitErr := sched.Wait(waitCtx)
	cancel()

	execution.Finished = waitErr == nil
	if waitErr != nil {
		logger.Warn(ctx, "Script %s stalled: %v", def.Name, waitErr)
	}

	content, err := sched.FetchRawContents(ctx)
	if err != nil {
		logger.Warn(ctx, "Failed to fetch page content: %v", err)
	}
	execution.Content = content
	execution.Environment = sched.Context().Environment

	bridge.Stop()
	_ = sched.Close()
	target.close()

	// the observer is only written by the scheduler goroutine, which has
	// exited once Close returns
	execution.EndTime = time.Now()
	execution.Duration = execution.EndTime.Sub(execution.StartTime).Milliseconds()
	execution.TotalSteps = stats.total
	execution.SuccessSteps = stats.succeeded
	execution.FailedSteps = stats.failed
	execution.Errors = stats.errors

	switch {
	case !execution.Finished:
		execution.Success = false
		execution.ErrorMsg = waitErr.Error()
		execution.Message = fmt.Sprintf("Script did not finish within %s", timeout)
	case execution.FailedSteps > 0:
		execution.Success = false
		execution.Message = fmt.Sprintf("Script finished with %d failed steps", execution.FailedSteps)
	default:
		execution.Success = true
		execution.Message = "Script execution successful"
	}

	m.mu.Lock()
	m.runs++
	m.mu.Unlock()

	logger.Info(ctx, "Script %s: %s (%d/%d steps ok, %dms)", def.Name, execution.Message,
		execution.SuccessSteps, execution.TotalSteps, execution.Duration)
	return execution, nil
}

// PlayScript runs def and stores the execution record.
func (m *Manager) PlayScript(ctx context.Context, def *models.ScriptDefinition, params map[string]string) (*models.PlayResult, error) {
	execution, err := m.Run(ctx, def, params)
	if err != nil {
		return nil, err
	}

	if m.db != nil {
		if err := m.db.SaveScriptExecution(execution); err != nil {
			logger.Warn(ctx, "Failed to save script execution record: %v", err)
		} else {
			logger.Info(ctx, "Script execution record saved: %s", execution.ID)
		}
	}

	return &models.PlayResult{
		ExecutionID: execution.ID,
		Success:     execution.Success,
		Finished:    execution.Finished,
		Message:     execution.Message,
		Environment: execution.Environment,
		Errors:      execution.Errors,
	}, nil
}

func (m *Manager) debugWriter(ctx context.Context) logWriter {
	if m.config.Scheduler != nil && m.config.Scheduler.DebugOutput {
		return logWriter{ctx: ctx, stdout: true}
	}
	return logWriter{ctx: ctx}
}

// logWriter sends print_message output to the log, or to stdout when
// scheduler.debug_output is set.
type logWriter struct {
	ctx    context.Context
	stdout bool
}

func (w logWriter) Write(p []byte) (int, error) {
	if w.stdout {
		return os.Stdout.Write(p)
	}
	logger.Info(w.ctx, "%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// runStats counts step outcomes for the execution record.
type runStats struct {
	automation.ObserverFuncs
	total     int
	succeeded int
	failed    int
	errors    []string
}

func (r *runStats) DidCompleteStep(step automation.Step, err error) {
	r.total++
	if err != nil {
		r.failed++
		r.errors = append(r.errors, fmt.Sprintf("%s: %v", step, err))
		return
	}
	r.succeeded++
}

// LookPath reports the Chrome binary Start would use, if any.
func LookPath(cfg *config.BrowserConfig) (string, bool) {
	if cfg != nil && cfg.BinPath != "" {
		if _, err := os.Stat(cfg.BinPath); err == nil {
			return filepath.Clean(cfg.BinPath), true
		}
	}
	return launcher.LookPath()
}
