package cdp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/launcher"

	sderrors "github.com/PentesterFlow/spiderdive/internal/errors"
	"github.com/PentesterFlow/spiderdive/internal/logger"
)

const (
	devToolsPrefix = "DevTools listening on"

	// DefaultLaunchTimeout bounds how long the endpoint line may take to appear.
	DefaultLaunchTimeout = 5 * time.Second
	// DefaultPollInterval is the endpoint polling tick.
	DefaultPollInterval = 100 * time.Millisecond

	versionProbeTimeout = 5 * time.Second
	killWaitTimeout     = 5 * time.Second
)

// wellKnownExecutables is tried after the configured path and the rod lookup.
var wellKnownExecutables = []string{
	"headless_shell",
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"google-chrome-beta",
	"microsoft-edge",
	"/usr/bin/google-chrome",
	"/usr/bin/chromium",
	"/snap/bin/chromium",
	"chrome",
	"chrome.exe",
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
	`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
	`/Applications/Google Chrome.app/Contents/MacOS/Google Chrome`,
	`/Applications/Chromium.app/Contents/MacOS/Chromium`,
}

// rodLookPath and versionProbe are replaced in tests.
var (
	rodLookPath = launcher.LookPath

	versionProbe = func(ctx context.Context, path string) error {
		ctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
		defer cancel()
		return exec.CommandContext(ctx, path, "--version").Run()
	}
)

// LaunchConfig controls how the browser process is started.
type LaunchConfig struct {
	ExecPath      string
	Headless      bool
	UserAgent     string
	WindowWidth   int
	WindowHeight  int
	ExtraFlags    []string
	LaunchTimeout time.Duration
	PollInterval  time.Duration
}

// DefaultLaunchConfig returns a headless 1920x1080 configuration.
func DefaultLaunchConfig() LaunchConfig {
	return LaunchConfig{
		Headless:      true,
		WindowWidth:   1920,
		WindowHeight:  1080,
		LaunchTimeout: DefaultLaunchTimeout,
		PollInterval:  DefaultPollInterval,
	}
}

// BuildArgs returns the command line for a fresh profile at profileDir.
func BuildArgs(cfg LaunchConfig, profileDir string) []string {
	args := []string{
		"--remote-debugging-port=0",
		"--user-data-dir=" + profileDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--disable-background-networking",
		"--disable-background-timer-throttling",
		"--disable-backgrounding-occluded-windows",
		"--disable-renderer-backgrounding",
		"--disable-extensions",
		"--disable-sync",
		"--disable-popup-blocking",
		"--mute-audio",
	}
	if cfg.Headless {
		args = append(args, "--headless=new", "--disable-gpu", "--hide-scrollbars")
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		args = append(args, fmt.Sprintf("--window-size=%d,%d", cfg.WindowWidth, cfg.WindowHeight))
	}
	if cfg.UserAgent != "" {
		args = append(args, "--user-agent="+cfg.UserAgent)
	}
	args = append(args, cfg.ExtraFlags...)
	return append(args, "about:blank")
}

// Candidates lists the executables ResolveExecutable tries, in order.
func Candidates(preferred string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	add(preferred)
	if found, ok := rodLookPath(); ok {
		add(found)
	}
	for _, p := range wellKnownExecutables {
		add(p)
	}
	return out
}

// ResolveExecutable returns the first candidate that answers --version.
func ResolveExecutable(ctx context.Context, preferred string) (string, error) {
	candidates := Candidates(preferred)
	for _, candidate := range candidates {
		path, err := exec.LookPath(candidate)
		if err != nil {
			continue
		}
		if err := versionProbe(ctx, path); err == nil {
			return path, nil
		}
		if ctx.Err() != nil {
			return "", sderrors.NewCancelledError("resolve", ctx.Err())
		}
	}
	return "", sderrors.NewBrowserNotFoundError(candidates)
}

// TargetInfo is one entry of the /json/list discovery document.
type TargetInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Process is a running browser with its ephemeral profile.
type Process struct {
	ExecPath     string
	ProfileDir   string
	DebugURL     string // http://host:port
	BrowserWSURL string

	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error
	http    *http.Client
	log     *logger.Logger
}

// Launch starts the browser and waits for its debugging endpoint.
func Launch(ctx context.Context, cfg LaunchConfig, log *logger.Logger) (*Process, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("cdp")
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = DefaultLaunchTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	execPath, err := ResolveExecutable(ctx, cfg.ExecPath)
	if err != nil {
		return nil, err
	}

	profileDir, err := os.MkdirTemp("", "spiderdive-profile-*")
	if err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	p := &Process{
		ExecPath:   execPath,
		ProfileDir: profileDir,
		exited:     make(chan struct{}),
		http:       &http.Client{Timeout: 5 * time.Second},
		log:        log,
	}

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		os.RemoveAll(profileDir)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	p.cmd = exec.Command(execPath, BuildArgs(cfg, profileDir)...)
	p.cmd.Stderr = stderrW
	configureCommand(p.cmd)

	if err := p.cmd.Start(); err != nil {
		stderrR.Close()
		stderrW.Close()
		os.RemoveAll(profileDir)
		return nil, fmt.Errorf("start %s: %w", execPath, err)
	}
	stderrW.Close()

	go func() {
		p.waitErr = p.cmd.Wait()
		close(p.exited)
	}()

	log.Debugf("Started %s (pid %d)", execPath, p.cmd.Process.Pid)

	wsURL, err := awaitDevToolsURL(ctx, stderrR, p.exited, cfg.PollInterval, cfg.LaunchTimeout)
	if err != nil {
		select {
		case <-p.exited:
			if p.waitErr != nil {
				err = fmt.Errorf("%w: %v", err, p.waitErr)
			}
		default:
		}
		_ = p.Kill()
		return nil, err
	}

	p.BrowserWSURL = wsURL
	p.DebugURL, err = debugBaseURL(wsURL)
	if err != nil {
		_ = p.Kill()
		return nil, sderrors.NewLaunchTimeoutError("unparseable endpoint "+wsURL, err)
	}

	log.Infof("Browser endpoint at %s", p.DebugURL)
	return p, nil
}

// awaitDevToolsURL scans r for the endpoint line on a polling tick. The
// scanner keeps draining r afterwards so the child never blocks on stderr.
func awaitDevToolsURL(ctx context.Context, r io.ReadCloser, exited <-chan struct{}, poll, timeout time.Duration) (string, error) {
	found := make(chan string, 1)
	go func() {
		defer r.Close()
		scanner := bufio.NewScanner(r)
		reported := false
		for scanner.Scan() {
			if reported {
				continue
			}
			line := scanner.Text()
			if s := strings.TrimPrefix(line, devToolsPrefix); s != line {
				found <- strings.TrimSpace(s)
				reported = true
			}
		}
	}()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return "", sderrors.NewCancelledError("launch", ctx.Err())
		case <-exited:
			select {
			case u := <-found:
				return u, nil
			default:
			}
			return "", sderrors.NewLaunchTimeoutError("browser exited before announcing its endpoint", nil)
		case <-ticker.C:
			select {
			case u := <-found:
				return u, nil
			default:
			}
			if time.Now().After(deadline) {
				return "", sderrors.NewLaunchTimeoutError(
					fmt.Sprintf("no endpoint announced within %s", timeout), nil)
			}
		}
	}
}

func debugBaseURL(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", errors.New("missing host")
	}
	return "http://" + u.Host, nil
}

// ListTargets fetches the /json/list document from debugURL.
func ListTargets(ctx context.Context, client *http.Client, debugURL string) ([]TargetInfo, error) {
	endpoint := strings.TrimSuffix(debugURL, "/") + "/json/list"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, sderrors.NewNetworkError(endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, sderrors.NewNetworkError(endpoint, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var targets []TargetInfo
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return targets, nil
}

// FirstPageTarget returns the first target of type "page".
func FirstPageTarget(targets []TargetInfo, endpoint string) (*TargetInfo, error) {
	for i := range targets {
		if targets[i].Type == "page" && targets[i].WebSocketDebuggerURL != "" {
			return &targets[i], nil
		}
	}
	return nil, sderrors.NewNoTargetError(endpoint)
}

// PageTarget discovers the page target, retrying while the endpoint warms up.
func (p *Process) PageTarget(ctx context.Context) (*TargetInfo, error) {
	retrier := sderrors.NewRetrier(sderrors.DefaultRetryConfig())
	target, result := sderrors.DoWithResult(ctx, retrier, "targets", func(ctx context.Context) (*TargetInfo, error) {
		targets, err := ListTargets(ctx, p.http, p.DebugURL)
		if err != nil {
			return nil, err
		}
		return FirstPageTarget(targets, p.DebugURL)
	})
	if !result.Success {
		return nil, result.LastError
	}
	if result.Attempts > 1 {
		p.log.Debugf("Page target found after %d attempts", result.Attempts)
	}
	return target, nil
}

// Kill stops the process and removes the profile dir. Every step runs even
// if an earlier one fails.
func (p *Process) Kill() error {
	var errs []error

	if p.cmd != nil && p.cmd.Process != nil {
		select {
		case <-p.exited:
		default:
			if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				errs = append(errs, fmt.Errorf("kill browser: %w", err))
			}
			select {
			case <-p.exited:
			case <-time.After(killWaitTimeout):
				errs = append(errs, errors.New("browser did not exit after kill"))
			}
		}
	}

	if p.ProfileDir != "" {
		if err := os.RemoveAll(p.ProfileDir); err != nil {
			errs = append(errs, fmt.Errorf("remove profile dir: %w", err))
		}
	}

	return errors.Join(errs...)
}
