package cdp

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/PentesterFlow/spiderdive/internal/cdp/cdptest"
	sderrors "github.com/PentesterFlow/spiderdive/internal/errors"
	"github.com/PentesterFlow/spiderdive/internal/logger"
)

// =============================================================================
// Argument Tests
// =============================================================================

func TestBuildArgs(t *testing.T) {
	cfg := DefaultLaunchConfig()
	cfg.UserAgent = "spiderdive-test"
	cfg.ExtraFlags = []string{"--lang=en-US"}

	args := BuildArgs(cfg, "/tmp/profile")
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"--remote-debugging-port=0",
		"--user-data-dir=/tmp/profile",
		"--no-first-run",
		"--no-default-browser-check",
		"--no-sandbox",
		"--disable-background-timer-throttling",
		"--disable-renderer-backgrounding",
		"--headless=new",
		"--window-size=1920,1080",
		"--user-agent=spiderdive-test",
		"--lang=en-US",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %v", want, args)
		}
	}
	if args[len(args)-1] != "about:blank" {
		t.Errorf("last arg = %q, want about:blank", args[len(args)-1])
	}

	cfg.Headless = false
	if strings.Contains(strings.Join(BuildArgs(cfg, "/p"), " "), "--headless") {
		t.Error("headless flag present with Headless=false")
	}
}

// =============================================================================
// Executable Resolution Tests
// =============================================================================

func TestCandidates_Order(t *testing.T) {
	orig := rodLookPath
	defer func() { rodLookPath = orig }()
	rodLookPath = func() (string, bool) { return "/opt/rod/chrome", true }

	got := Candidates("/custom/chrome")
	if len(got) < 3 {
		t.Fatalf("Candidates() = %v", got)
	}
	if got[0] != "/custom/chrome" || got[1] != "/opt/rod/chrome" || got[2] != wellKnownExecutables[0] {
		t.Errorf("Candidates() order = %v", got[:3])
	}

	rodLookPath = func() (string, bool) { return "", false }
	if got := Candidates(""); got[0] != wellKnownExecutables[0] {
		t.Errorf("Candidates(\"\")[0] = %q, want %q", got[0], wellKnownExecutables[0])
	}
}

func TestResolveExecutable_NotFound(t *testing.T) {
	origLook, origWell := rodLookPath, wellKnownExecutables
	defer func() { rodLookPath, wellKnownExecutables = origLook, origWell }()

	rodLookPath = func() (string, bool) { return "", false }
	wellKnownExecutables = []string{"spiderdive-no-such-browser-a", "spiderdive-no-such-browser-b"}

	_, err := ResolveExecutable(context.Background(), "")
	if !errors.Is(err, sderrors.ErrBrowserNotFound) {
		t.Fatalf("ResolveExecutable() error = %v, want browser not found", err)
	}
	if !strings.Contains(err.Error(), "spiderdive-no-such-browser-b") {
		t.Errorf("error should list candidates: %v", err)
	}
}

func TestResolveExecutable_FirstThatAnswersVersion(t *testing.T) {
	dir := t.TempDir()
	broken := writeExecutable(t, dir, "broken")
	working := writeExecutable(t, dir, "working")

	origLook, origWell, origProbe := rodLookPath, wellKnownExecutables, versionProbe
	defer func() { rodLookPath, wellKnownExecutables, versionProbe = origLook, origWell, origProbe }()

	rodLookPath = func() (string, bool) { return broken, true }
	wellKnownExecutables = []string{working}
	versionProbe = func(ctx context.Context, path string) error {
		if path == broken {
			return errors.New("exit status 1")
		}
		return nil
	}

	got, err := ResolveExecutable(context.Background(), "")
	if err != nil {
		t.Fatalf("ResolveExecutable() error = %v", err)
	}
	if got != working {
		t.Errorf("ResolveExecutable() = %q, want %q", got, working)
	}
}

func TestLaunch_ReportsExitStatus(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a shell script executable")
	}
	path := t.TempDir() + string(os.PathSeparator) + "crashing"
	if err := os.WriteFile(path, []byte("#!/bin/sh\necho 'no display' >&2\nexit 3\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	origProbe := versionProbe
	defer func() { versionProbe = origProbe }()
	versionProbe = func(context.Context, string) error { return nil }

	cfg := DefaultLaunchConfig()
	cfg.ExecPath = path
	cfg.LaunchTimeout = 5 * time.Second
	_, err := Launch(context.Background(), cfg, logger.Nop())
	if !errors.Is(err, sderrors.ErrLaunchTimeout) {
		t.Fatalf("Launch() error = %v, want ErrLaunchTimeout", err)
	}
	if !strings.Contains(err.Error(), "exit status 3") {
		t.Errorf("Launch() error = %q, want the exit status", err)
	}
}

func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	path := dir + string(os.PathSeparator) + name
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// =============================================================================
// Endpoint Discovery Tests
// =============================================================================

func TestAwaitDevToolsURL(t *testing.T) {
	stderr := io.NopCloser(strings.NewReader(
		"[1234:5678:ERROR] something noisy\n" +
			"DevTools listening on ws://127.0.0.1:41234/devtools/browser/abc-def\n" +
			"more output\n"))

	got, err := awaitDevToolsURL(context.Background(), stderr, make(chan struct{}), 10*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("awaitDevToolsURL() error = %v", err)
	}
	if got != "ws://127.0.0.1:41234/devtools/browser/abc-def" {
		t.Errorf("awaitDevToolsURL() = %q", got)
	}
}

func TestAwaitDevToolsURL_Timeout(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	start := time.Now()
	_, err := awaitDevToolsURL(context.Background(), r, make(chan struct{}), 10*time.Millisecond, 80*time.Millisecond)
	if !errors.Is(err, sderrors.ErrLaunchTimeout) {
		t.Fatalf("awaitDevToolsURL() error = %v, want launch timeout", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout took far longer than configured")
	}
}

func TestAwaitDevToolsURL_ProcessExited(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	exited := make(chan struct{})
	close(exited)

	_, err := awaitDevToolsURL(context.Background(), r, exited, 10*time.Millisecond, time.Second)
	if !errors.Is(err, sderrors.ErrLaunchTimeout) {
		t.Fatalf("awaitDevToolsURL() error = %v, want launch timeout", err)
	}
}

func TestDebugBaseURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"ws://127.0.0.1:9222/devtools/browser/x", "http://127.0.0.1:9222", false},
		{"ws://localhost:1/devtools/browser/y", "http://localhost:1", false},
		{"garbage", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := debugBaseURL(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("debugBaseURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("debugBaseURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Target Discovery Tests
// =============================================================================

func TestListTargets_FirstPage(t *testing.T) {
	srv := cdptest.NewServer()
	defer srv.Close()

	targets, err := ListTargets(context.Background(), http.DefaultClient, srv.URL)
	if err != nil {
		t.Fatalf("ListTargets() error = %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("len(targets) = %d, want 2", len(targets))
	}

	page, err := FirstPageTarget(targets, srv.URL)
	if err != nil {
		t.Fatalf("FirstPageTarget() error = %v", err)
	}
	if page.ID != "TARGET1" || page.WebSocketDebuggerURL != srv.WSURL() {
		t.Errorf("page target = %+v", page)
	}
}

func TestFirstPageTarget_None(t *testing.T) {
	_, err := FirstPageTarget([]TargetInfo{{ID: "w", Type: "service_worker"}}, "http://x")
	if !errors.Is(err, sderrors.ErrNoTargetAvailable) {
		t.Errorf("FirstPageTarget() error = %v, want no target", err)
	}
}

func TestProcess_PageTargetRetriesThenFails(t *testing.T) {
	srv := cdptest.NewServer()
	defer srv.Close()
	srv.NoTargets = true

	p := &Process{DebugURL: srv.URL, http: http.DefaultClient, log: logger.Nop()}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := p.PageTarget(ctx)
	if !errors.Is(err, sderrors.ErrNoTargetAvailable) {
		t.Errorf("PageTarget() error = %v, want no target", err)
	}
}

func TestListTargets_Unreachable(t *testing.T) {
	_, err := ListTargets(context.Background(), http.DefaultClient, "http://127.0.0.1:1")
	if !errors.Is(err, sderrors.ErrNetwork) {
		t.Errorf("ListTargets() error = %v, want network error", err)
	}
}

// =============================================================================
// Dial Tests
// =============================================================================

func TestDial_ConnectTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	// Accept but never answer the handshake.
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	start := time.Now()
	_, err = Dial(context.Background(), "ws://"+ln.Addr().String()+"/devtools/page/x", 100*time.Millisecond)
	if !errors.Is(err, sderrors.ErrConnectTimeout) {
		t.Fatalf("Dial() error = %v, want connect timeout", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Dial() did not honor its timeout")
	}
}

func TestDial_Refused(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/devtools/page/x", time.Second)
	if err == nil {
		t.Fatal("Dial() should fail on a closed port")
	}
	if errors.Is(err, sderrors.ErrConnectTimeout) {
		t.Error("refused dial should not be reported as a timeout")
	}
}
