package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/masahif/sitecrawler/internal/crawler"
)

// execute runs a fresh command tree with args and returns stdout and stderr
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Cleanup(func() {
		cfgFile = ""
		viper.Reset()
	})

	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><body><a href="/ok">ok</a> <a href="/missing">missing</a></body></html>`)
		case "/ok":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><body>fine</body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

var jobIDPattern = regexp.MustCompile(`Created job ([0-9a-f-]{36})`)

func jobID(t *testing.T, out string) string {
	t.Helper()
	m := jobIDPattern.FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("no job id in output:\n%s", out)
	}
	return m[1]
}

func brokenLinkLine(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "broken-link-checker:") {
			return strings.TrimSpace(line)
		}
	}
	return ""
}

func TestSetVersionInfo(t *testing.T) {
	SetVersionInfo("1.2.3", "2023-12-01T10:00:00Z")

	expected := "1.2.3 (built 2023-12-01T10:00:00Z)"
	if rootCmd.Version != expected {
		t.Errorf("Expected version %s, got %s", expected, rootCmd.Version)
	}

	if ua := generateUserAgent(); ua != "sitecrawler/1.2.3" {
		t.Errorf("Expected user agent sitecrawler/1.2.3, got %s", ua)
	}
}

func TestRootCmd(t *testing.T) {
	root := newRootCmd()
	if root.Use != "sitecrawler" {
		t.Errorf("Expected use 'sitecrawler', got %s", root.Use)
	}

	for _, name := range []string{"crawl", "resume", "subscribers"} {
		if _, _, err := root.Find([]string{name}); err != nil {
			t.Errorf("Expected subcommand %s: %v", name, err)
		}
	}

	for _, bind := range flagBindings {
		if root.PersistentFlags().Lookup(bind.flagName) == nil {
			t.Errorf("Flag %s bound to %s does not exist", bind.flagName, bind.viperKey)
		}
	}
}

func TestHelp(t *testing.T) {
	stdout, _, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("help returned error: %v", err)
	}
	if !strings.Contains(stdout, "resume") {
		t.Errorf("help does not list the resume command:\n%s", stdout)
	}
}

func TestSubscribersCommand(t *testing.T) {
	stdout, _, err := execute(t, "subscribers")
	if err != nil {
		t.Fatalf("subscribers returned error: %v", err)
	}
	if !strings.HasPrefix(stdout, "broken-link-checker\npage-inventory\n") {
		t.Errorf("unexpected subscriber list:\n%s", stdout)
	}
	if !strings.Contains(stdout, "robots, html-crawler") {
		t.Errorf("default subscribers missing:\n%s", stdout)
	}
}

func TestShowConfig(t *testing.T) {
	stdout, _, err := execute(t, "crawl", "https://example.com", "--show-config", "-c", "7")
	if err != nil {
		t.Fatalf("show-config returned error: %v", err)
	}

	for _, want := range []string{"concurrency: 7", "- https://example.com", "driver: sqlite"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("expected %q in output:\n%s", want, stdout)
		}
	}
}

func TestShowConfigFromEnvironment(t *testing.T) {
	t.Setenv("SC_CONCURRENCY", "9")
	t.Setenv("SC_QUEUE_DRIVER", "memory")

	stdout, _, err := execute(t, "crawl", "--show-config")
	if err != nil {
		t.Fatalf("show-config returned error: %v", err)
	}
	if !strings.Contains(stdout, "concurrency: 9") || !strings.Contains(stdout, "driver: memory") {
		t.Errorf("environment not applied:\n%s", stdout)
	}
}

func TestInitConfig(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "sitecrawler.yml")
	configContent := `
concurrency: 5
request_delay: 2
user_agent: "TestAgent/1.0"
queue:
  driver: memory
`
	if err := os.WriteFile(configFile, []byte(configContent), 0o644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	// flags win over the config file
	stdout, stderr, err := execute(t, "crawl", "https://example.com", "--config", configFile, "--show-config", "-c", "3")
	if err != nil {
		t.Fatalf("show-config returned error: %v", err)
	}

	if !strings.Contains(stderr, "Using config file: "+configFile) {
		t.Errorf("config file not reported:\n%s", stderr)
	}
	for _, want := range []string{"concurrency: 3", "request_delay: 2", "user_agent: TestAgent/1.0", "driver: memory"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("expected %q in output:\n%s", want, stdout)
		}
	}
}

func TestCrawlRequiresBaseURIs(t *testing.T) {
	_, _, err := execute(t, "crawl", "--queue-driver", "memory")
	if !errors.Is(err, errNoBaseURIs) {
		t.Errorf("expected errNoBaseURIs, got %v", err)
	}
}

func TestCrawlRejectsInvalidConfig(t *testing.T) {
	_, _, err := execute(t, "crawl", "https://example.com", "--queue-driver", "redis")
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("expected invalid configuration error, got %v", err)
	}
}

func TestCrawlRejectsUnknownSubscribers(t *testing.T) {
	_, _, err := execute(t, "crawl", "https://example.com", "--queue-driver", "memory", "-s", "spell-checker")

	var selErr *crawler.InvalidSubscriberSelectionError
	if !errors.As(err, &selErr) {
		t.Fatalf("expected InvalidSubscriberSelectionError, got %v", err)
	}
	if !strings.Contains(err.Error(), "broken-link-checker") {
		t.Errorf("error should list the valid names: %v", err)
	}
}

func TestResumeArguments(t *testing.T) {
	if _, _, err := execute(t, "resume"); err == nil {
		t.Error("expected an error without job id")
	}

	dbPath := filepath.Join(t.TempDir(), "sitecrawler.db")
	_, _, err := execute(t, "resume", "0b6f3c1e-4d5a-4b8e-9f10-2a3b4c5d6e7f", "--database", dbPath, "--log-level", "error")
	var unknown *crawler.UnknownJobError
	if !errors.As(err, &unknown) {
		t.Errorf("expected UnknownJobError, got %v", err)
	}
}

func TestCrawlAndResume(t *testing.T) {
	srv := newSite(t)
	dbPath := filepath.Join(t.TempDir(), "data", "sitecrawler.db")
	common := []string{"--database", dbPath, "--delay", "0.1", "--log-level", "error"}

	stdout, _, err := execute(t, append([]string{"crawl", srv.URL}, common...)...)
	if !errors.Is(err, ErrResultNotOK) {
		t.Fatalf("expected ErrResultNotOK for a broken link, got %v", err)
	}
	id := jobID(t, stdout)

	first := brokenLinkLine(stdout)
	if !strings.HasPrefix(first, "[FAILED]") || !strings.Contains(first, "1 were broken") {
		t.Errorf("unexpected broken link result: %q", first)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database not created: %v", err)
	}

	// nothing is left to crawl, the stored results are carried over unchanged
	stdout, _, err = execute(t, append([]string{"resume", id}, common...)...)
	if !errors.Is(err, ErrResultNotOK) {
		t.Fatalf("expected ErrResultNotOK on resume, got %v", err)
	}
	if !strings.Contains(stdout, "Resuming job "+id) {
		t.Errorf("resume output missing job id:\n%s", stdout)
	}
	if second := brokenLinkLine(stdout); second != first {
		t.Errorf("resumed result %q differs from %q", second, first)
	}
}

func TestLimitStopsResumably(t *testing.T) {
	srv := newSite(t)
	dbPath := filepath.Join(t.TempDir(), "sitecrawler.db")
	common := []string{"--database", dbPath, "--delay", "0.1", "--log-level", "error", "-c", "1"}

	stdout, _, err := execute(t, append([]string{"crawl", srv.URL, "--limit", "1"}, common...)...)
	if err != nil {
		t.Fatalf("stopped crawl with healthy links should succeed, got %v", err)
	}
	id := jobID(t, stdout)
	if !strings.Contains(stdout, "sitecrawler resume "+id) {
		t.Errorf("resume hint missing:\n%s", stdout)
	}

	stdout, _, err = execute(t, append([]string{"resume", id}, common...)...)
	if !errors.Is(err, ErrResultNotOK) {
		t.Fatalf("expected the resumed run to find the broken link, got %v", err)
	}
	if line := brokenLinkLine(stdout); !strings.Contains(line, "Checked 2 link(s) successfully. 1 were broken!") {
		t.Errorf("results not merged across runs: %q", line)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{ErrResultNotOK, 2},
		{errors.New("boom"), 1},
	}

	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
