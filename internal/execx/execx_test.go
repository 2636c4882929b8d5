package execx

import (
	"errors"
	"testing"
)

type recordRunner struct {
	calls [][]string
	err   error
}

func (r *recordRunner) Run(name string, args ...string) error {
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.err
}

func TestBrowserCommand(t *testing.T) {
	t.Parallel()

	cases := map[string]string{"darwin": "open", "windows": "explorer", "linux": "xdg-open", "freebsd": "xdg-open"}
	for goos, want := range cases {
		if got := BrowserCommand(goos); got != want {
			t.Fatalf("goos=%s got=%q want=%q", goos, got, want)
		}
	}
}

func TestOpenBrowser_PassesURL(t *testing.T) {
	t.Parallel()

	r := &recordRunner{}
	if err := openBrowser(r, "linux", "http://127.0.0.1:5000"); err != nil {
		t.Fatalf("openBrowser: %v", err)
	}
	if len(r.calls) != 1 || r.calls[0][0] != "xdg-open" || r.calls[0][1] != "http://127.0.0.1:5000" {
		t.Fatalf("calls=%v", r.calls)
	}
}

func TestOpenBrowser_Errors(t *testing.T) {
	t.Parallel()

	r := &recordRunner{err: errors.New("exit status 1")}
	if err := openBrowser(r, "darwin", "http://x"); err == nil {
		t.Fatalf("expected error on darwin")
	}
	if err := openBrowser(r, "windows", "http://x"); err != nil {
		t.Fatalf("windows err=%v", err)
	}
}
