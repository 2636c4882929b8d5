package execx

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Runner abstracts command execution so callers can be unit-tested without
// launching real programs.
type Runner interface {
	Run(name string, args ...string) error
}

// OSRunner executes commands on the host via os/exec.
type OSRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func NewOSRunner(stdout, stderr io.Writer) *OSRunner {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &OSRunner{Stdout: stdout, Stderr: stderr}
}

func (r *OSRunner) Run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = r.Stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %s", err.Error(), msg)
		}
		return err
	}
	if stderr.Len() > 0 && r.Stderr != nil {
		_, _ = io.Copy(r.Stderr, &stderr)
	}
	return nil
}

// BrowserCommand returns the program that opens a URL in the desktop browser
// on the given GOOS.
func BrowserCommand(goos string) string {
	switch goos {
	case "darwin":
		return "open"
	case "windows":
		return "explorer"
	default:
		return "xdg-open"
	}
}

// OpenBrowser opens url with the platform's browser launcher.
func OpenBrowser(r Runner, url string) error {
	return openBrowser(r, runtime.GOOS, url)
}

func openBrowser(r Runner, goos, url string) error {
	name := BrowserCommand(goos)
	if err := r.Run(name, url); err != nil {
		// explorer reports a non-zero status even when the browser opened.
		if goos == "windows" {
			return nil
		}
		return fmt.Errorf("open browser with %s: %w", name, err)
	}
	return nil
}
