package cliutil

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"runtime"

	"github.com/mattn/go-isatty"
)

var runtimeGOOS = runtime.GOOS

// SupportsHyperlinks reports whether stdout is a terminal known to render
// OSC 8 links.
func SupportsHyperlinks() bool {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return false
	}
	return terminalSupportsLinks(os.Getenv)
}

func terminalSupportsLinks(getenv func(string) string) bool {
	switch getenv("TERM") {
	case "", "dumb", "alacritty":
		return false
	}
	for _, key := range []string{"WT_SESSION", "VTE_VERSION", "KONSOLE_VERSION", "KITTY_WINDOW_ID", "WEZTERM_EXECUTABLE", "TERM_PROGRAM"} {
		if getenv(key) != "" {
			return true
		}
	}
	return false
}

func hyperlink(label, target string) string {
	return "\x1b]8;;" + target + "\x1b\\" + label + "\x1b]8;;\x1b\\"
}

// FileLink renders path as a file:// link when the terminal supports it.
func FileLink(path string) string {
	if !SupportsHyperlinks() {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return hyperlink(path, (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String())
}

// OpenPath opens a downloaded file with the desktop's default application.
func OpenPath(path string) error {
	if path == "" {
		return errors.New("path is empty")
	}
	switch runtimeGOOS {
	case "darwin":
		return execCommand("open", path).Start()
	case "linux", "freebsd":
		return execCommand("xdg-open", path).Start()
	case "windows":
		return execCommand("rundll32", "url.dll,FileProtocolHandler", path).Start()
	default:
		return errors.New("unsupported platform")
	}
}
