package cli

import (
	"os"
	"regexp"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/plexmend/plexmend/internal/progress"
)

var driveRe = regexp.MustCompile(`^([a-zA-Z]):(.*)$`)

// normalizePath converts Windows-style paths to WSL mount paths when
// running on a non-Windows host (C:\temp\x -> /mnt/c/temp/x). Paths pasted
// out of a Windows file browser are a common input here.
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || runtime.GOOS == "windows" {
		return path
	}
	p := strings.ReplaceAll(path, `\`, "/")
	m := driveRe.FindStringSubmatch(p)
	if m == nil {
		return p
	}
	drive := strings.ToLower(m[1])
	rest := strings.TrimLeft(m[2], "/")
	if rest == "" {
		return "/mnt/" + drive
	}
	return "/mnt/" + drive + "/" + rest
}

// newSink builds the progress sink for commands, honoring the configured
// log level.
func newSink(levelName string) progress.Sink {
	level, err := log.ParseLevel(levelName)
	if err != nil {
		level = log.InfoLevel
	}
	return progress.NewLogSink(os.Stderr, level)
}
