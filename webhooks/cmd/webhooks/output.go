package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	warnColor    = color.New(color.FgYellow)
)

func success(w io.Writer, format string, a ...any) {
	_, _ = successColor.Fprintf(w, "✓ "+format+"\n", a...)
}

func warn(w io.Writer, format string, a ...any) {
	_, _ = warnColor.Fprintf(w, "⚠ "+format+"\n", a...)
}

// plain writes output meant for scripts, never colored.
func plain(w io.Writer, s string) {
	_, _ = fmt.Fprintln(w, s)
}
