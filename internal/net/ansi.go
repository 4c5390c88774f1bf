package net

import (
	"fmt"
	"strings"
)

// SGR sequences used by the renderers. Only a toggle and a demo are
// supported; game text itself stays colorless.
const (
	ansiReset   = "\x1b[0m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
	ansiClear   = "\x1b[2J\x1b[H"
)

const bannerArt = `    _             _                 __  __ _   _ ____
   / \   _ __ ___ | |__   ___  _ __ |  \/  | | | |  _ \
  / _ \ | '_ ' _ \| '_ \ / _ \| '_ \| |\/| | | | | | | |
 / ___ \| | | | | | |_) | (_) | | | | |  | | |_| | |_| |
/_/   \_\_| |_| |_|_.__/ \___/|_| |_|_|  |_|\___/|____/`

// banner renders the login screen. The name comes from server.name so forks
// can rebrand without touching the transports.
func banner(name string) string {
	var sb strings.Builder
	sb.WriteString(bannerArt)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Welcome to %s.\n", name)
	sb.WriteString("Type a name to log in, or a new name to create a character.")
	return sb.String()
}

// ansiDemo renders the color capability check shown by 'ansi demo'.
func ansiDemo(enabled bool) string {
	if !enabled {
		return "Colors are off. Use 'ansi on' to turn them on."
	}
	swatches := []struct {
		code string
		name string
	}{
		{ansiRed, "red"},
		{ansiGreen, "green"},
		{ansiYellow, "yellow"},
		{ansiBlue, "blue"},
		{ansiMagenta, "magenta"},
		{ansiCyan, "cyan"},
	}
	var sb strings.Builder
	sb.WriteString("Colors are on:")
	for _, sw := range swatches {
		sb.WriteString(" ")
		sb.WriteString(sw.code)
		sb.WriteString(sw.name)
		sb.WriteString(ansiReset)
	}
	return sb.String()
}
