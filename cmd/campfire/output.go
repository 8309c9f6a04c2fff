package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
)

// printer writes command output. Colors are off when NO_COLOR is set.
type printer struct {
	out    io.Writer
	errOut io.Writer
	color  bool
}

func newPrinter(out, errOut io.Writer) *printer {
	return &printer{out: out, errOut: errOut, color: os.Getenv("NO_COLOR") == ""}
}

func (p *printer) paint(color, text string) string {
	if !p.color {
		return text
	}
	return color + text + ansiReset
}

func (p *printer) success(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.paint(ansiGreen, "✓")+" "+fmt.Sprintf(format, args...))
}

func (p *printer) errorf(format string, args ...interface{}) {
	fmt.Fprintln(p.errOut, p.paint(ansiRed, "✗")+" "+fmt.Sprintf(format, args...))
}

func (p *printer) warn(format string, args ...interface{}) {
	fmt.Fprintln(p.out, p.paint(ansiYellow, "!")+" "+fmt.Sprintf(format, args...))
}

func (p *printer) header(title string) {
	fmt.Fprintln(p.out, "\n"+p.paint(ansiBold+ansiCyan, title))
	fmt.Fprintln(p.out, p.paint(ansiDim, strings.Repeat("─", 40)))
}

// fields prints aligned key/value rows.
func (p *printer) fields(rows [][2]string) {
	width := 0
	for _, r := range rows {
		if len(r[0]) > width {
			width = len(r[0])
		}
	}
	for _, r := range rows {
		fmt.Fprintf(p.out, "  %s  %s\n", p.paint(ansiBold, fmt.Sprintf("%-*s", width, r[0])), r[1])
	}
}
