// Command campfire is a small command-line client for the Campfire servers.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/dan-strohschein/campfire-go/client"
	"github.com/dan-strohschein/campfire-go/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	p := newPrinter(stdout, stderr)
	if len(args) < 1 {
		printUsage(p)
		return 2
	}

	command, rest := args[0], args[1:]
	switch command {
	case "account":
		return handleAccount(ctx, p, rest)
	case "me":
		return handleMe(ctx, p, rest)
	case "login":
		return handleLogin(ctx, p, rest)
	case "check":
		return handleCheck(ctx, p, rest)
	case "env":
		text, err := config.Usage()
		if err != nil {
			p.errorf("%v", err)
			return 1
		}
		fmt.Fprintln(p.out, text)
		return 0
	case "version", "-v", "--version":
		fmt.Fprintf(p.out, "%s %s\n", client.LibraryName, client.Version)
		return 0
	case "help", "-h", "--help":
		printUsage(p)
		return 0
	default:
		p.errorf("unknown command: %s", command)
		printUsage(p)
		return 2
	}
}

func printUsage(p *printer) {
	fmt.Fprintln(p.out, p.paint(ansiBold+ansiCyan, "campfire")+" - Campfire client\n")
	fmt.Fprintln(p.out, "Usage:")
	fmt.Fprintln(p.out, "  campfire "+p.paint(ansiYellow, "<command>")+" [options]\n")
	fmt.Fprintln(p.out, "Commands:")
	fmt.Fprintln(p.out, "  "+p.paint(ansiGreen, "account")+"   Show a Root account by id")
	fmt.Fprintln(p.out, "  "+p.paint(ansiGreen, "me")+"        Show the authenticated Melior account")
	fmt.Fprintln(p.out, "  "+p.paint(ansiGreen, "login")+"     Log in and print tokens for .env")
	fmt.Fprintln(p.out, "  "+p.paint(ansiGreen, "check")+"     Connect to both servers and report")
	fmt.Fprintln(p.out, "  "+p.paint(ansiGreen, "env")+"       List configuration variables")
	fmt.Fprintln(p.out, "  "+p.paint(ansiGreen, "version")+"   Show version information")
	fmt.Fprintln(p.out, "\nEvery command accepts --config <file.yaml|file.toml>; "+config.EnvPath+" is used otherwise.")
}

// connect loads configuration and builds a client.
func connect(ctx context.Context, p *printer, path string) (*client.Client, bool) {
	cfg, err := config.Load(path)
	if err != nil {
		p.errorf("config: %v", err)
		return nil, false
	}
	c, err := cfg.Builder().Build(ctx)
	if err != nil {
		p.errorf("connect: %s", client.FormatError(err, cfg.Log.Debug))
		return nil, false
	}
	return c, true
}
