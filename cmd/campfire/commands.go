package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"time"

	"github.com/dan-strohschein/campfire-go/client"
)

func handleAccount(ctx context.Context, p *printer, args []string) int {
	fs := flag.NewFlagSet("account", flag.ContinueOnError)
	fs.SetOutput(p.errOut)
	cfgPath := fs.String("config", "", "config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		p.errorf("usage: campfire account [--config file] <id>")
		return 2
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		p.errorf("invalid account id %q", fs.Arg(0))
		return 2
	}

	c, ok := connect(ctx, p, *cfgPath)
	if !ok {
		return 1
	}
	defer c.Close()

	acc, err := c.GetAccount(ctx, id)
	if err != nil {
		p.errorf("%s", client.FormatError(err, c.IsDebugMode()))
		return 1
	}

	p.header("Account " + strconv.FormatInt(acc.ID, 10))
	p.fields([][2]string{
		{"name", acc.Name},
		{"level", strconv.FormatInt(acc.Level, 10)},
		{"karma (30d)", acc.Karma30.String()},
		{"sex", sexName(acc.Sex)},
		{"online", strconv.FormatBool(acc.Online)},
		{"last online", formatTime(acc.LastOnline)},
		{"banned until", formatTime(acc.BannedUntil)},
	})
	return 0
}

func handleMe(ctx context.Context, p *printer, args []string) int {
	fs := flag.NewFlagSet("me", flag.ContinueOnError)
	fs.SetOutput(p.errOut)
	cfgPath := fs.String("config", "", "config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	c, ok := connect(ctx, p, *cfgPath)
	if !ok {
		return 1
	}
	defer c.Close()

	me, err := c.Me(ctx)
	if err != nil {
		p.errorf("%s", client.FormatError(err, c.IsDebugMode()))
		return 1
	}

	p.header("Me")
	p.fields([][2]string{
		{"id", me.ID},
		{"username", me.Username},
		{"email", me.Email},
		{"created", me.CreatedAt},
	})
	if c.RefreshCount() > 0 {
		p.warn("access token was refreshed; tokens below replace the configured ones")
		printTokens(p, c.Credentials())
	}
	return 0
}

func handleLogin(ctx context.Context, p *printer, args []string) int {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(p.errOut)
	cfgPath := fs.String("config", "", "config file")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	code := fs.String("code", "", "TOTP code, when the account uses an authenticator app")
	wait := fs.Duration("wait", 5*time.Minute, "how long to wait for an email confirmation link")
	poll := fs.Duration("poll", 3*time.Second, "email confirmation poll interval")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *email == "" || *password == "" {
		p.errorf("--email and --password are required")
		return 2
	}

	c, ok := connect(ctx, p, *cfgPath)
	if !ok {
		return 1
	}
	defer c.Close()

	err := c.Login(ctx, *email, *password)
	var te *client.TokenError
	if errors.As(err, &te) && te.Kind == client.TokenTfaRequired {
		err = finishTfa(ctx, p, c, te, *code, *wait, *poll)
	}
	if err != nil {
		p.errorf("%s", client.FormatError(err, c.IsDebugMode()))
		return 1
	}

	p.success("logged in")
	printTokens(p, c.Credentials())
	return 0
}

func finishTfa(ctx context.Context, p *printer, c *client.Client, te *client.TokenError, code string, wait, poll time.Duration) error {
	switch te.Tfa {
	case client.TfaTOTP:
		if code == "" {
			return errors.New("account requires a TOTP code, pass --code")
		}
		return c.LoginTfa(ctx, te.WaitToken, code)
	case client.TfaEmailLink:
		p.warn("confirm the login from the link sent by email")
		ctx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()

		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		for {
			done, err := c.CheckTfa(ctx, te.WaitToken)
			if err != nil || done {
				return err
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("email confirmation not received: %w", ctx.Err())
			case <-ticker.C:
			}
		}
	default:
		return fmt.Errorf("unsupported second factor %q", te.Tfa)
	}
}

func handleCheck(ctx context.Context, p *printer, args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(p.errOut)
	cfgPath := fs.String("config", "", "config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	start := time.Now()
	c, ok := connect(ctx, p, *cfgPath)
	if !ok {
		return 1
	}
	defer c.Close()

	info := c.GetDebugInfo()
	p.header("Campfire connection")
	rows := [][2]string{
		{"connected in", time.Since(start).Round(time.Millisecond).String()},
		{"user agent", c.UserAgent()},
		{"auth state", c.GetState().String()},
	}
	for _, backend := range []string{"root", "melior"} {
		if b, ok := info[backend].(map[string]interface{}); ok {
			rows = append(rows, [2]string{backend, fmt.Sprintf("%v (healthy: %v)", b["target"], b["healthy"])})
		}
	}
	p.fields(rows)
	p.success("both servers reachable")
	return 0
}

// printTokens prints credentials as lines for a .env file.
func printTokens(p *printer, creds *client.Credentials) {
	if creds == nil {
		return
	}
	fmt.Fprintf(p.out, "CAMPFIRE_ACCESS_TOKEN=%s\n", creds.AccessToken)
	fmt.Fprintf(p.out, "CAMPFIRE_REFRESH_TOKEN=%s\n", creds.RefreshToken)
}

func sexName(s client.Sex) string {
	switch s {
	case client.SexMale:
		return "male"
	case client.SexFemale:
		return "female"
	default:
		return "unknown"
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
