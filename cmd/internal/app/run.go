package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"wastewise/cmd/internal/auth/session"
	v1 "wastewise/shared/contracts/realtime/v1"

	"github.com/spf13/pflag"
)

// ErrUsage is returned for an unknown command or bad flags. Usage has
// already been printed when it is returned.
var ErrUsage = errors.New("usage")

// ErrNotLoggedIn is returned by commands that need a stored session.
var ErrNotLoggedIn = errors.New("not logged in")

type cmdIO struct {
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
}

type runFunc func(ctx context.Context, a *App, cio cmdIO) error

type command struct {
	summary string
	bind    func(fs *pflag.FlagSet) runFunc
}

var commands = map[string]command{
	"login":  {summary: "sign in and store the credential", bind: bindLogin},
	"signup": {summary: "create an account and sign in", bind: bindSignup},
	"logout": {summary: "sign out and forget the credential", bind: bindLogout},
	"whoami": {summary: "print the signed-in profile", bind: bindWhoami},
	"watch":  {summary: "stream live events as JSON lines", bind: bindWatch},
}

// Run is the CLI entrypoint used by cmd/wastewise.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return run(ctx, args, os.Stdin, os.Stdout, os.Stderr, nil)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, opts []Option) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stderr)
		if len(args) == 0 {
			return ErrUsage
		}
		return nil
	}

	name := args[0]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		printUsage(stderr)
		return ErrUsage
	}

	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	fs := pflag.NewFlagSet("wastewise "+name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	bindGlobalFlags(fs, &cfg)
	exec := cmd.bind(fs)

	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := NewLogger(stderr, cfg.LogLevel, cfg.LogFormat, cfg.LogColor)

	a, err := New(ctx, cfg, log, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	return exec(ctx, a, cmdIO{in: bufio.NewReader(stdin), out: stdout, errOut: stderr})
}

func bindGlobalFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "backend base URL (WASTEWISE_API_URL)")
	fs.StringVar(&cfg.Realtime.URL, "ws-url", cfg.Realtime.URL, "live channel base URL (WASTEWISE_WS_URL)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error (WASTEWISE_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "json or pretty (WASTEWISE_LOG_FORMAT)")
	fs.StringVar((*string)(&cfg.Store.Kind), "store", string(cfg.Store.Kind), "credential store: file, sqlite or memory (WASTEWISE_STORE)")
	fs.StringVar(&cfg.DiagAddr, "diag-addr", cfg.DiagAddr, "diagnostics listen address, empty disables (WASTEWISE_DIAG_ADDR)")
}

func printUsage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "usage: wastewise <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, name := range names {
		fmt.Fprintf(w, "  %-8s %s\n", name, commands[name].summary)
	}
}

func bindLogin(fs *pflag.FlagSet) runFunc {
	var email, password string
	var passwordStdin bool
	fs.StringVar(&email, "email", "", "account email")
	fs.StringVar(&password, "password", "", "account password")
	fs.BoolVar(&passwordStdin, "password-stdin", false, "read the password from the first line of stdin")

	return func(ctx context.Context, a *App, cio cmdIO) error {
		pw, err := resolvePassword(password, passwordStdin, cio.in)
		if err != nil {
			return err
		}
		a.Session().Bootstrap(ctx)
		if err := a.Session().Login(ctx, email, pw); err != nil {
			return err
		}
		printIdentity(cio.out, "logged in as", a.Session().State())
		return nil
	}
}

func bindSignup(fs *pflag.FlagSet) runFunc {
	var p session.Profile
	var passwordStdin bool
	fs.StringVar(&p.Name, "name", "", "display name")
	fs.StringVar(&p.Email, "email", "", "account email")
	fs.StringVar(&p.Password, "password", "", "account password")
	fs.BoolVar(&passwordStdin, "password-stdin", false, "read the password from the first line of stdin")
	fs.StringVar(&p.Role, "role", "resident", "account role")
	fs.StringVar(&p.Phone, "phone", "", "contact phone")
	fs.StringVar(&p.Address, "address", "", "pickup address")

	return func(ctx context.Context, a *App, cio cmdIO) error {
		pw, err := resolvePassword(p.Password, passwordStdin, cio.in)
		if err != nil {
			return err
		}
		p.Password = pw

		a.Session().Bootstrap(ctx)
		if err := a.Session().Signup(ctx, p); err != nil {
			if errors.Is(err, session.ErrAccountCreatedNoSession) {
				fmt.Fprintln(cio.out, "account created; sign in with `wastewise login`")
			}
			return err
		}
		printIdentity(cio.out, "signed up as", a.Session().State())
		return nil
	}
}

func bindLogout(_ *pflag.FlagSet) runFunc {
	return func(ctx context.Context, a *App, cio cmdIO) error {
		a.Session().Bootstrap(ctx)
		if err := a.Session().Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cio.out, "logged out")
		return nil
	}
}

func bindWhoami(_ *pflag.FlagSet) runFunc {
	return func(ctx context.Context, a *App, cio cmdIO) error {
		a.Session().Bootstrap(ctx)

		s := a.Session().State()
		if !s.IsAuthenticated {
			return ErrNotLoggedIn
		}
		enc := json.NewEncoder(cio.out)
		enc.SetIndent("", "  ")
		return enc.Encode(s.User)
	}
}

func bindWatch(fs *pflag.FlagSet) runFunc {
	var kinds []string
	fs.StringSliceVar(&kinds, "kind", []string{string(v1.KindAll)}, "event kinds to print (repeatable)")

	return func(ctx context.Context, a *App, cio cmdIO) error {
		selected, err := parseKinds(kinds)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}

		var mu sync.Mutex
		enc := json.NewEncoder(cio.out)
		emit := func(env v1.Envelope) {
			mu.Lock()
			defer mu.Unlock()
			_ = enc.Encode(env)
		}
		for _, k := range selected {
			unsubscribe := a.Realtime().Subscribe(k, emit)
			defer unsubscribe()
		}

		stopFail := a.Realtime().OnFailure(func(error) {
			fmt.Fprintln(cio.errOut, "live channel unavailable; retry with `wastewise watch`")
		})
		defer stopFail()

		// Subscriptions are registered first so nothing pushed right after
		// the channel opens is missed.
		a.Session().Bootstrap(ctx)
		if !a.Session().State().IsAuthenticated {
			return ErrNotLoggedIn
		}

		return a.Serve(ctx)
	}
}

func parseKinds(raw []string) ([]v1.Kind, error) {
	seen := make(map[v1.Kind]struct{}, len(raw))
	out := make([]v1.Kind, 0, len(raw))
	for _, r := range raw {
		k := v1.Kind(strings.TrimSpace(r))
		if k != v1.KindAll && !k.Valid() {
			return nil, fmt.Errorf("unknown kind %q", r)
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	if _, all := seen[v1.KindAll]; all || len(out) == 0 {
		return []v1.Kind{v1.KindAll}, nil
	}
	return out, nil
}

func resolvePassword(flagValue string, fromStdin bool, in *bufio.Reader) (string, error) {
	if !fromStdin {
		return flagValue, nil
	}
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func printIdentity(w io.Writer, prefix string, s session.State) {
	if s.User == nil {
		fmt.Fprintln(w, prefix, "(unknown)")
		return
	}
	fmt.Fprintf(w, "%s %s (%s)\n", prefix, s.User.Email, s.User.Role)
}
