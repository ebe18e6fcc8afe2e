package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/linectl/internal/config"
	"github.com/danmuck/linectl/internal/logging"
	"github.com/danmuck/linectl/internal/transport"
)

type options struct {
	configPath  string
	target      string
	httpAddr    string
	historyPath string
	delimiter   string
	prefix      string
	reconnect   bool
	attempts    int
	baud        int
	stdin       bool

	set map[string]bool
}

func parseFlags(args []string, errOut io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("linectl", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&o.configPath, "config", "", "path to linectl.toml (optional)")
	fs.StringVar(&o.target, "target", "", "peer target: host:port, /dev/rfcomm0 (SPP "+transport.SPPUUID+"), ssh://user@host/dev/ttyX, ws://host/path")
	fs.StringVar(&o.httpAddr, "http", "", "console listen address; empty disables the console")
	fs.StringVar(&o.historyPath, "history", "", "sqlite history path; empty disables history")
	fs.StringVar(&o.delimiter, "delimiter", "", `frame delimiter: one byte, \n, \r, \0 or 0xNN`)
	fs.StringVar(&o.prefix, "prefix", "", "prefix printed before each received line")
	fs.BoolVar(&o.reconnect, "reconnect", false, "reconnect after the link drops")
	fs.IntVar(&o.attempts, "attempts", 0, "connect attempts before giving up (0 = unlimited)")
	fs.IntVar(&o.baud, "baud", 0, "serial baud rate")
	fs.BoolVar(&o.stdin, "stdin", true, "send lines read from stdin")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 && o.target == "" {
		o.target = fs.Arg(0)
	}

	o.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	if o.target != "" {
		o.set["target"] = true
	}
	return o, nil
}

// resolve loads the config file and applies explicitly set flags on top.
func (o options) resolve() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.set["target"] {
		cfg.Target = o.target
	}
	if o.set["http"] {
		cfg.HTTP.Addr = o.httpAddr
	}
	if o.set["history"] {
		cfg.History.Path = o.historyPath
	}
	if o.set["delimiter"] {
		delim, err := config.ParseDelimiter(o.delimiter)
		if err != nil {
			return config.Config{}, err
		}
		cfg.Session.Delimiter = delim
	}
	if o.set["reconnect"] {
		cfg.Reconnect = o.reconnect
	}
	if o.set["attempts"] {
		cfg.Session.MaxConnectAttempts = o.attempts
	}
	if o.set["baud"] {
		cfg.Transport.Serial.Baud = o.baud
	}
	if cfg.Target == "" {
		return config.Config{}, errors.New("linectl: a target is required (-target or config target)")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	logging.ConfigureRuntime()

	cfg, err := opts.resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "linectl: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var in io.Reader
	if opts.stdin {
		in = os.Stdin
	}
	app := newApp(cfg, in, os.Stdout, os.Stderr, opts.prefix)
	if err := app.run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "linectl: %v\n", err)
		os.Exit(1)
	}
}
