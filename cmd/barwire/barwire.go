// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

//go:build unix

// Program barwire is a command-line utility for talking to a status bar
// daemon over a directory namespace.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/creachadair/barwire"
	"github.com/creachadair/barwire/bar"
	"github.com/creachadair/barwire/env"
	"github.com/creachadair/barwire/fakebar"
	"github.com/creachadair/barwire/ports"
	"github.com/creachadair/barwire/tokens"
	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"gopkg.in/yaml.v3"
)

var flags struct {
	Dir     string        `flag:"dir,Namespace directory (default $BARWIRE_DIR)"`
	Daemon  string        `flag:"daemon,default=git.felix.sketchybar,Name of the daemon endpoint"`
	Timeout time.Duration `flag:"timeout,default=1s,Reply timeout"`
	Debug   bool          `flag:"debug,Enable debug logging"`
}

var packFlags struct {
	Frame bool `flag:"frame,Emit a complete encoded frame rather than the bare payload"`
}

func main() {
	root := &command.C{
		Name:     filepath.Base(os.Args[0]),
		Usage:    "<command> [arguments]\nhelp [<command>]",
		Help:     "Utilities for talking to a status bar daemon.",
		SetFlags: command.Flags(flax.MustBind, &flags),
		Commands: []*command.C{
			{
				Name:  "send",
				Usage: "<token>...",
				Help: `Send a command to the daemon and print the reply.

The arguments are sent as tokens in the order given, for example:

  barwire send --set clock label=12:00
`,
				Run: runSend,
			},
			{
				Name:  "set",
				Usage: "<item> <props.yaml>",
				Help: `Set properties of an item from a YAML file.

The file holds a mapping of property names to values. Nested mappings are
flattened to dotted names, and Boolean values are sent as on/off:

  icon:
    color: 0xffffffff
  drawing: true
`,
				Run: runSet,
			},
			{
				Name:  "query",
				Usage: "<what>",
				Help:  "Query the daemon and print the reply.",
				Run:   runQuery,
			},
			{
				Name:  "listen",
				Usage: "<name>",
				Help: `Register an event endpoint and print events delivered to it.

Each event is printed as one line of key=value pairs. The endpoint is
withdrawn on interrupt.
`,
				Run: runListen,
			},
			{
				Name:  "kill",
				Usage: "<name>",
				Help:  "Send a sentinel frame to the named endpoint, causing its server to exit.",
				Run:   runKill,
			},
			{
				Name: "serve",
				Help: `Run a fake daemon that logs and echoes the commands it receives.

The daemon is registered under the name given by --daemon.
`,
				Run: runServe,
			},
			{
				Name:     "pack",
				Usage:    "<token>...",
				Help:     "Write the wire encoding of a command to stdout.",
				SetFlags: command.Flags(flax.MustBind, &packFlags),
				Run:      runPack,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// namespace returns the directory namespace selected by the flags.
func namespace() *ports.Dir {
	dir := flags.Dir
	if dir == "" {
		dir = os.Getenv("BARWIRE_DIR")
	}
	if dir == "" {
		dir = filepath.Join(os.TempDir(), fmt.Sprintf("barwire-%d", os.Getuid()))
	}
	return ports.NewDir(dir)
}

func logger() *slog.Logger {
	level := slog.LevelInfo
	if flags.Debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newClient() *barwire.Client {
	c := barwire.NewClient(namespace(), flags.Daemon)
	c.Timeout = flags.Timeout
	return c
}

// request sends buf to the daemon, terminated as a whole with a NUL, and
// prints the reply, if any.
func request(ctx context.Context, buf *tokens.Buffer) error {
	rsp, err := newClient().Request(ctx, append(buf.Flatten(), 0))
	if err != nil {
		return err
	}
	printReply(rsp)
	return nil
}

func printReply(rsp []byte) {
	if len(rsp) == 0 {
		return
	}
	var out bytes.Buffer
	if json.Indent(&out, rsp, "", "  ") != nil {
		out.Reset()
		out.Write(rsp)
	}
	if !bytes.HasSuffix(out.Bytes(), []byte("\n")) {
		out.WriteByte('\n')
	}
	os.Stdout.Write(out.Bytes())
}

func runSend(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("missing command tokens")
	}
	return request(env.Context(), wireOrder(env.Args))
}

// wireOrder returns a buffer whose wire order matches args.
func wireOrder(args []string) *tokens.Buffer {
	buf := new(tokens.Buffer)
	for i := len(args) - 1; i >= 0; i-- {
		buf.Push(args[i])
	}
	return buf
}

func runSet(env *command.Env) error {
	if len(env.Args) != 2 {
		return env.Usagef("got %d arguments, want <item> <props.yaml>", len(env.Args))
	}
	props, err := loadProps(env.Args[1])
	if err != nil {
		return err
	}
	buf := wireOrder(props.Tokens()).Push(env.Args[0]).Push("--set")
	return request(env.Context(), buf)
}

// loadProps reads a property mapping from the YAML file at path.
func loadProps(path string) (bar.Props, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var props bar.Props
	if err := yaml.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("parse %q: %w", path, err)
	}
	if len(props) == 0 {
		return nil, fmt.Errorf("no properties in %q", path)
	}
	return props, nil
}

func runQuery(env *command.Env) error {
	if len(env.Args) != 1 {
		return env.Usagef("got %d arguments, want <what>", len(env.Args))
	}
	return request(env.Context(), tokens.New(env.Args[0], "--query"))
}

func runListen(cenv *command.Env) error {
	if len(cenv.Args) != 1 {
		return cenv.Usagef("got %d arguments, want <name>", len(cenv.Args))
	}
	ctx, cancel := signal.NotifyContext(cenv.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv, err := barwire.Register(namespace(), cenv.Args[0])
	if err != nil {
		return err
	}
	srv.SetLogger(logger()).OnKill(func() {}).Start(func(_ context.Context, blob []byte) ([]byte, error) {
		var pairs []string
		for k, v := range env.All(blob) {
			pairs = append(pairs, k+"="+v)
		}
		fmt.Println(strings.Join(pairs, " "))
		return nil, nil
	})
	stop := context.AfterFunc(ctx, func() { srv.Stop() })
	defer stop()

	if err := srv.Wait(); err != nil && !errors.Is(err, barwire.ErrKilled) {
		return err
	}
	return nil
}

func runKill(env *command.Env) error {
	if len(env.Args) != 1 {
		return env.Usagef("got %d arguments, want <name>", len(env.Args))
	}
	ns := namespace()
	port, err := ns.Lookup(env.Args[0])
	if err != nil {
		return err
	}
	defer port.Close()
	_, err = barwire.Send(env.Context(), ns, port, 0, barwire.Sentinel(), false, 0)
	return err
}

func runServe(env *command.Env) error {
	ctx, cancel := signal.NotifyContext(env.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log := logger()
	d, err := fakebar.Start(namespace(), flags.Daemon, func(req fakebar.Request) []byte {
		for _, cmd := range req.Commands {
			log.Info("command", "args", cmd)
		}
		return []byte(req.String())
	})
	if err != nil {
		return err
	}
	log.Info("serving", "name", d.Name(), "dir", namespace().Path())
	stop := context.AfterFunc(ctx, func() { d.Stop() })
	defer stop()

	if err := d.Wait(); err != nil && !errors.Is(err, barwire.ErrKilled) {
		return err
	}
	return nil
}

func runPack(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("missing command tokens")
	}
	payload := append(wireOrder(env.Args).Flatten(), 0)
	if packFlags.Frame {
		f := &barwire.Frame{Type: barwire.FrameMessage, Payload: payload}
		payload = f.Encode()
	}
	_, err := os.Stdout.Write(payload)
	return err
}
