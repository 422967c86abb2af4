// Command x3fs creates, inspects and populates x3fs images and moves them
// to and from blob storage.
//
// Usage:
//
//	x3fs [-v] [-json] <command> [flags] <image> [args]
//
// Commands:
//
//	mkfs      format a new image
//	stat      print geometry and usage
//	ls        list a directory
//	tree      print the directory tree
//	mkdir     create a directory
//	rm        remove a file, link or directory tree
//	cpi       copy a host file into the image
//	cpo       copy a file out of the image
//	cat       print a file
//	fsck      check image consistency
//	snapshot  push, pull, list or delete image snapshots
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hupe1980/x3fs"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, env *env, args []string) error
}

var commands = []command{
	{"mkfs", "format a new image", runMkfs},
	{"stat", "print geometry and usage", runStat},
	{"ls", "list a directory", runLs},
	{"tree", "print the directory tree", runTree},
	{"mkdir", "create a directory", runMkdir},
	{"rm", "remove a file, link or directory tree", runRm},
	{"cpi", "copy a host file into the image", runCpi},
	{"cpo", "copy a file out of the image", runCpo},
	{"cat", "print a file", runCat},
	{"fsck", "check image consistency", runFsck},
	{"snapshot", "push, pull, list or delete image snapshots", runSnapshot},
}

// env carries the process-wide state shared by all commands.
type env struct {
	stdout io.Writer
	stderr io.Writer
	logger *x3fs.Logger
}

// errUsage reports a usage error; the message has already been printed.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("x3fs", flag.ContinueOnError)
	flags.SetOutput(stderr)
	verbose := flags.Bool("v", false, "log debug records")
	jsonLogs := flags.Bool("json", false, "log as JSON")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "usage: x3fs [-v] [-json] <command> [flags] <image> [args]")
		fmt.Fprintln(stderr, "\ncommands:")
		for _, c := range commands {
			fmt.Fprintf(stderr, "  %-9s %s\n", c.name, c.summary)
		}
		fmt.Fprintln(stderr, "\nflags:")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return 2
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := newLogger(stderr, level, *jsonLogs)

	e := &env{stdout: stdout, stderr: stderr, logger: logger}
	name, rest := flags.Arg(0), flags.Args()[1:]
	for _, c := range commands {
		if c.name != name {
			continue
		}
		if err := c.run(ctx, e, rest); err != nil {
			if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
				return 2
			}
			fmt.Fprintf(stderr, "x3fs %s: %v\n", name, err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(stderr, "x3fs: unknown command %q\n", name)
	flags.Usage()
	return 2
}

func newLogger(w io.Writer, level slog.Level, asJSON bool) *x3fs.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if asJSON {
		return x3fs.NewLogger(slog.NewJSONHandler(w, opts))
	}
	return x3fs.NewLogger(slog.NewTextHandler(w, opts))
}

// newFlags returns a flag set for a subcommand whose positional arguments
// are described by usage.
func (e *env) newFlags(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet("x3fs "+name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.Usage = func() {
		fmt.Fprintf(e.stderr, "usage: x3fs %s [flags] %s\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

// parse parses args and checks the number of positional arguments.
func parse(fs *flag.FlagSet, args []string, minArgs, maxArgs int) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() < minArgs || fs.NArg() > maxArgs {
		fs.Usage()
		return errUsage
	}
	return nil
}
