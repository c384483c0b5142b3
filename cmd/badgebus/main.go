package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

// env 命令的输入输出，测试中替换
type env struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

type command struct {
	name  string
	usage string
	run   func(args []string, e env) error
}

var commands = []command{
	{"read", "read [--stdin] <hex...>      decode bytes and print frames", runRead},
	{"write", "write [flags] <command> [data...]  print the encoded frame as hex", runWrite},
	{"serve", "serve [flags]                 run the link with console and journal", runServe},
	{"run", "run [flags] <script.yaml>     execute a scenario over the link", runScript},
}

// errUsage 参数错误，已输出用法
var errUsage = errors.New("usage error")

func main() {
	os.Exit(execute(os.Args[1:], env{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}))
}

func execute(args []string, e env) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		usage(e.stderr)
		if len(args) == 0 {
			return 2
		}
		return 0
	}
	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		err := c.run(args[1:], e)
		switch {
		case err == nil, errors.Is(err, pflag.ErrHelp):
			return 0
		case errors.Is(err, errUsage):
			return 2
		default:
			fmt.Fprintf(e.stderr, "badgebus %s: %v\n", c.name, err)
			return 1
		}
	}
	fmt.Fprintf(e.stderr, "badgebus: unknown command %q\n", args[0])
	usage(e.stderr)
	return 2
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: badgebus <command> [arguments]")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %s\n", c.usage)
	}
}

func newFlagSet(name string, e env) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.SortFlags = false
	return fs
}

// addServiceFlags serve 与 run 共用的配置参数，名称与 config.Load 的绑定一致
func addServiceFlags(fs *pflag.FlagSet) *string {
	path := fs.StringP("config", "c", "", "config file (default ./configs/badgebus.yaml or $BADGE_CONFIG)")
	fs.String("mode", "", "link mode: serial | tcp | listen")
	fs.String("device", "", "serial device")
	fs.Int("baud", 0, "serial baud rate")
	fs.String("addr", "", "tcp address to dial or listen on")
	fs.String("http", "", "console listen address")
	fs.String("log-level", "", "log level: debug | info | warn | error")
	fs.String("journal", "", "journal backend: memory | redis")
	return path
}

func usageErr(fs *pflag.FlagSet, w io.Writer, format string, args ...any) error {
	fmt.Fprintf(w, "badgebus %s: %s\n", fs.Name(), fmt.Sprintf(format, args...))
	fs.PrintDefaults()
	return errUsage
}
