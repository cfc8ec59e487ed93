// licensectl is the operator tool for the license store. It opens the store
// named by the server configuration directly: the same JSON file, PostgreSQL
// database or Redis keyspace. A JSON file held open by a running server is
// refused; use the server's /admin endpoints instead.
//
// Usage:
//
//	licensectl [global flags] <command> [flags] [args]
//
// Commands:
//
//	create [n]                         provision n new keys (default 1)
//	list [--json]                      print every record
//	suspend <key>                      suspend a key
//	reset <key> [--clear-suspension]   return a key to unredeemed
//	export --format csv|xlsx --out f   write the listing to a file
//	seal-credentials --in f --out f    encrypt a service account file
//	version                            print build information
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var coded interface{ ExitCode() int }
		if errors.As(err, &coded) {
			os.Exit(coded.ExitCode())
		}
		os.Exit(1)
	}
}

// globalOptions are accepted before the command name.
type globalOptions struct {
	configPath  string
	storeDriver string
	storePath   string
	verbose     bool
}

func run(args []string, stdout, stderr io.Writer) error {
	var opts globalOptions

	flagSet := pflag.NewFlagSet("licensectl", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(false)
	flagSet.StringVarP(&opts.configPath, "config", "c", os.Getenv("LICENSE_CONFIG_FILE"), "path to a YAML configuration file")
	flagSet.StringVar(&opts.storeDriver, "store-driver", "", "override the configured store driver (memory|file|postgres|redis)")
	flagSet.StringVar(&opts.storePath, "store-path", "", "override the JSON store path")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level to stderr")
	flagSet.Usage = func() { printUsage(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(stderr, flagSet)
		return usageError("a command is required")
	}

	cmd, ok := commands[rest[0]]
	if !ok {
		printUsage(stderr, flagSet)
		return usageError("unknown command %q", rest[0])
	}

	return cmd(&commandEnv{opts: opts, stdout: stdout, stderr: stderr}, rest[1:])
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `licensectl manages license records.

Usage:
  licensectl [global flags] <command> [flags] [args]

Commands:
  create [n]                         provision n new keys (default 1)
  list [--json]                      print every record
  suspend <key>                      suspend a key
  reset <key> [--clear-suspension]   return a key to unredeemed
  export --format csv|xlsx --out f   write the listing to a file
  seal-credentials --in f --out f    encrypt a service account file
  version                            print build information

Global flags:
%s`, flagSet.FlagUsages())
}

// cliError carries a process exit code.
type cliError struct {
	code int
	msg  string
}

func (e *cliError) Error() string { return e.msg }

func (e *cliError) ExitCode() int { return e.code }

func usageError(format string, args ...any) error {
	return &cliError{code: 2, msg: fmt.Sprintf(format, args...)}
}

func notFoundError(key string) error {
	return &cliError{code: 3, msg: fmt.Sprintf("license not found: %s", key)}
}

func storeBusyError(err error) error {
	return &cliError{code: 4, msg: fmt.Sprintf(
		"%v; a running server owns this database, use its /admin/suspend, /admin/reset and /admin/licenses endpoints or stop it first", err)}
}
