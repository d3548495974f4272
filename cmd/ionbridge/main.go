// Command ionbridge runs the HL7 integration engine: it loads a
// Production configuration, builds the configured Items, and serves
// them until signalled to stop.
package main

import (
	"fmt"
	"os"
)

// Exit codes: 0 a clean run or a successful validate/init, 1 a fatal
// startup error after the configuration was accepted, 2 a configuration
// that failed to load or validate.
const (
	exitOK            = 0
	exitStartupFailed = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitInvalidConfig)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "init":
		err = initCommand(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		os.Exit(exitOK)
	default:
		fmt.Fprintf(os.Stderr, "ionbridge: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(exitInvalidConfig)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "ionbridge:", err)
		if ce, ok := err.(*cliError); ok {
			os.Exit(ce.code)
		}
		os.Exit(exitStartupFailed)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: ionbridge <command> [flags]

commands:
  run       load a configuration and serve its Items until signalled to stop
  validate  load a configuration and report errors without starting anything
  init      write a sample configuration exercising one of each Item kind`)
}

// cliError carries the process exit code a command wants, distinguishing
// a configuration problem (exitInvalidConfig) from a runtime one
// (exitStartupFailed).
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }

func configError(err error) error { return &cliError{code: exitInvalidConfig, err: err} }
