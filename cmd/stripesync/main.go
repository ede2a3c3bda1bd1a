// stripesync mirrors a payment provider's entity catalog into a
// relational database, either by bulk backfill over the provider's list
// endpoints or by applying signed webhook events as they arrive.
package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitOK = iota
	exitConfig
	exitMigration
	exitRuntime
)

// exitCodeError carries a process exit code up to main.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitCodeError{code: code, err: err}
}

func main() {
	cfg := &Config{}

	root := &cobra.Command{
		Use:           "stripesync",
		Short:         "mirror a payment provider's entity catalog into a database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var logLevel string
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logrus level (trace..error)")
	root.PersistentPreRunE = func(*cobra.Command, []string) error {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return withExitCode(exitConfig, err)
		}
		log.SetLevel(level)
		return nil
	}

	for _, cmd := range []*cobra.Command{
		migrateCommand(cfg),
		backfillCommand(cfg),
		startCommand(cfg),
	} {
		cfg.Bind(cmd.Flags())
		root.AddCommand(cmd)
	}

	if err := root.Execute(); err != nil {
		log.WithError(err).Error("exiting")
		code := exitRuntime
		if coded, ok := err.(*exitCodeError); ok {
			code = coded.code
		}
		os.Exit(code)
	}
	os.Exit(exitOK)
}
