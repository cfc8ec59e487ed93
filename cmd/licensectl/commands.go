package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"licenselock/internal/config"
	"licenselock/internal/exporter"
	"licenselock/internal/infrastructure"
	"licenselock/internal/license"
	"licenselock/internal/security"
	"licenselock/internal/services"
	"licenselock/internal/store"
	"licenselock/pkg/contracts"
	"licenselock/pkg/contracts/domain"
)

type commandFunc func(env *commandEnv, args []string) error

var commands = map[string]commandFunc{
	"create":           runCreate,
	"list":             runList,
	"suspend":          runSuspend,
	"reset":            runReset,
	"export":           runExport,
	"seal-credentials": runSealCredentials,
	"version":          runVersion,
}

// commandEnv is shared by every command.
type commandEnv struct {
	opts   globalOptions
	stdout io.Writer
	stderr io.Writer
}

func (env *commandEnv) logger(cfg config.LoggingConfig) *slog.Logger {
	cfg.Format = "text"
	cfg.Level = "warn"
	if env.opts.verbose {
		cfg.Level = "debug"
	}
	return infrastructure.NewLogger(cfg, env.stderr)
}

// openEngine loads configuration and opens the store. The engine has no
// authority: commands only touch records already stored.
func (env *commandEnv) openEngine(ctx context.Context) (*license.Engine, *slog.Logger, func(), error) {
	cfg, err := config.LoadFile(env.opts.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if env.opts.storeDriver != "" {
		cfg.Store.Driver = env.opts.storeDriver
	}
	if env.opts.storePath != "" {
		cfg.Store.Path = env.opts.storePath
	}

	logger := env.logger(cfg.Logging)

	st, err := store.Open(ctx, cfg.Store, logger)
	if errors.Is(err, store.ErrStoreLocked) {
		return nil, nil, nil, storeBusyError(err)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	engine := license.NewEngine(st, nil,
		license.WithLogger(logger),
		license.WithGenerator(license.NewGenerator(license.KeyFormat{
			Prefix:    cfg.Keys.Prefix,
			Groups:    cfg.Keys.Groups,
			GroupSize: cfg.Keys.GroupSize,
			Separator: cfg.Keys.Separator,
		})),
	)

	closeFn := func() {
		if err := st.Close(); err != nil {
			logger.Warn("Failed to close store", slog.String("error", err.Error()))
		}
	}
	return engine, logger, closeFn, nil
}

func newFlagSet(env *commandEnv, name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("licensectl "+name, pflag.ContinueOnError)
	fs.SetOutput(env.stderr)
	return fs
}

func runCreate(env *commandEnv, args []string) error {
	fs := newFlagSet(env, "create")
	if err := fs.Parse(args); err != nil {
		return err
	}

	count := 1
	if fs.NArg() > 1 {
		return usageError("create takes at most one argument")
	}
	if fs.NArg() == 1 {
		n, err := strconv.Atoi(fs.Arg(0))
		if err != nil || n < 1 {
			return usageError("count must be a positive integer, got %q", fs.Arg(0))
		}
		count = n
	}

	ctx := context.Background()
	engine, _, closeFn, err := env.openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	keys, err := engine.Provision(ctx, count)
	for _, key := range keys {
		fmt.Fprintln(env.stdout, key)
	}
	if err != nil {
		return fmt.Errorf("provisioned %d of %d keys: %w", len(keys), count, err)
	}
	return nil
}

// collect drains the engine listing into domain summaries.
func collect(ctx context.Context, engine *license.Engine) ([]domain.LicenseSummary, error) {
	summaries := make([]domain.LicenseSummary, 0)
	for s, err := range engine.ListAll(ctx) {
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, services.ToDomainSummary(s))
	}
	return summaries, nil
}

func runList(env *commandEnv, args []string) error {
	fs := newFlagSet(env, "list")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	engine, _, closeFn, err := env.openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	summaries, err := collect(ctx, engine)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(env.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}

	tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSTATE\tDEVICE\tSUSPENDED")
	for _, s := range summaries {
		device := s.BoundDeviceID
		if device == "" {
			device = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", s.Key, s.ActivationState, device, s.Suspended)
	}
	meta := exporter.Summarize(summaries, time.Now())
	fmt.Fprintf(tw, "\n%d total, %d used, %d suspended\n", meta.Total, meta.Used, meta.Suspended)
	return tw.Flush()
}

func singleKey(fs *pflag.FlagSet, command string) (string, error) {
	if fs.NArg() != 1 {
		return "", usageError("%s requires exactly one key", command)
	}
	return fs.Arg(0), nil
}

func runSuspend(env *commandEnv, args []string) error {
	fs := newFlagSet(env, "suspend")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := singleKey(fs, "suspend")
	if err != nil {
		return err
	}

	ctx := context.Background()
	engine, _, closeFn, err := env.openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	found, err := engine.Suspend(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return notFoundError(key)
	}
	fmt.Fprintf(env.stdout, "License suspended: %s\n", key)
	return nil
}

func runReset(env *commandEnv, args []string) error {
	fs := newFlagSet(env, "reset")
	clearSuspension := fs.Bool("clear-suspension", false, "also lift a suspension")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := singleKey(fs, "reset")
	if err != nil {
		return err
	}

	ctx := context.Background()
	engine, _, closeFn, err := env.openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	found, err := engine.Reset(ctx, key, *clearSuspension)
	if err != nil {
		return err
	}
	if !found {
		return notFoundError(key)
	}
	if *clearSuspension {
		fmt.Fprintf(env.stdout, "License reset and reinstated: %s\n", key)
	} else {
		fmt.Fprintf(env.stdout, "License reset: %s\n", key)
	}
	return nil
}

func runExport(env *commandEnv, args []string) error {
	fs := newFlagSet(env, "export")
	formatName := fs.String("format", "csv", "output format: csv or xlsx")
	out := fs.StringP("out", "o", "", "output file")
	summaryOut := fs.String("summary", "", "also write totals as CSV to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return usageError("export requires --out")
	}
	format, err := exporter.ParseFormat(*formatName)
	if err != nil {
		return usageError("%v", err)
	}

	ctx := context.Background()
	engine, logger, closeFn, err := env.openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	summaries, err := collect(ctx, engine)
	if err != nil {
		return err
	}

	exp := exporter.NewLicenseExporter("", logger)
	meta, err := exp.Export(*out, format, summaries, time.Now())
	if err != nil {
		return err
	}
	if *summaryOut != "" {
		if err := exp.WriteSummaryCSV(*summaryOut, meta); err != nil {
			return err
		}
	}

	fmt.Fprintf(env.stdout, "Exported %d licenses to %s\n", meta.Total, *out)
	return nil
}

func runSealCredentials(env *commandEnv, args []string) error {
	fs := newFlagSet(env, "seal-credentials")
	in := fs.String("in", "", "plaintext service account JSON")
	out := fs.String("out", "", "sealed output file")
	passphrase := fs.String("passphrase", os.Getenv("LICENSE_AUTHORITY_CREDENTIALS_PASSPHRASE"), "encryption passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		return usageError("seal-credentials requires --in and --out")
	}
	if *passphrase == "" {
		return usageError("a passphrase is required (--passphrase or LICENSE_AUTHORITY_CREDENTIALS_PASSPHRASE)")
	}

	if err := security.SealCredentialsFile(*in, *out, *passphrase, nil); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "Sealed credentials written to %s\n", *out)
	return nil
}

func runVersion(env *commandEnv, _ []string) error {
	fmt.Fprintln(env.stdout, contracts.GetFullVersionString())
	return nil
}
