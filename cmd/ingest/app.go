package main

import (
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"ingest/internal/config"
	"ingest/internal/ingest"
	"ingest/internal/logging"
	"ingest/internal/probe"
	"ingest/internal/storage"
)

// runtime is the state shared by the commands of one invocation. Before
// fills it from the environment and the global flags.
type runtime struct {
	deps   appDeps
	stdout io.Writer
	stderr io.Writer

	cfg   *config.Config
	log   zerolog.Logger
	runID string
}

func newApp(stdout, stderr io.Writer, deps appDeps) *cli.App {
	rt := &runtime{deps: deps, stdout: stdout, stderr: stderr, log: zerolog.Nop()}

	storeFlags := []cli.Flag{
		&cli.StringFlag{Name: "store-kind", Usage: "storage backend (postgres, sqlite, mssql, badger, memory); overrides STORE_KIND"},
		&cli.StringFlag{Name: "dsn", Usage: "store connection string; overrides DATABASE_URL"},
	}
	kindFlag := &cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "kind to operate on (see `ingest kinds`)", Required: true}

	return &cli.App{
		Name:      "ingest",
		Usage:     "Load CSV files into the influencer marketing tables",
		Writer:    stdout,
		ErrWriter: stderr,
		// runMain maps errors to exit codes; never os.Exit from inside the app.
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Aliases: []string{"l"}, Usage: "logging level (debug, info, warn, error); overrides LOG_LEVEL"},
			&cli.StringFlag{Name: "log-format", Usage: "log format (console, json); overrides LOG_FORMAT"},
			&cli.StringFlag{Name: "env-file", Usage: "dotenv file loaded before reading the environment", Value: ".env"},
		},
		Before: rt.setup,
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Import one CSV file into a kind's table",
				ArgsUsage: " ",
				Action:    rt.importAction,
				Flags: append([]cli.Flag{
					kindFlag,
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "local path or gs://bucket/object", Required: true},
					&cli.IntFlag{Name: "batch-size", Usage: "records per commit (0 = kind default)"},
					&cli.StringFlag{Name: "strategy", Usage: "commit strategy (batch, upsert)"},
					&cli.StringFlag{Name: "policy", Usage: "upsert conflict policy (ignore, update)"},
					&cli.BoolFlag{Name: "skip-existing", Usage: "drop entities whose key is already stored"},
					&cli.BoolFlag{Name: "ensure-schema", Usage: "create missing tables first"},
					&cli.StringFlag{Name: "encoding", Usage: "input charset (utf-8, latin1, windows-1252, utf-16...)"},
					&cli.StringFlag{Name: "delimiter", Usage: "field delimiter", Value: ","},
					&cli.BoolFlag{Name: "lazy-quotes", Usage: "accept bare quotes inside fields"},
					&cli.BoolFlag{Name: "fail-on-errors", Usage: fmt.Sprintf("exit %d when any record failed", exitRecordFailures)},
				}, storeFlags...),
			},
			{
				Name:   "reset",
				Usage:  "Delete every row of a kind's table and of the tables referencing it",
				Action: rt.resetAction,
				Flags: append([]cli.Flag{
					kindFlag,
					&cli.BoolFlag{Name: "confirm", Usage: "required; without it nothing is deleted"},
				}, storeFlags...),
			},
			{
				Name:   "schema",
				Usage:  "Create every missing table",
				Action: rt.schemaAction,
				Flags:  storeFlags,
			},
			{
				Name:   "probe",
				Usage:  "Sample a CSV file and report which kind it fits",
				Action: rt.probeAction,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "local path or gs://bucket/object", Required: true},
					&cli.IntFlag{Name: "rows", Usage: "data rows to sample", Value: probe.DefaultMaxRows},
					&cli.StringFlag{Name: "encoding", Usage: "input charset (utf-8, latin1, windows-1252, utf-16...)"},
					&cli.StringFlag{Name: "delimiter", Usage: "field delimiter", Value: ","},
				},
			},
			{
				Name:   "kinds",
				Usage:  "List the importable kinds",
				Action: rt.kindsAction,
			},
		},
	}
}

// setup loads configuration and logging. Flags override the environment.
func (rt *runtime) setup(c *cli.Context) error {
	if err := config.LoadDotenv(c.String("env-file")); err != nil {
		return cli.Exit(err, exitUsage)
	}
	cfg, err := config.Load()
	if err != nil {
		return cli.Exit(err, exitUsage)
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Logging.Format = c.String("log-format")
	}
	rt.cfg = cfg
	rt.runID = rt.deps.newRunID()
	rt.log = logging.Setup(rt.stderr, cfg.Logging.Level, cfg.Logging.Format).
		With().Str("run_id", rt.runID).Logger()
	return nil
}

// storeOverrides applies the per-command store flags and validates the
// result.
func (rt *runtime) storeOverrides(c *cli.Context) error {
	if c.IsSet("store-kind") {
		rt.cfg.Store.Kind = c.String("store-kind")
	}
	if c.IsSet("dsn") {
		rt.cfg.Store.DSN = c.String("dsn")
	}
	if err := rt.cfg.Validate(); err != nil {
		return cli.Exit(err, exitUsage)
	}
	return nil
}

func (rt *runtime) openStore(c *cli.Context) (storage.Store, error) {
	s, err := rt.deps.openStore(c.Context, rt.cfg.Store, func(attempt int, err error) {
		rt.log.Warn().Err(err).Int("attempt", attempt).Str("store", rt.cfg.Store.Kind).Msg("store connect failed; retrying")
	})
	if err != nil {
		return nil, rt.fatal(err)
	}
	rt.log.Debug().Str("config", rt.cfg.String()).Msg("store open")
	return s, nil
}

// fatal logs err and turns it into the fatal exit.
func (rt *runtime) fatal(err error) error {
	kind := ingest.Classify(err)
	rt.log.Error().Err(err).Str("error_kind", kind.String()).Msg("aborted")
	return cli.Exit(fmt.Sprintf("%s: %v", kind, err), exitFatal)
}

func (rt *runtime) importAction(c *cli.Context) error {
	k, err := ingest.LookupKind(c.String("kind"))
	if err != nil {
		return cli.Exit(err, exitUsage)
	}

	ic := &rt.cfg.Import
	if c.IsSet("batch-size") {
		ic.BatchSize = c.Int("batch-size")
	}
	if c.IsSet("strategy") {
		ic.Strategy = c.String("strategy")
	}
	if c.IsSet("policy") {
		ic.Policy = c.String("policy")
	}
	if c.IsSet("skip-existing") {
		ic.SkipExisting = c.Bool("skip-existing")
	}
	if c.IsSet("ensure-schema") {
		ic.EnsureSchema = c.Bool("ensure-schema")
	}
	if c.IsSet("encoding") {
		ic.Encoding = c.String("encoding")
	}
	if err := rt.storeOverrides(c); err != nil {
		return err
	}

	opts := ingest.Options{
		BatchSize:    ic.BatchSize,
		SkipExisting: ic.SkipExisting,
		Strategy:     ingest.Strategy(ic.Strategy),
		Policy:       storage.ConflictPolicy(ic.Policy),
		EnsureSchema: ic.EnsureSchema,
	}
	if err := opts.Validate(); err != nil {
		return cli.Exit(err, exitUsage)
	}
	comma, err := parseDelimiter(c.String("delimiter"))
	if err != nil {
		return cli.Exit(err, exitUsage)
	}

	log := rt.log.With().Str("kind", k.Name).Logger()
	stages := logging.Stages{L: log}
	file := c.String("file")

	// The input is read in full before the store is touched so that a
	// missing or empty file never opens a connection.
	rows, err := ingest.ReadFile(c.Context, k, file, ingest.ReadOptions{
		Encoding:   ic.Encoding,
		Comma:      comma,
		LazyQuotes: c.Bool("lazy-quotes"),
		Objects:    rt.deps.objects,
		OnError: func(line int, err error) {
			stages.Printf("stage=read kind=%s line=%d status=failed err=%v", k.Name, line, err)
		},
	})
	if err != nil {
		return rt.fatal(err)
	}

	flush, err := rt.deps.initMetrics(c.Context, rt.cfg.Metrics, log)
	if err != nil {
		return rt.fatal(err)
	}
	defer flush()

	store, err := rt.openStore(c)
	if err != nil {
		return err
	}
	defer func() {
		store.Close()
		log.Info().Msg("store closed")
	}()

	log.Info().Str("file", file).Int("rows", len(rows)).Str("strategy", ic.Strategy).Str("store", rt.cfg.Store.Kind).Msg("import started")
	res, err := (&ingest.Importer{Store: store, Logger: stages}).Import(c.Context, k, rows, opts)
	if err != nil && !errors.Is(err, ingest.ErrInterrupted) {
		return rt.fatal(err)
	}

	printSummary(rt.stdout, res)
	logSummary(log, res)

	switch {
	case err != nil:
		return rt.fatal(err)
	case c.Bool("fail-on-errors") && res.Failed > 0:
		return cli.Exit(fmt.Sprintf("%d of %d records failed", res.Failed, res.Total), exitRecordFailures)
	}
	return nil
}

func (rt *runtime) resetAction(c *cli.Context) error {
	k, err := ingest.LookupKind(c.String("kind"))
	if err != nil {
		return cli.Exit(err, exitUsage)
	}
	if err := rt.storeOverrides(c); err != nil {
		return err
	}
	store, err := rt.openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	err = ingest.Reset(c.Context, store, k, c.Bool("confirm"), logging.Stages{L: rt.log})
	switch {
	case errors.Is(err, ingest.ErrResetNotConfirmed):
		return cli.Exit(fmt.Sprintf("%v: pass --confirm to delete every row", err), exitUsage)
	case err != nil:
		return rt.fatal(err)
	}
	fmt.Fprintf(rt.stdout, "reset %s\n", k.Name)
	return nil
}

func (rt *runtime) schemaAction(c *cli.Context) error {
	if err := rt.storeOverrides(c); err != nil {
		return err
	}
	store, err := rt.openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := ingest.EnsureSchema(c.Context, store); err != nil {
		return rt.fatal(err)
	}
	fmt.Fprintf(rt.stdout, "ok: %d tables\n", len(ingest.AllTables()))
	return nil
}

func (rt *runtime) probeAction(c *cli.Context) error {
	comma, err := parseDelimiter(c.String("delimiter"))
	if err != nil {
		return cli.Exit(err, exitUsage)
	}
	enc := rt.cfg.Import.Encoding
	if c.IsSet("encoding") {
		enc = c.String("encoding")
	}
	res, err := probe.Probe(c.Context, c.String("file"), probe.Options{
		ReadOptions: ingest.ReadOptions{Encoding: enc, Comma: comma, LazyQuotes: true, Objects: rt.deps.objects},
		MaxRows:     c.Int("rows"),
	})
	if err != nil {
		return rt.fatal(err)
	}
	return probe.Render(rt.stdout, res)
}

func (rt *runtime) kindsAction(*cli.Context) error {
	printKinds(rt.stdout, ingest.Kinds())
	return nil
}

func parseDelimiter(s string) (rune, error) {
	if s == `\t` {
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if s == "" || size != len(s) || r == utf8.RuneError || r == '"' || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("delimiter %q must be a single character other than quote or newline", s)
	}
	return r, nil
}
