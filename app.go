package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"jk-analytics/config"
	"jk-analytics/models"
	"jk-analytics/scraper/krisha"
	"jk-analytics/services"
	"jk-analytics/storage"
)

var errUsage = errors.New("usage")

type app struct {
	cfg    *config.Config
	logger *zap.Logger

	store     *storage.Store
	directory *storage.CachedDirectory
	registry  *services.ExclusionRegistry
	analytics *services.AnalyticsService
	snapshots *services.SnapshotRecorder
	finder    *services.OpportunityFinder
	printer   *services.Printer

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	store, err := storage.Open(ctx, cfg.DBDriver, cfg.DSN(), logger)
	if err != nil {
		return nil, err
	}

	directory := storage.NewCachedDirectory(store, cfg.DirectoryCacheTTL)
	registry := services.NewExclusionRegistry(store, directory, logger)
	analytics := services.NewAnalyticsService(store, cfg.Analytics, logger)

	a := &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		directory: directory,
		registry:  registry,
		analytics: analytics,
		snapshots: services.NewSnapshotRecorder(store, logger),
		finder:    services.NewOpportunityFinder(directory, registry, analytics, cfg.Analytics, logger),
		printer:   services.NewPrinter(os.Stdout),
	}
	a.closers = append(a.closers, func() { _ = store.Close() })
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	err := a.dispatch(ctx, command, args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	return err
}

func (a *app) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "scrape":
		return a.scrape(ctx, args)
	case "complexes":
		return a.complexes(ctx, args)
	case "blacklist":
		return a.blacklist(ctx, args)
	case "analyze":
		return a.analyze(ctx, args)
	case "snapshot":
		return a.snapshot(ctx, args)
	case "trend":
		return a.trend(ctx, args)
	case "opportunities":
		return a.opportunities(ctx, args)
	}
	return errUsage
}

func (a *app) scrape(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("scrape", pflag.ContinueOnError)
	kind := fs.String("kind", "both", "rental, sale or both")
	onlyMissing := fs.Bool("only-missing", false, "skip targets already observed today")
	names := fs.StringSlice("complex", nil, "complex names or ids (default: every complex in CITY)")
	pages := fs.Int("pages", a.cfg.Ingest.PagesToScrape, "search pages per target")
	archive := fs.Bool("raw-csv", false, "archive raw listings to OUTPUT_DIR")
	if err := fs.Parse(args); err != nil {
		return err
	}

	kinds, err := parseKinds(*kind)
	if err != nil {
		return err
	}
	complexes, err := a.selectComplexes(ctx, *names)
	if err != nil {
		return err
	}
	if len(complexes) == 0 {
		return &models.ValidationError{Field: "complex", Reason: "no complexes in directory for " + a.cfg.City}
	}

	fetcher := krisha.NewFetcher(a.cfg.Ingest, a.logger)
	if bf, ok := fetcher.(*krisha.BrowserFetcher); ok {
		defer bf.Close()
	}
	scraper := krisha.New(a.cfg, fetcher, a.logger)
	orch := services.NewOrchestrator(scraper, a.store, a.registry, services.NewNormalizer(a.logger), a.cfg.Ingest, a.logger)

	lock, release, err := a.runLock(ctx)
	if err != nil {
		return err
	}
	defer release()
	orch.WithRunLock(lock)

	if *archive {
		path := filepath.Join(a.cfg.OutputDir, fmt.Sprintf("raw_%s.csv", time.Now().Format("20060102_150405")))
		w, err := storage.NewCSVWriter(path)
		if err != nil {
			return err
		}
		defer w.Close()
		orch.WithRawWriter(w)
		a.logger.Info("archiving raw listings", zap.String("path", path))
	}

	report, err := orch.RunCycle(ctx, services.Targets(complexes, kinds...), models.CycleOptions{
		SkipIfPresent: *onlyMissing,
		MaxPages:      *pages,
	})
	if report != nil {
		a.printer.Cycle(report)
	}
	if err != nil {
		return err
	}
	if report.Failed > 0 && report.Succeeded == 0 {
		return fmt.Errorf("every attempted target failed: %w", report.Err())
	}
	return nil
}

// runLock returns the Redis lock when REDIS_ADDR is set, else a local one.
func (a *app) runLock(ctx context.Context) (storage.RunLock, func(), error) {
	if a.cfg.RedisAddr == "" {
		return storage.NewLocalRunLock(), func() {}, nil
	}
	client, err := storage.NewRedisClient(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewRedisRunLock(client, 6*time.Hour), func() { _ = client.Close() }, nil
}

func (a *app) selectComplexes(ctx context.Context, names []string) ([]models.Complex, error) {
	if len(names) == 0 {
		return a.directory.List(ctx, []string{a.cfg.City})
	}
	out := make([]models.Complex, 0, len(names))
	for _, n := range names {
		c, err := a.directory.Resolve(ctx, n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (a *app) complexes(ctx context.Context, args []string) error {
	if len(args) > 0 && args[0] == "add" {
		fs := pflag.NewFlagSet("complexes add", pflag.ContinueOnError)
		id := fs.String("id", "", "krisha complex id")
		name := fs.String("name", "", "complex name")
		city := fs.String("city", a.cfg.City, "city")
		district := fs.String("district", "", "district")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		c := models.Complex{ID: *id, Name: *name, City: *city, District: *district}
		if err := a.directory.Upsert(ctx, c); err != nil {
			return err
		}
		a.logger.Info("complex saved", zap.String("complex_id", c.ID), zap.String("name", c.Name))
		return nil
	}

	fs := pflag.NewFlagSet("complexes", pflag.ContinueOnError)
	cities := fs.StringSlice("city", nil, "filter by city")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := a.directory.List(ctx, *cities)
	if err != nil {
		return err
	}
	a.printer.Complexes(list)
	return nil
}

func (a *app) blacklist(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	fs := pflag.NewFlagSet("blacklist", pflag.ContinueOnError)
	reason := fs.String("reason", "", "why the complex is excluded")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	switch args[0] {
	case "list":
		entries, err := a.registry.List(ctx)
		if err != nil {
			return err
		}
		a.printer.Exclusions(entries)
		return nil
	case "add", "remove":
		if fs.NArg() != 1 {
			return errUsage
		}
	default:
		return errUsage
	}

	key := fs.Arg(0)
	if args[0] == "add" {
		entry, created, err := a.registry.Add(ctx, key, *reason)
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("excluded %s (%s)\n", entry.ComplexName, entry.ComplexID)
		} else {
			fmt.Printf("%s was already excluded; reason updated\n", entry.ComplexName)
		}
		return nil
	}

	removed, err := a.registry.Remove(ctx, key)
	if err != nil {
		return err
	}
	if removed {
		fmt.Printf("exclusion lifted for %s\n", key)
	} else {
		fmt.Printf("%s was not excluded\n", key)
	}
	return nil
}

func (a *app) analyze(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("analyze", pflag.ContinueOnError)
	name := fs.String("complex", "", "complex name or id")
	date := fs.String("date", "", "observation date YYYY-MM-DD (default: latest)")
	tolerance := fs.Float64("tolerance", a.cfg.Analytics.AreaTolerance, "rental/sale area tolerance in m²")
	kind := fs.String("kind", "both", "rental, sale or both")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := a.analyzeRequest(ctx, *name, *date, *kind)
	if err != nil {
		return err
	}
	if fs.Changed("tolerance") {
		req.AreaTolerance = tolerance
	}

	analysis, err := a.analytics.Analyze(ctx, req)
	if err != nil {
		return err
	}
	a.printer.Analysis(analysis)
	return nil
}

func (a *app) analyzeRequest(ctx context.Context, name, date, kind string) (models.AnalyzeRequest, error) {
	if name == "" {
		return models.AnalyzeRequest{}, &models.ValidationError{Field: "complex", Reason: "--complex is required"}
	}
	c, err := a.directory.Resolve(ctx, name)
	if err != nil {
		return models.AnalyzeRequest{}, err
	}
	req := models.AnalyzeRequest{ComplexName: c.Name, Kinds: models.KindFilter(strings.ToUpper(kind))}
	switch req.Kinds {
	case models.FilterBoth, models.FilterRental, models.FilterSale:
	default:
		return req, &models.ValidationError{Field: "kind", Reason: "must be rental, sale or both"}
	}
	if date != "" {
		d, err := models.ParseDate(date)
		if err != nil {
			return req, err
		}
		req.Date = &d
	}
	return req, nil
}

func (a *app) snapshot(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("snapshot", pflag.ContinueOnError)
	name := fs.String("complex", "", "complex name or id")
	all := fs.Bool("all", false, "snapshot every complex in CITY")
	date := fs.String("date", "", "snapshot date YYYY-MM-DD (default: today)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*name == "") == !*all {
		return &models.ValidationError{Field: "complex", Reason: "pass exactly one of --complex or --all"}
	}

	on := models.Today()
	if *date != "" {
		d, err := models.ParseDate(*date)
		if err != nil {
			return err
		}
		on = d
	}

	var complexes []models.Complex
	if *all {
		list, err := a.directory.List(ctx, []string{a.cfg.City})
		if err != nil {
			return err
		}
		complexes = list
	} else {
		c, err := a.directory.Resolve(ctx, *name)
		if err != nil {
			return err
		}
		complexes = []models.Complex{c}
	}

	var failed error
	for _, c := range complexes {
		if excluded, err := a.registry.IsExcludedComplex(ctx, c); err != nil {
			return err
		} else if excluded {
			continue
		}
		analysis, err := a.analytics.Analyze(ctx, models.AnalyzeRequest{ComplexName: c.Name, Kinds: models.FilterBoth})
		if err != nil {
			failed = multierr.Append(failed, err)
			continue
		}
		snap, err := a.snapshots.Record(ctx, c.Name, on, analysis)
		if err != nil {
			failed = multierr.Append(failed, err)
			continue
		}
		fmt.Printf("snapshot %s@%s: rentals=%d sales=%d insufficient=%t\n",
			snap.ComplexName, snap.SnapshotDate, snap.TotalRentals, snap.TotalSales, snap.InsufficientData)
	}
	return failed
}

func (a *app) trend(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("trend", pflag.ContinueOnError)
	name := fs.String("complex", "", "complex name or id")
	from := fs.String("from", "", "first date YYYY-MM-DD")
	to := fs.String("to", "", "last date YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return &models.ValidationError{Field: "complex", Reason: "--complex is required"}
	}
	c, err := a.directory.Resolve(ctx, *name)
	if err != nil {
		return err
	}

	fromDate, err := optionalDate(*from)
	if err != nil {
		return err
	}
	toDate, err := optionalDate(*to)
	if err != nil {
		return err
	}
	snaps, err := a.snapshots.List(ctx, c.Name, fromDate, toDate)
	if err != nil {
		return err
	}
	a.printer.Trend(c.Name, snaps)
	return nil
}

func (a *app) opportunities(ctx context.Context, args []string) error {
	req := a.finder.DefaultRequest()

	fs := pflag.NewFlagSet("opportunities", pflag.ContinueOnError)
	cities := fs.StringSlice("city", []string{a.cfg.City}, "cities to scan")
	fs.Float64Var(&req.DiscountThreshold, "discount", req.DiscountThreshold, "minimum discount vs median (fraction)")
	fs.Float64Var(&req.YieldThreshold, "yield", req.YieldThreshold, "minimum annual yield (fraction)")
	fs.IntVar(&req.Limit, "limit", req.Limit, "maximum candidates")
	maxPrice := fs.Int64("max-price", 0, "maximum listing price")
	flatTypes := fs.StringSlice("flat-type", nil, "Studio, 1BR, 2BR or 3BR+")
	export := fs.String("export", "", "write results to OUTPUT_DIR as csv or xlsx")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req.Cities = *cities
	if fs.Changed("max-price") {
		req.MaxPrice = maxPrice
	}
	for _, ft := range *flatTypes {
		req.FlatTypes = append(req.FlatTypes, models.FlatType(ft))
	}

	cands, err := a.finder.Find(ctx, req)
	if err != nil {
		return err
	}
	a.printer.Opportunities(cands)

	if *export == "" {
		return nil
	}
	exporter, path, err := a.exporter(*export)
	if err != nil {
		return err
	}
	if err := exporter.Export(cands); err != nil {
		_ = exporter.Close()
		return err
	}
	if err := exporter.Close(); err != nil {
		return err
	}
	a.logger.Info("opportunities exported", zap.String("path", path), zap.Int("rows", len(cands)))
	return nil
}

func (a *app) exporter(format string) (storage.OpportunityExporter, string, error) {
	base := filepath.Join(a.cfg.OutputDir, "opportunities_"+time.Now().Format("20060102"))
	switch strings.ToLower(format) {
	case "csv":
		w, err := storage.NewOpportunityCSV(base + ".csv")
		return w, base + ".csv", err
	case "xlsx":
		w, err := storage.NewXLSXWriter(base + ".xlsx")
		return w, base + ".xlsx", err
	}
	return nil, "", &models.ValidationError{Field: "export", Reason: "must be csv or xlsx"}
}

func parseKinds(s string) ([]models.Kind, error) {
	if strings.EqualFold(s, "both") {
		return []models.Kind{models.KindRental, models.KindSale}, nil
	}
	k, err := models.ParseKind(s)
	if err != nil {
		return nil, err
	}
	return []models.Kind{k}, nil
}

func optionalDate(s string) (*models.Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := models.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
