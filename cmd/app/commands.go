package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"TradeDesk/internal/di"
	"TradeDesk/internal/domain/models"
	"TradeDesk/internal/usecase"
	"TradeDesk/pkg/config"
	"TradeDesk/pkg/util"
)

func runServe(ctx context.Context, cfg *config.Config) error {
	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}
	defer cleanup()
	return app.Serve(ctx)
}

func runArchive(ctx context.Context, cfg *config.Config) error {
	if !cfg.Kafka.Enabled {
		return errors.New("kafka is disabled; nothing to archive")
	}
	archiver, cleanup, err := di.InitializeArchiver(cfg)
	if err != nil {
		return fmt.Errorf("archiver initialization failed: %w", err)
	}
	defer cleanup()
	return archiver.Run(ctx)
}

func runHealth(ctx context.Context, cfg *config.Config) error {
	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ready := app.Session.CheckHealth(ctx)
	fmt.Printf("backend %s ready=%t\n", cfg.Backend.BaseURL, ready)
	if !ready {
		return errors.New("backend is not ready")
	}
	return nil
}

func runModels(ctx context.Context, cfg *config.Config) error {
	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	catalog := app.Session.LoadModels(ctx)
	providers := make([]string, 0, len(catalog))
	for p := range catalog {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tMODEL\tNAME\tTIER")
	for _, p := range providers {
		for _, m := range catalog[p] {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p, m.ID, m.Name, m.Tier)
		}
	}
	return w.Flush()
}

func runWatchlist(ctx context.Context, cfg *config.Config, args []string) error {
	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := app.Watchlist.Load(ctx); err != nil {
		return err
	}

	action := "list"
	if len(args) > 0 {
		action = args[0]
	}
	switch action {
	case "list":
	case "toggle":
		if len(args) < 2 {
			return errors.New("toggle needs a symbol")
		}
		on, err := app.Watchlist.Toggle(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s watched=%t\n", strings.ToUpper(args[1]), on)
	case "clear":
		if err := app.Watchlist.Clear(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown watchlist action %q", action)
	}

	for _, s := range app.Watchlist.Symbols() {
		fmt.Println(s)
	}
	return nil
}

func runHistory(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	local := fs.Bool("local", false, "read the ClickHouse archive instead of the backend")
	limit := fs.Int("limit", 20, "max rows")
	if err := fs.Parse(args); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if *local {
		store, cleanup, err := di.InitializeHistoryStore(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		events, err := store.Recent(ctx, *limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "FINISHED\tSYMBOL\tSTATUS\tELAPSED\tACTION\tID")
		for _, ev := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				ev.FinishedAt.Local().Format(time.DateTime), ev.Symbol, ev.Status,
				time.Duration(ev.ElapsedMS)*time.Millisecond, ev.Action, ev.AnalysisID)
		}
		return w.Flush()
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	entries := app.Session.History(ctx)
	if len(entries) > *limit {
		entries = entries[len(entries)-*limit:]
	}
	fmt.Fprintln(w, "CREATED\tSYMBOL\tDATE\tSTATUS\tID")
	for _, e := range entries {
		created := e.CreatedAt
		if t, ok := util.ParseTime(created); ok {
			created = t.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", created, e.StockSymbol, e.AnalysisDate, e.Status, e.AnalysisID)
	}
	return w.Flush()
}

func runAnalyze(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	date := fs.String("date", time.Now().Format(time.DateOnly), "analysis date (YYYY-MM-DD)")
	analysts := fs.String("analysts", "market,social,news,fundamentals", "comma separated analysts")
	depth := fs.Int("depth", 3, "research depth 1-5")
	provider := fs.String("provider", "openai", "LLM provider")
	model := fs.String("model", "", "LLM model id")
	lang := fs.String("lang", cfg.Backend.Lang, "display language (en, zh-TW)")
	export := fs.Bool("export", false, "write the result as JSON to the export dir")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("analyze needs a symbol")
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	session := app.Session
	session.SetLang(models.NormalizeLang(*lang))

	// the first interrupt goes through the unload prompt, not straight to cancellation
	base := context.WithoutCancel(ctx)
	if !session.CheckHealth(base) {
		return errors.New("backend is not ready")
	}
	session.LoadModels(base)

	views, unsubscribe := session.Subscribe()
	defer unsubscribe()

	job, err := session.Submit(base, models.StartRequest{
		Symbol:        fs.Arg(0),
		AnalysisDate:  *date,
		Analysts:      splitList(*analysts),
		ResearchDepth: *depth,
		LLMProvider:   *provider,
		LLMModel:      *model,
	})
	if err != nil {
		return err
	}
	fmt.Printf("analysis %s started for %s\n", job.ID, job.Symbol)

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	var last string
	view := session.Snapshot()
	for !finished(view) {
		select {
		case v, ok := <-views:
			if !ok {
				return errors.New("session closed")
			}
			view = v
			last = printNew(view, last)
		case <-interrupts:
			if session.Unload(confirmAbandon) {
				fmt.Println("analysis cancelled")
				return nil
			}
		}
	}
	printNew(view, last)

	fmt.Printf("\n%s %d%% elapsed %s\n", view.State, view.Percent, view.Elapsed)
	if view.Error != "" {
		return errors.New(view.Error)
	}
	if decision := view.Result.Decision(view.Lang); decision != nil {
		b, _ := json.MarshalIndent(decision, "", "  ")
		fmt.Printf("decision:\n%s\n", b)
	}
	if report, lang, err := session.Report(view.ActiveTab); err == nil {
		fmt.Printf("\n[%s/%s]\n%v\n", view.ActiveTab, lang, report)
	}
	if *export {
		path, err := session.Export(cfg.Export.Dir)
		if err != nil {
			return err
		}
		fmt.Printf("exported %s\n", path)
	}
	return nil
}

func finished(v usecase.View) bool {
	switch v.State {
	case usecase.StateCompleted.String(), usecase.StateFailed.String(),
		usecase.StateCancelled.String(), usecase.StateTimedOut.String():
		return true
	}
	return false
}

// printNew prints the messages after last; the log may have been trimmed from the front.
func printNew(v usecase.View, last string) string {
	start := 0
	if last != "" {
		for i := len(v.Messages) - 1; i >= 0; i-- {
			if v.Messages[i] == last {
				start = i + 1
				break
			}
		}
	}
	for _, m := range v.Messages[start:] {
		fmt.Println(m)
		last = m
	}
	return last
}

func confirmAbandon() bool {
	fmt.Fprint(os.Stderr, "\nan analysis is running, abandon it? [y/N] ")
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
