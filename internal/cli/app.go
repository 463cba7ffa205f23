package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/timebridge/internal/classify"
	"github.com/roach88/timebridge/internal/config"
	"github.com/roach88/timebridge/internal/connector/jira"
	"github.com/roach88/timebridge/internal/connector/tempo"
	"github.com/roach88/timebridge/internal/connector/timelog"
	"github.com/roach88/timebridge/internal/directory"
	"github.com/roach88/timebridge/internal/engine"
	"github.com/roach88/timebridge/internal/ingest"
	"github.com/roach88/timebridge/internal/model"
	"github.com/roach88/timebridge/internal/store"
	"github.com/roach88/timebridge/internal/submit"
	"github.com/roach88/timebridge/internal/taxonomy"
)

// app wires the services one command invocation needs. Clients for
// external systems are built on demand, so commands that never call them
// do not require their credentials.
type app struct {
	cfg   *config.Config
	store *store.Store

	names *directory.Directory
}

// openApp loads the configuration and opens the database.
func openApp(opts *RootOptions) (*app, error) {
	cfg, err := opts.Config()
	if err != nil {
		return nil, err
	}
	dialect, err := store.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid database driver", err)
	}

	slog.Debug("opening database", "driver", dialect, "dsn", cfg.Database.DSN)
	st, err := store.OpenDriver(dialect, cfg.Database.DSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return &app{cfg: cfg, store: st}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// issues returns the issue tracker client, or nil when it is not configured.
func (a *app) issues() (*jira.Client, error) {
	if !a.cfg.JiraEnabled() {
		return nil, nil
	}
	return jira.New(jira.Config{
		BaseURL:  a.cfg.Jira.BaseURL,
		Email:    a.cfg.Jira.Email,
		APIToken: a.cfg.Jira.APIToken,
		HTTP:     a.cfg.ClientConfig(),
	})
}

// directory returns the display-name directory, or nil when no issue
// tracker is configured. Names are cached in redis when redis.url is set.
func (a *app) directory() (*directory.Directory, error) {
	if a.names != nil {
		return a.names, nil
	}
	jc, err := a.issues()
	if err != nil || jc == nil {
		return nil, err
	}

	var cache directory.Cache
	if a.cfg.Redis.URL != "" {
		rc, err := directory.DialRedis(a.cfg.Redis.URL, a.cfg.Redis.TTL)
		if err != nil {
			return nil, fmt.Errorf("display name cache: %w", err)
		}
		cache = rc
	}
	a.names = directory.New(jc, cache)
	return a.names, nil
}

func (a *app) classifier() *classify.Service {
	eng := engine.New(engine.WithRegexTimeout(a.cfg.Rules.RegexTimeout))
	return classify.New(a.store, classify.WithEngine(eng))
}

// importer returns an ingest coordinator that classifies after each import.
// Worklogs are enriched from the issue tracker when it is configured.
func (a *app) importer() (*ingest.Coordinator, error) {
	normOpts := []ingest.WorklogOption{
		ingest.WithEnrichConcurrency(a.cfg.Ingest.EnrichConcurrency),
	}
	jc, err := a.issues()
	if err != nil {
		return nil, err
	}
	if jc != nil {
		names, err := a.directory()
		if err != nil {
			return nil, err
		}
		normOpts = append(normOpts, ingest.WithIssueLookup(jc), ingest.WithNameLookup(names))
	} else {
		slog.Debug("issue tracker not configured, worklogs are imported without enrichment")
	}

	return ingest.NewCoordinator(a.store,
		ingest.WithClassifier(a.classifier()),
		ingest.WithWorklogNormalizer(ingest.NewWorklogNormalizer(normOpts...)),
		ingest.WithWorklogClients(a.worklogClient),
	), nil
}

// worklogClient builds a client for one worklog source. Sources without
// a base URL use tempo.base_url.
func (a *app) worklogClient(src model.Source) (ingest.WorklogFetcher, error) {
	baseURL := src.BaseURL
	if baseURL == "" {
		baseURL = a.cfg.Tempo.BaseURL
	}
	return tempo.New(tempo.Config{
		BaseURL:  baseURL,
		Token:    src.APIToken,
		PageSize: a.cfg.Tempo.PageSize,
		HTTP:     a.cfg.ClientConfig(),
	})
}

// timelog returns the booking API client; it fails when the API is not
// configured.
func (a *app) timelog() (*timelog.Client, error) {
	if err := a.cfg.RequireTimelog(); err != nil {
		return nil, err
	}
	return timelog.New(timelog.Config{
		BaseURL: a.cfg.Timelog.BaseURL,
		APIKey:  a.cfg.Timelog.APIKey,
		HTTP:    a.cfg.ClientConfig(),
	})
}

func (a *app) submitter() (*submit.Coordinator, error) {
	tl, err := a.timelog()
	if err != nil {
		return nil, err
	}
	return submit.New(a.store, tl), nil
}

func (a *app) syncer() (*taxonomy.Syncer, error) {
	tl, err := a.timelog()
	if err != nil {
		return nil, err
	}
	return taxonomy.NewSyncer(a.store, tl), nil
}

// employees returns the account mapping service. The booking API and the
// name directory are optional for listing.
func (a *app) employees(requireUsers bool) (*taxonomy.Employees, error) {
	var users taxonomy.UserLister
	tl, err := a.timelog()
	switch {
	case err == nil:
		users = tl
	case requireUsers:
		return nil, err
	}

	var names taxonomy.NameLookup
	dir, err := a.directory()
	if err != nil {
		return nil, err
	}
	if dir != nil {
		names = dir
	}
	return taxonomy.NewEmployees(a.store, users, names), nil
}

// commandContext returns a context cancelled on SIGINT or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// resolveSource finds a source by numeric id or by name.
func resolveSource(ctx context.Context, st *store.Store, ref string) (model.Source, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return st.GetSource(ctx, id)
	}
	sources, err := st.ListSources(ctx)
	if err != nil {
		return model.Source{}, err
	}
	for _, src := range sources {
		if strings.EqualFold(src.Name, ref) {
			return src, nil
		}
	}
	return model.Source{}, fmt.Errorf("source %q: %w", ref, store.ErrSourceNotFound)
}

// resolveRule finds a rule by numeric id or by name.
func resolveRule(ctx context.Context, st *store.Store, ref string) (model.Rule, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return st.GetRule(ctx, id)
	}
	rules, err := st.ListRules(ctx)
	if err != nil {
		return model.Rule{}, err
	}
	for _, r := range rules {
		if strings.EqualFold(r.Name, ref) {
			return r, nil
		}
	}
	return model.Rule{}, fmt.Errorf("rule %q: %w", ref, store.ErrRuleNotFound)
}

// resolveTarget maps external project and task ids to local ids. An empty
// task yields a nil task id.
func resolveTarget(ctx context.Context, st *store.Store, projectRef, taskRef string) (int64, *int64, error) {
	project, err := st.ProjectByExternalID(ctx, projectRef)
	if err != nil {
		return 0, nil, err
	}
	if taskRef == "" {
		return project.ID, nil, nil
	}
	task, err := st.TaskByExternalID(ctx, project.ID, taskRef)
	if err != nil {
		return 0, nil, fmt.Errorf("project %q: %w", projectRef, err)
	}
	return project.ID, &task.ID, nil
}

// parseID parses a positional record id.
func parseID(kind, arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, &model.ValidationError{Field: kind, Message: fmt.Sprintf("invalid id %q", arg)}
	}
	return id, nil
}
