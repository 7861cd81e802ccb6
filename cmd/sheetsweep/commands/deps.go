package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stplan/sheetsweep/internal/aggregator"
	"github.com/stplan/sheetsweep/internal/log"
	"github.com/stplan/sheetsweep/internal/manager"
	"github.com/stplan/sheetsweep/internal/model"
	"github.com/stplan/sheetsweep/internal/notify"
	"github.com/stplan/sheetsweep/internal/settings"
	"github.com/stplan/sheetsweep/internal/sheet"
	"github.com/stplan/sheetsweep/internal/sheet/gsheets"
	"github.com/stplan/sheetsweep/internal/storage/sqlite"
	"github.com/stplan/sheetsweep/internal/sweep"
)

// appDeps holds the wired application services shared by the commands.
type appDeps struct {
	Repository *sqlite.Repository
	Settings   *settings.Service
	Runner     *sweep.Runner
	Manager    *manager.Service
	Streams    *manager.Streams
}

// newAppDeps wires storage, settings, runner and manager from the root
// configuration plus the DB-backed settings store.
func newAppDeps(ctx context.Context, rootCmd *RootCommand) (*appDeps, error) {
	logger := rootCmd.Logger

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: rootCmd.DBPath,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}

	settingsSvc, err := settings.NewService(settings.ServiceConfig{
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create settings service: %w", err)
	}

	streams := manager.NewStreams()

	// The aggregation API is optional: forwarding stays off until the
	// operator stores a base URL.
	var agg sweep.Aggregator
	aggBaseURL, err := settingsSvc.GetDefault(ctx, model.SettingAggregatorBaseURL, "")
	if err != nil {
		return nil, fmt.Errorf("could not read aggregator setting: %w", err)
	}
	if aggBaseURL != "" {
		client, err := aggregator.NewClient(aggregator.ClientConfig{
			BaseURL: aggBaseURL,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create aggregator client: %w", err)
		}
		agg = client
	}

	runner, err := sweep.NewRunner(sweep.RunnerConfig{
		TaskRepository: repo,
		SheetOpener:    newSettingsOpener(settingsSvc, logger),
		Aggregator:     agg,
		Events:         streams,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create sweep runner: %w", err)
	}

	notifier, err := newNotifier(ctx, settingsSvc, logger)
	if err != nil {
		return nil, err
	}

	maxConcurrent, err := settingsSvc.GetInt(ctx, model.SettingMaxConcurrentTasks, 5)
	if err != nil {
		return nil, fmt.Errorf("could not read concurrency setting: %w", err)
	}
	staleThreshold, err := settingsSvc.GetSeconds(ctx, model.SettingStaleTaskThreshold, 0)
	if err != nil {
		return nil, fmt.Errorf("could not read stale threshold setting: %w", err)
	}
	externalBaseURL, err := settingsSvc.GetDefault(ctx, model.SettingExternalBaseURL, "")
	if err != nil {
		return nil, fmt.Errorf("could not read external base url setting: %w", err)
	}

	mgr, err := manager.NewService(manager.ServiceConfig{
		TaskRepository:     repo,
		Runner:             runner,
		Notifier:           notifier,
		Streams:            streams,
		MaxConcurrentTasks: maxConcurrent,
		StaleThreshold:     staleThreshold,
		ExternalBaseURL:    externalBaseURL,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create task manager: %w", err)
	}

	return &appDeps{
		Repository: repo,
		Settings:   settingsSvc,
		Runner:     runner,
		Manager:    mgr,
		Streams:    streams,
	}, nil
}

func newNotifier(ctx context.Context, settingsSvc *settings.Service, logger log.Logger) (notify.Notifier, error) {
	webhookURL, err := settingsSvc.GetDefault(ctx, model.SettingNotifyWebhookURL, "")
	if err != nil {
		return nil, fmt.Errorf("could not read webhook setting: %w", err)
	}
	if webhookURL == "" {
		return notify.Noop, nil
	}

	secret, err := settingsSvc.GetDefault(ctx, model.SettingNotifyWebhookSecret, "")
	if err != nil {
		return nil, fmt.Errorf("could not read webhook secret setting: %w", err)
	}

	webhook, err := notify.NewWebhook(notify.WebhookConfig{
		WebhookURL: webhookURL,
		Secret:     secret,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create webhook notifier: %w", err)
	}
	return webhook, nil
}

// settingsOpener defers Google Sheets authentication until the first sweep
// needs it, so commands that never touch the spreadsheet work without
// credentials configured.
type settingsOpener struct {
	settings *settings.Service
	logger   log.Logger

	mu     sync.Mutex
	opener sheet.Opener
}

func newSettingsOpener(settingsSvc *settings.Service, logger log.Logger) *settingsOpener {
	return &settingsOpener{settings: settingsSvc, logger: logger}
}

func (o *settingsOpener) resolve(ctx context.Context) (sheet.Opener, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.opener != nil {
		return o.opener, nil
	}

	tokenFile, err := o.settings.Get(ctx, model.SettingTokenFile)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("could not read token file setting: %w", err)
	}
	if tokenFile == "" {
		return nil, fmt.Errorf("google credentials are not configured: set the %q setting", model.SettingTokenFile)
	}

	proxyURL, err := o.settings.GetDefault(ctx, model.SettingProxyURL, "")
	if err != nil {
		return nil, fmt.Errorf("could not read proxy setting: %w", err)
	}

	opener, err := gsheets.NewOpener(ctx, gsheets.OpenerConfig{
		TokenFile: tokenFile,
		ProxyURL:  proxyURL,
		Logger:    o.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create sheets opener: %w", err)
	}

	o.opener = opener
	return opener, nil
}

func (o *settingsOpener) Open(ctx context.Context, req sheet.OpenRequest) (sheet.Sheet, error) {
	// Task-level credentials take precedence over the global setting.
	if req.TokenFile != "" {
		opener, err := gsheets.NewOpener(ctx, gsheets.OpenerConfig{
			TokenFile: req.TokenFile,
			ProxyURL:  req.ProxyURL,
			Logger:    o.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create sheets opener: %w", err)
		}
		return opener.Open(ctx, req)
	}

	opener, err := o.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return opener.Open(ctx, req)
}

func (o *settingsOpener) ListWorksheets(ctx context.Context, spreadsheetID string) ([]string, error) {
	opener, err := o.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return opener.ListWorksheets(ctx, spreadsheetID)
}
