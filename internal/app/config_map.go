package app

import (
	"fmt"
	"strings"

	"quotebot/internal/announce"
	"quotebot/internal/config"
	"quotebot/internal/content"
	"quotebot/internal/release"
	"quotebot/internal/storage"
	"quotebot/internal/task/engine"
	"quotebot/internal/task/scheduler"
	"quotebot/internal/timeofday"
	telegram "quotebot/internal/transport/telegram/adapter"
	"quotebot/internal/updatecheck"
	logx "quotebot/pkg/logx"
)

const defaultReleasesURLFmt = "https://github.com/%s/releases/latest"

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			ChatID:     l.Chat.ChatID,
			ThreadID:   l.Chat.ThreadID,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: l.Chat.RatePerSec,
		},
	}
}

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	tm, err := cfg.Timing()
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:          cfg.Telegram.Token,
		PollTimeout:    tm.PollTimeout,
		APIURL:         strings.TrimSpace(cfg.Telegram.APIURL),
		SendRatePerSec: cfg.Telegram.SendRatePerSec,
	}, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	tm, err := cfg.Timing()
	if err != nil {
		return engine.Config{}, err
	}
	// Zero values fall back to engine defaults.
	return engine.Config{
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: tm.JobTimeout,
		HistorySize:    te.HistorySize,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: strings.TrimSpace(cfg.Scheduler.Timezone)}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	if driver == "" {
		driver = "sqlite"
		if path == "" {
			path = config.DefaultStoragePath
		}
	}
	tm, err := cfg.Timing()
	if err != nil {
		return storage.Config{}, err
	}
	if driver == "sqlite" && path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: tm.BusyTimeout}, nil
}

func mapContentConfig(cfg *config.Config) content.Config {
	return content.Config{
		QuotesPath: strings.TrimSpace(cfg.Announce.QuotesPath),
		Reactions:  cfg.Announce.Emotes,
	}
}

func mapAnnounceConfig(cfg *config.Config) announce.Config {
	return announce.Config{
		Title:           strings.TrimSpace(cfg.Announce.Title),
		DefaultThreadID: cfg.Announce.ThreadID,
		Reactions:       cfg.Announce.ReactionsEnabled(),
	}
}

func mapReleaseConfig(cfg *config.Config) release.Config {
	return release.Config{
		Repo:   strings.TrimSpace(cfg.Updates.Repo),
		APIURL: strings.TrimSpace(cfg.Updates.APIURL),
	}
}

func mapUpdateCheckConfig(cfg *config.Config) updatecheck.Config {
	u := cfg.Updates
	url := strings.TrimSpace(u.ReleasesURL)
	if url == "" && strings.TrimSpace(u.Repo) != "" {
		url = fmt.Sprintf(defaultReleasesURLFmt, strings.TrimSpace(u.Repo))
	}
	return updatecheck.Config{OperatorUserID: u.OperatorUserID, ReleasesURL: url}
}

// mapPlan extracts the registration timing the dispatcher needs.
func mapPlan(cfg *config.Config) (Plan, error) {
	at := timeofday.Noon
	if raw := strings.TrimSpace(cfg.Announce.At); raw != "" {
		t, err := timeofday.Parse(raw)
		if err != nil {
			return Plan{}, fmt.Errorf("announce.at: %w", err)
		}
		at = t
	}
	tm, err := cfg.Timing()
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		At:              at,
		AnnouncePeriod:  tm.AnnouncePeriod,
		AnnounceTimeout: tm.AnnounceTimeout,
		Updates:         cfg.Updates.Enabled,
		UpdatePeriod:    tm.UpdatePeriod,
		UpdateTimeout:   tm.UpdateTimeout,
	}, nil
}
