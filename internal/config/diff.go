package config

import (
	"slices"
	"strings"

	logx "quotebot/pkg/logx"
)

// Section names reported by SummarizeConfigChange.
const (
	SectionTelegram   = "telegram"
	SectionLogging    = "logging"
	SectionScheduler  = "scheduler"
	SectionTaskEngine = "task_engine"
	SectionStorage    = "storage"
	SectionAnnounce   = "announce"
	// SectionAnnounceTiming is reported in addition to SectionAnnounce when a
	// change moves fire times (at, period, timeout).
	SectionAnnounceTiming = "announce.timing"
	SectionUpdates        = "updates"
)

// Change lists the sections that differ between two configs.
type Change struct {
	Sections []string
}

func (c Change) Has(section string) bool { return slices.Contains(c.Sections, section) }

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeConfigChange compares two configs and returns the changed sections
// plus log attributes describing the new values. Secrets (the bot token) are
// never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) (Change, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		ch    Change
		attrs []logx.Field
	)
	mark := func(section string, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		attrs = append(attrs, fields...)
	}

	o, n := oldCfg.Telegram, newCfg.Telegram
	if o.Token != n.Token || !trimEq(o.PollTimeout, n.PollTimeout) || o.APIURL != n.APIURL || o.SendRatePerSec != n.SendRatePerSec {
		mark(SectionTelegram,
			logx.String("telegram.poll_timeout", strings.TrimSpace(n.PollTimeout)),
			logx.Bool("telegram.token_changed", o.Token != n.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		l := newCfg.Logging
		mark(SectionLogging,
			logx.String("logging.level", l.Level),
			logx.Bool("logging.console", l.Console),
			logx.Bool("logging.file", l.File.Enabled),
			logx.Bool("logging.chat", l.Chat.Enabled),
		)
	}

	if !trimEq(oldCfg.Scheduler.Timezone, newCfg.Scheduler.Timezone) {
		mark(SectionScheduler, logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)))
	}

	if oldCfg.TaskEngine != newCfg.TaskEngine {
		te := newCfg.TaskEngine
		mark(SectionTaskEngine,
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.queue_size", te.QueueSize),
			logx.String("task_engine.default_timeout", te.DefaultTimeout),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		mark(SectionStorage, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	oa, na := oldCfg.Announce, newCfg.Announce
	timing := !trimEq(oa.At, na.At) || !trimEq(oa.Period, na.Period) || !trimEq(oa.Timeout, na.Timeout)
	if timing || oa.Title != na.Title || oa.ThreadID != na.ThreadID || oa.ReactionsEnabled() != na.ReactionsEnabled() ||
		!slices.Equal(oa.Emotes, na.Emotes) || oa.QuotesPath != na.QuotesPath || oa.Seed != na.Seed {
		mark(SectionAnnounce,
			logx.String("announce.at", strings.TrimSpace(na.At)),
			logx.Bool("announce.reactions", na.ReactionsEnabled()),
			logx.Int("announce.thread_id", na.ThreadID),
		)
		if timing {
			ch.Sections = append(ch.Sections, SectionAnnounceTiming)
		}
	}

	if oldCfg.Updates != newCfg.Updates {
		u := newCfg.Updates
		mark(SectionUpdates,
			logx.Bool("updates.enabled", u.Enabled),
			logx.String("updates.repo", u.Repo),
			logx.String("updates.period", u.Period),
		)
	}

	return ch, attrs
}

func trimEq(a, b string) bool { return strings.TrimSpace(a) == strings.TrimSpace(b) }
