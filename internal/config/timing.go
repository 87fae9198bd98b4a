package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPollTimeout = 10 * time.Second
	DefaultJobTimeout  = 30 * time.Second
	DefaultBusyTimeout = time.Second
	// DefaultPeriod is the cadence of both the announcement and the update check.
	DefaultPeriod = 24 * time.Hour
	MinPeriod     = time.Minute
)

// Timing is every duration the bot runs with, defaults applied. A zero
// AnnounceTimeout or UpdateTimeout means the task engine's JobTimeout.
type Timing struct {
	PollTimeout time.Duration
	JobTimeout  time.Duration
	BusyTimeout time.Duration

	AnnouncePeriod  time.Duration
	AnnounceTimeout time.Duration
	UpdatePeriod    time.Duration
	UpdateTimeout   time.Duration
}

type durationField struct {
	path string
	raw  string
	def  time.Duration
	min  time.Duration
	out  *time.Duration
}

// Timing resolves the duration strings. Empty or zero takes the default;
// negative values and periods under MinPeriod are rejected.
func (c *Config) Timing() (Timing, error) {
	var t Timing
	fields := []durationField{
		{"telegram.poll_timeout", c.Telegram.PollTimeout, DefaultPollTimeout, 0, &t.PollTimeout},
		{"task_engine.default_timeout", c.TaskEngine.DefaultTimeout, DefaultJobTimeout, 0, &t.JobTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout, DefaultBusyTimeout, 0, &t.BusyTimeout},
		{"announce.period", c.Announce.Period, DefaultPeriod, MinPeriod, &t.AnnouncePeriod},
		{"announce.timeout", c.Announce.Timeout, 0, 0, &t.AnnounceTimeout},
		{"updates.period", c.Updates.Period, DefaultPeriod, MinPeriod, &t.UpdatePeriod},
		{"updates.timeout", c.Updates.Timeout, 0, 0, &t.UpdateTimeout},
	}
	var errs []error
	for _, f := range fields {
		d, err := f.resolve()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*f.out = d
	}
	if len(errs) > 0 {
		return Timing{}, errors.Join(errs...)
	}
	return t, nil
}

func (f durationField) resolve() (time.Duration, error) {
	s := strings.TrimSpace(f.raw)
	if s == "" {
		return f.def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", f.path, f.raw, err)
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", f.path)
	case d == 0:
		return f.def, nil
	case f.min > 0 && d < f.min:
		return 0, fmt.Errorf("%s: must be at least %s", f.path, f.min)
	}
	return d, nil
}
