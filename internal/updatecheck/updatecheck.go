// Package updatecheck tells the operator when a newer release is published.
package updatecheck

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"quotebot/internal/task/engine"
	kit "quotebot/internal/transport"
	logx "quotebot/pkg/logx"
)

// VersionSource reports the running and the latest published version.
type VersionSource interface {
	Current() string
	Latest(ctx context.Context) (string, error)
}

// PrivateSender delivers a direct message to a user.
type PrivateSender interface {
	SendPrivate(ctx context.Context, userID int64, text string) error
}

type Config struct {
	OperatorUserID int64
	ReleasesURL    string
}

// VersionPair holds the running version and the latest one. Latest is empty when
// the release source was unreachable.
type VersionPair struct {
	Current string
	Latest  string
}

// Outdated reports whether both versions are known and differ, ignoring case.
func (p VersionPair) Outdated() bool {
	cur, latest := strings.TrimSpace(p.Current), strings.TrimSpace(p.Latest)
	return cur != "" && latest != "" && !strings.EqualFold(cur, latest)
}

type Job struct {
	cfg Config
	src VersionSource
	out PrivateSender
	log logx.Logger
}

func New(cfg Config, src VersionSource, out PrivateSender, log logx.Logger) *Job {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Job{cfg: cfg, src: src, out: out, log: log}
}

// Run performs one check. At most one message is sent per call.
func (j *Job) Run(ctx context.Context) error {
	p := VersionPair{Current: j.src.Current()}
	latest, err := j.src.Latest(ctx)
	if err != nil {
		return engine.Transient(fmt.Errorf("latest version: %w", err))
	}
	p.Latest = latest

	if !p.Outdated() {
		j.log.Debug("running latest version", logx.String("current", p.Current), logx.String("latest", p.Latest))
		return nil
	}
	j.log.Info("new version available", logx.String("current", p.Current), logx.String("latest", p.Latest))

	if err := j.out.SendPrivate(ctx, j.cfg.OperatorUserID, Message(p, j.cfg.ReleasesURL)); err != nil {
		if errors.Is(err, kit.ErrChatNotFound) {
			return engine.MissingTarget(fmt.Errorf("notify operator %d: %w", j.cfg.OperatorUserID, err))
		}
		return engine.Delivery(fmt.Errorf("notify operator %d: %w", j.cfg.OperatorUserID, err))
	}
	return nil
}

// Message is the operator notification text (Telegram HTML).
func Message(p VersionPair, releasesURL string) string {
	var b strings.Builder
	b.WriteString("There is a new version of quotebot available!\n")
	fmt.Fprintf(&b, "Current version: <b>%s</b>\n", html.EscapeString(p.Current))
	fmt.Fprintf(&b, "New version: <b>%s</b>", html.EscapeString(p.Latest))
	if u := strings.TrimSpace(releasesURL); u != "" {
		fmt.Fprintf(&b, "\n\nPlease visit %s to get the latest release.", html.EscapeString(u))
	}
	return b.String()
}
