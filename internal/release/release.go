// Package release reports the running version and the latest published one.
package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Version is set at build time:
//
//	go build -ldflags "-X quotebot/internal/release.Version=v1.4.0" ./cmd/quotebot
var Version = "dev"

// Current returns the version of the running binary.
func Current() string { return Version }

var ErrNoRelease = errors.New("no published release")

const defaultAPIURL = "https://api.github.com"

type Config struct {
	Repo   string // "owner/name"
	APIURL string
}

// GitHub fetches the latest release tag of a repository.
type GitHub struct {
	cfg  Config
	http *http.Client
}

func NewGitHub(cfg Config, client *http.Client) *GitHub {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &GitHub{cfg: cfg, http: client}
}

func (g *GitHub) Current() string { return Current() }

// Latest returns the tag name of the newest non-draft, non-prerelease release.
func (g *GitHub) Latest(ctx context.Context) (string, error) {
	repo := strings.Trim(strings.TrimSpace(g.cfg.Repo), "/")
	if strings.Count(repo, "/") != 1 {
		return "", fmt.Errorf("invalid release repo %q, expected owner/name", g.cfg.Repo)
	}
	url := strings.TrimRight(g.cfg.APIURL, "/") + "/repos/" + repo + "/releases/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "quotebot/"+Current())

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNoRelease
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("fetch latest release: http=%d %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode latest release: %w", err)
	}
	tag := strings.TrimSpace(out.TagName)
	if tag == "" {
		return "", ErrNoRelease
	}
	return tag, nil
}
