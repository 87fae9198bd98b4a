package adapter

import "time"

// Config configures the Telegram adapter.
type Config struct {
	Token       string
	PollTimeout time.Duration

	// APIURL overrides the Bot API base URL (tests, local Bot API server).
	APIURL string

	// SendRatePerSec caps outbound API calls; Telegram throttles bots above ~30/s.
	SendRatePerSec int
}

const defaultAPIURL = "https://api.telegram.org"

func (c Config) withDefaults() Config {
	if c.PollTimeout <= 0 {
		c.PollTimeout = 10 * time.Second
	}
	if c.APIURL == "" {
		c.APIURL = defaultAPIURL
	}
	if c.SendRatePerSec <= 0 {
		c.SendRatePerSec = 20
	}
	return c
}
