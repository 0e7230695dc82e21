package crawler

import (
	"fmt"
	"strings"
)

// Mode selects how targets are fetched.
type Mode string

const (
	// ModeBrowser drives a mobile browser and intercepts the page's own
	// API traffic.
	ModeBrowser Mode = "browser"
	// ModeAPI calls the catalog gateway directly.
	ModeAPI Mode = "api"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeBrowser, ModeAPI:
		return m, nil
	case "":
		return ModeBrowser, nil
	default:
		return "", fmt.Errorf("unknown crawl mode %q", s)
	}
}
