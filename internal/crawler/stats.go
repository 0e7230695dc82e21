package crawler

import (
	"time"
)

type FetchFailure struct {
	Level      Level  `json:"level"`
	URL        string `json:"url,omitempty"`
	Brand      string `json:"brand,omitempty"`
	Collection string `json:"collection,omitempty"`
	Error      string `json:"error"`
}

// Stats summarizes one crawl. Failures and empty results are recorded here
// rather than returned as errors.
type Stats struct {
	Fetches       int            `json:"fetches"`
	Skipped       int            `json:"skipped"`
	FetchFailures []FetchFailure `json:"fetchFailures"`
	Responses     int            `json:"responses"`
	Filtered      int            `json:"filtered"`
	Unrecognized  int            `json:"unrecognized"`
	Ignored       int            `json:"ignored"`
	Duplicates    int            `json:"duplicates"`
	Brands        int            `json:"brands"`
	Groups        int            `json:"groups"`
	Collections   int            `json:"collections"`
	Products      int            `json:"products"`
	EmptyBrands   []string       `json:"emptyBrands"`
	Duration      time.Duration  `json:"duration"`
}

func (s Stats) clone() Stats {
	out := s
	out.FetchFailures = append([]FetchFailure(nil), s.FetchFailures...)
	out.EmptyBrands = append([]string(nil), s.EmptyBrands...)
	return out
}
