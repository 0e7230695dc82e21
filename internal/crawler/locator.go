package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// Locator is the category page a crawl starts from, with whatever category
// identifiers it names explicitly.
type Locator struct {
	Raw             string
	CategoryID      string
	FrontCategoryID string
	BizType         string
}

// ParseLocator reads category identifiers from the query string and from a
// query embedded in the URL fragment (/n/#/category?frontCategoryId=6).
// subFrontCategoryId names the leaf category and wins over frontCategoryId.
func ParseLocator(raw string) (Locator, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return Locator{}, fmt.Errorf("failed to parse locator: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Locator{}, fmt.Errorf("locator must be an http(s) url: %q", raw)
	}

	query := u.Query()
	if i := strings.Index(u.Fragment, "?"); i >= 0 {
		fragmentQuery, err := url.ParseQuery(u.Fragment[i+1:])
		if err == nil {
			for key, vals := range fragmentQuery {
				query[key] = vals
			}
		}
	}

	loc := Locator{
		Raw:             raw,
		CategoryID:      query.Get("categoryId"),
		FrontCategoryID: query.Get("frontCategoryId"),
		BizType:         query.Get("bizType"),
	}
	if sub := query.Get("subFrontCategoryId"); sub != "" {
		loc.FrontCategoryID = sub
	}
	return loc, nil
}
