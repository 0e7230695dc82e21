package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Level selects which listing a traversal node fetches.
type Level int

const (
	LevelCategory Level = iota
	LevelCollection
	LevelProduct
)

func (l Level) String() string {
	switch l {
	case LevelCategory:
		return "category"
	case LevelCollection:
		return "collection"
	case LevelProduct:
		return "product"
	default:
		return "unknown"
	}
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	switch string(text) {
	case "category":
		*l = LevelCategory
	case "collection":
		*l = LevelCollection
	case "product":
		*l = LevelProduct
	default:
		return fmt.Errorf("unknown level %q", text)
	}
	return nil
}

// Params are the query parameters of one traversal node. Zero values are
// left out of rendered URLs.
type Params struct {
	BrandID         int64
	BrandName       string
	CategoryID      string
	FrontCategoryID string
	BizType         string
	CollectionID    int64
	SeriesCode      string
	Title           string
}

func (p Params) Values() url.Values {
	v := url.Values{}
	set := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	if p.BrandID != 0 {
		set("brandId", strconv.FormatInt(p.BrandID, 10))
	}
	set("categoryId", p.CategoryID)
	set("frontCategoryId", p.FrontCategoryID)
	set("bizType", p.BizType)
	set("brandName", p.BrandName)
	if p.CollectionID != 0 {
		set("collectionId", strconv.FormatInt(p.CollectionID, 10))
	}
	set("seriesCode", p.SeriesCode)
	set("title", p.Title)
	return v
}

// Target is one node of the traversal handed to a Fetcher.
type Target struct {
	Level  Level
	Params Params
	// Locator is the page the crawl started from. Category-level targets
	// navigate to it as-is when set.
	Locator string
}

// Endpoints renders targets into page URLs of the mobile site.
type Endpoints struct {
	Base           string
	CategoryPath   string
	CollectionPath string
	ProductPath    string
	// Extra is appended to collection and product URLs.
	Extra url.Values
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Base:           "https://m.aihuishou.com",
		CategoryPath:   "/n/#/category",
		CollectionPath: "/p/main/recycle/collection-list",
		ProductPath:    "/p/main/recycle/spu-list",
		Extra:          url.Values{"fullScreen": {"true"}},
	}
}

func (e Endpoints) URL(t Target) (string, error) {
	if t.Level == LevelCategory && t.Locator != "" {
		return t.Locator, nil
	}

	base, err := url.Parse(e.Base)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid base url %q", e.Base)
	}

	values := t.Params.Values()
	var path string
	switch t.Level {
	case LevelCategory:
		path = e.CategoryPath
	case LevelCollection:
		path = e.CollectionPath
	case LevelProduct:
		path = e.ProductPath
	default:
		return "", fmt.Errorf("unknown target level %d", t.Level)
	}
	if t.Level != LevelCategory {
		for key, vals := range e.Extra {
			for _, val := range vals {
				values.Add(key, val)
			}
		}
	}

	u := strings.TrimRight(e.Base, "/") + path
	if len(values) == 0 {
		return u, nil
	}
	return u + "?" + values.Encode(), nil
}
