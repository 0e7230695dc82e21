package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/maltedev/recycle-crawler/internal/crawler"
	"github.com/maltedev/recycle-crawler/internal/parser"
)

// Options configures the gateway client. CollectionPath is optional; when
// empty every brand takes the direct product path.
type Options struct {
	BaseURL        string
	BrandPath      string
	ProductPath    string
	CollectionPath string
	PageSize       int
	MaxPages       int
	Timeout        time.Duration
	Headers        map[string]string
	Cookies        map[string]string
}

func DefaultOptions() Options {
	return Options{
		BaseURL:     "https://dubai.aihuishou.com",
		BrandPath:   "/trade-front/api/trade/brand/list",
		ProductPath: "/trade-front/api/trade/product/list",
		PageSize:    50,
		MaxPages:    10,
		Timeout:     10 * time.Second,
		Headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
			"Accept":          "application/json, text/plain, */*",
			"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
			"Origin":          "https://m.aihuishou.com",
			"Referer":         "https://m.aihuishou.com/",
		},
		Cookies: map[string]string{
			"chosenCity": "%7B%22id%22%3A1%2C%22name%22%3A%22%E4%B8%8A%E6%B5%B7%E5%B8%82%22%7D",
		},
	}
}

// Client talks to the trade gateway directly and implements crawler.Fetcher.
// Responses are delivered synchronously, before Fetch returns.
type Client struct {
	http   *resty.Client
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseURL)
	client.SetTimeout(opts.Timeout)
	client.SetHeaders(opts.Headers)
	for name, value := range opts.Cookies {
		client.SetCookie(&http.Cookie{Name: name, Value: value})
	}

	return &Client{
		http:   client,
		opts:   opts,
		logger: logger.With("component", "gateway"),
	}
}

func (c *Client) Fetch(ctx context.Context, target crawler.Target, deliver crawler.ResponseHandler) error {
	path, query, err := c.request(target)
	if err != nil {
		return err
	}
	if target.Level == crawler.LevelProduct {
		return c.fetchProducts(ctx, path, query, target.Params.BrandID, deliver)
	}
	_, err = c.get(ctx, path, query, deliver)
	return err
}

// URL renders the first request a target issues.
func (c *Client) URL(target crawler.Target) (string, error) {
	path, query, err := c.request(target)
	if err != nil {
		return "", err
	}
	if target.Level == crawler.LevelProduct {
		query.Set("pageNo", "1")
	}
	return strings.TrimRight(c.opts.BaseURL, "/") + path + "?" + query.Encode(), nil
}

func (c *Client) request(target crawler.Target) (string, url.Values, error) {
	p := target.Params
	switch target.Level {
	case crawler.LevelCategory:
		return c.opts.BrandPath, url.Values{"frontCategoryId": {p.FrontCategoryID}}, nil
	case crawler.LevelCollection:
		if c.opts.CollectionPath == "" {
			return "", nil, crawler.ErrLevelSkipped
		}
		return c.opts.CollectionPath, p.Values(), nil
	case crawler.LevelProduct:
		query := url.Values{}
		query.Set("brandId", strconv.FormatInt(p.BrandID, 10))
		query.Set("pageSize", strconv.Itoa(c.opts.PageSize))
		if p.FrontCategoryID != "" {
			query.Set("frontCategoryId", p.FrontCategoryID)
		}
		if p.CollectionID != 0 {
			query.Set("collectionId", strconv.FormatInt(p.CollectionID, 10))
		}
		return c.opts.ProductPath, query, nil
	default:
		return "", nil, fmt.Errorf("unsupported target level %s", target.Level)
	}
}

// fetchProducts walks the paginated product list until a page comes back
// empty or MaxPages is reached.
func (c *Client) fetchProducts(ctx context.Context, path string, query url.Values, brandID int64, deliver crawler.ResponseHandler) error {
	for page := 1; page <= c.opts.MaxPages; page++ {
		query.Set("pageNo", strconv.Itoa(page))

		body, err := c.get(ctx, path, query, deliver)
		if err != nil {
			if page == 1 {
				return err
			}
			c.logger.Warn("stopping pagination", "brand_id", brandID, "page", page, "error", err)
			return nil
		}
		if !hasRecords(body) {
			break
		}
		c.logger.Debug("fetched product page", "brand_id", brandID, "page", page)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, deliver crawler.ResponseHandler) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(query).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("request %s: unexpected status %d", path, resp.StatusCode())
	}

	body := resp.Body()
	deliver(requestURL(resp), body)
	return body, nil
}

func requestURL(resp *resty.Response) string {
	if resp.Request != nil && resp.Request.RawRequest != nil {
		return resp.Request.RawRequest.URL.String()
	}
	if resp.Request != nil {
		return resp.Request.URL
	}
	return ""
}

func hasRecords(body []byte) bool {
	for _, result := range parser.ClassifyBody(body) {
		if len(result.Records) > 0 {
			return true
		}
	}
	return false
}
