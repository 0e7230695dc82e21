package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/recycle-crawler/internal/browser"
	"github.com/maltedev/recycle-crawler/internal/config"
	"github.com/maltedev/recycle-crawler/internal/crawler"
	"github.com/maltedev/recycle-crawler/internal/database"
	"github.com/maltedev/recycle-crawler/internal/export"
	"github.com/maltedev/recycle-crawler/internal/gateway"
	"github.com/maltedev/recycle-crawler/internal/ratelimit"
)

func endpoints(c *config.Config) crawler.Endpoints {
	e := crawler.DefaultEndpoints()
	if c.Crawler.SiteURL != "" {
		e.Base = c.Crawler.SiteURL
	}
	if c.Crawler.CategoryPath != "" {
		e.CategoryPath = c.Crawler.CategoryPath
	}
	if c.Crawler.CollectionPath != "" {
		e.CollectionPath = c.Crawler.CollectionPath
	}
	if c.Crawler.ProductPath != "" {
		e.ProductPath = c.Crawler.ProductPath
	}
	return e
}

func browserOptions(c *config.Config) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Browser.Headless
	opts.Timeout = c.Browser.Timeout
	opts.UserAgent = c.Browser.UserAgent
	opts.ViewportWidth = c.Browser.ViewportWidth
	opts.ViewportHeight = c.Browser.ViewportHeight
	opts.AcceptLanguage = c.Browser.AcceptLanguage
	opts.TimezoneID = c.Browser.TimezoneID
	opts.Locale = c.Browser.Locale
	opts.ProxyServer = c.Browser.ProxyServer
	opts.ExtraHeaders = map[string]string{"Accept-Language": c.Browser.AcceptLanguage}

	if c.Browser.City != "" {
		domain := "m.aihuishou.com"
		if u, err := url.Parse(c.Crawler.SiteURL); err == nil && u.Hostname() != "" {
			domain = u.Hostname()
		}
		opts.Cookies = []browser.Cookie{{Name: "chosenCity", Value: c.Browser.City, Domain: domain, Path: "/"}}
	}
	return opts
}

func fetcherOptions(c *config.Config) browser.FetcherOptions {
	opts := browser.DefaultFetcherOptions()
	opts.Endpoints = endpoints(c)
	opts.ScrollPasses = map[crawler.Level]int{
		crawler.LevelCategory:   c.Crawler.CategoryScrolls,
		crawler.LevelCollection: c.Crawler.CollectionScrolls,
		crawler.LevelProduct:    c.Crawler.ProductScrolls,
	}
	opts.ScrollDelay = c.Crawler.ScrollDelay
	opts.SettleDelay = c.Crawler.SettleDelay
	opts.Retries = c.Crawler.MaxRetries
	return opts
}

func gatewayOptions(c *config.Config) gateway.Options {
	opts := gateway.DefaultOptions()
	opts.BaseURL = c.Gateway.BaseURL
	opts.BrandPath = c.Gateway.BrandPath
	opts.ProductPath = c.Gateway.ProductPath
	opts.CollectionPath = c.Gateway.CollectionPath
	opts.PageSize = c.Gateway.PageSize
	opts.MaxPages = c.Gateway.MaxPages
	opts.Timeout = c.Gateway.Timeout
	for k, v := range c.Gateway.Headers {
		opts.Headers[k] = v
	}
	if c.Browser.City != "" {
		opts.Cookies["chosenCity"] = c.Browser.City
	}
	return opts
}

func driverOptions(c *config.Config, mode crawler.Mode, logger *slog.Logger) crawler.Options {
	opts := crawler.DefaultOptions()
	opts.DrainWindow = c.Crawler.DrainWindow
	opts.AcceptHosts = c.Crawler.AcceptHosts
	opts.Logger = logger
	if c.Crawler.RateLimitMax > 0 {
		opts.Limiter = ratelimit.NewAdaptive(c.Crawler.RateLimitMin, c.Crawler.RateLimitMax)
	}
	if mode == crawler.ModeAPI {
		// gateway responses arrive synchronously and brand/list carries only
		// the front category id
		opts.DrainWindow = 0
		opts.FrontCategoryOnly = true
	}
	return opts
}

// crawlRunner builds a fresh fetcher per crawl so no browser stays open
// between jobs.
type crawlRunner struct {
	cfg    *config.Config
	logger *slog.Logger
}

func (r *crawlRunner) Run(ctx context.Context, mode crawler.Mode, locator string) (*crawler.Result, error) {
	fetcher, closeFetcher, err := r.fetcher(mode)
	if err != nil {
		return nil, err
	}
	defer closeFetcher()

	return crawler.NewDriver(fetcher, driverOptions(r.cfg, mode, r.logger)).Crawl(ctx, locator)
}

func (r *crawlRunner) fetcher(mode crawler.Mode) (crawler.Fetcher, func(), error) {
	switch mode {
	case crawler.ModeAPI:
		return gateway.New(gatewayOptions(r.cfg), r.logger), func() {}, nil
	case crawler.ModeBrowser:
		b, err := browser.New(browserOptions(r.cfg), r.logger)
		if err != nil {
			return nil, nil, err
		}
		f, err := browser.NewFetcher(b, fetcherOptions(r.cfg))
		if err != nil {
			b.Close()
			return nil, nil, err
		}
		return f, func() {
			if err := f.Close(); err != nil {
				r.logger.Warn("failed to close page", "error", err)
			}
			if err := b.Close(); err != nil {
				r.logger.Warn("failed to close browser", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown crawl mode %q", mode)
	}
}

func openDatabase(ctx context.Context, c *config.Config) (*database.DB, error) {
	db, err := database.New(ctx, database.Config{
		Host:     c.Database.Host,
		Port:     c.Database.Port,
		User:     c.Database.User,
		Password: c.Database.Password,
		Database: c.Database.Name,
		SSLMode:  c.Database.SSLMode,
		MaxConns: c.Database.MaxConns,
	})
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openRedis(ctx context.Context, c *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func newRelay(db *database.DB, client database.Publisher, c *config.Config, logger *slog.Logger) *database.Relay {
	return database.NewRelay(database.NewOutbox(db), client, logger, database.RelayConfig{
		PollInterval: c.Redis.PollInterval,
		BatchSize:    c.Redis.BatchSize,
		MaxLen:       c.Redis.StreamMaxLen,
	})
}

func parseFormats(raw []string) ([]export.Format, error) {
	var formats []export.Format
	var errs []error
	for _, item := range raw {
		for _, s := range strings.Split(item, ",") {
			if strings.TrimSpace(s) == "" {
				continue
			}
			f, err := export.ParseFormat(s)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			formats = append(formats, f)
		}
	}
	return formats, errors.Join(errs...)
}
