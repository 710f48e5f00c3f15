package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type loadMode string

const (
	modeCreateCancel loadMode = "create-cancel"
	modeCreateReject loadMode = "create-reject"
	modeNegotiate    loadMode = "negotiate"
)

var knownModes = []loadMode{modeCreateCancel, modeCreateReject, modeNegotiate}

func parseMode(raw string) (loadMode, error) {
	mode := loadMode(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range knownModes {
		if mode == known {
			return mode, nil
		}
	}
	return "", fmt.Errorf("unsupported mode: %s", raw)
}

type config struct {
	baseURL     string
	mode        loadMode
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	outputPath  string

	sellerID     string
	buyers       []string
	listings     []string
	offerPrice   decimal.Decimal
	counterPrice decimal.Decimal
}

// actor закрепляет за воркером покупателя и объявление, поэтому у пары
// никогда не бывает двух PENDING-офферов одновременно.
type actor struct {
	buyerID   string
	listingID string
}

func (c config) actors() []actor {
	out := make([]actor, 0, len(c.buyers)*len(c.listings))
	for _, listing := range c.listings {
		for _, buyer := range c.buyers {
			out = append(out, actor{buyerID: buyer, listingID: listing})
		}
	}
	return out
}

// target описывает условие остановки прогона для отчёта.
func (c config) target() string {
	switch {
	case c.duration <= 0:
		return fmt.Sprintf("count:%d", c.total)
	case c.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", c.duration, c.total)
	default:
		return fmt.Sprintf("duration:%s", c.duration)
	}
}

func (c config) validate() error {
	if c.baseURL == "" {
		return errors.New("base-url is required")
	}
	if c.duration < 0 {
		return errors.New("duration must be >= 0")
	}
	if c.duration == 0 && c.total <= 0 {
		return errors.New("total must be > 0 when duration is not set")
	}
	if c.duration > 0 && c.totalSet && c.total <= 0 {
		return errors.New("total must be > 0 when explicitly set with duration")
	}
	if c.concurrency <= 0 {
		return errors.New("concurrency must be > 0")
	}
	if c.timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	if c.sellerID == "" {
		return errors.New("seller is required")
	}
	if len(c.buyers) == 0 {
		return errors.New("at least one buyer is required")
	}
	if len(c.listings) == 0 {
		return errors.New("at least one listing is required")
	}
	if pairs := len(c.buyers) * len(c.listings); c.concurrency > pairs {
		return fmt.Errorf("concurrency must be <= buyers*listings (%d)", pairs)
	}
	if !c.offerPrice.IsPositive() {
		return errors.New("offer-price must be > 0")
	}
	if !c.counterPrice.IsPositive() {
		return errors.New("counter-price must be > 0")
	}
	return nil
}

func parseConfig(args []string) (config, error) {
	var (
		cfg                      config
		mode, buyers, listings   string
		offerPrice, counterPrice string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "base-url", "http://localhost:8080", "offer service HTTP base URL")
	fs.StringVar(&mode, "mode", string(modeCreateCancel), "scenario: create-cancel | create-reject | negotiate")
	fs.IntVar(&cfg.total, "total", 400, "number of scenarios; with -duration acts as an upper bound only when set")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for a fixed time instead of a fixed count")
	fs.IntVar(&cfg.concurrency, "concurrency", 2, "parallel workers, at most buyers*listings")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&cfg.outputPath, "output", "", "write the JSON report to this file")
	fs.StringVar(&cfg.sellerID, "seller", "seller-1", "owner of every listing")
	fs.StringVar(&buyers, "buyers", "buyer-1,buyer-2", "comma-separated buyer ids")
	fs.StringVar(&listings, "listings", "listing-1", "comma-separated listing ids")
	fs.StringVar(&offerPrice, "offer-price", "50.00", "price of the initial offer")
	fs.StringVar(&counterPrice, "counter-price", "75.00", "price of the seller counter-offer")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	fs.Visit(func(f *flag.Flag) { cfg.totalSet = cfg.totalSet || f.Name == "total" })

	var err error
	if cfg.mode, err = parseMode(mode); err != nil {
		return config{}, err
	}
	if cfg.offerPrice, err = decimal.NewFromString(strings.TrimSpace(offerPrice)); err != nil {
		return config{}, fmt.Errorf("parse offer-price: %w", err)
	}
	if cfg.counterPrice, err = decimal.NewFromString(strings.TrimSpace(counterPrice)); err != nil {
		return config{}, fmt.Errorf("parse counter-price: %w", err)
	}
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	cfg.sellerID = strings.TrimSpace(cfg.sellerID)
	cfg.buyers = splitList(buyers)
	cfg.listings = splitList(listings)

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func splitList(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
}
