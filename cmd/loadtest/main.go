// Команда loadtest гоняет сценарии торга против HTTP API офферов и печатает отчёт.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		exit("invalid config: %v", err)
	}

	result := runLoad(context.Background(), cfg, &http.Client{Timeout: cfg.timeout})

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeReport(cfg.outputPath, result); err != nil {
			exit("failed to write report: %v", err)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func exit(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// runLoad запускает по воркеру на пару покупатель/объявление и собирает отчёт.
func runLoad(ctx context.Context, cfg config, httpClient *http.Client) report {
	rec := newRecorder()
	client := newOffersClient(cfg.baseURL, httpClient, rec)
	runner := scenarioRunner{cfg: cfg, client: client, rec: rec, runID: uuid.NewString()[:8]}

	startedAt := time.Now()
	jobs := make(chan int, cfg.concurrency*2)

	var g errgroup.Group
	for _, a := range cfg.actors()[:cfg.concurrency] {
		g.Go(func() error {
			for n := range jobs {
				_ = runner.run(ctx, a, n)
			}
			return nil
		})
	}
	feed(jobs, cfg)
	_ = g.Wait()

	return rec.report(startedAt, time.Since(startedAt))
}

// feed раздаёт номера сценариев до исчерпания total или истечения duration.
func feed(jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	bounded := cfg.duration <= 0 || cfg.totalSet

	for n := 0; !bounded || n < cfg.total; n++ {
		select {
		case <-deadline:
			return
		case jobs <- n:
		}
	}
}

type scenarioRunner struct {
	cfg    config
	client *offersClient
	rec    *recorder
	runID  string
}

// run проводит один оффер от создания до финального статуса.
func (s scenarioRunner) run(ctx context.Context, a actor, n int) (err error) {
	started := time.Now()
	defer func() {
		code := "ok"
		if err != nil {
			code = "failed"
		}
		s.rec.observe(scenarioStep, time.Since(started), code, err == nil)
	}()

	key := func(step string) string { return fmt.Sprintf("lt-%s-%s-%d", s.runID, step, n) }

	var offer offerResponse
	err = s.client.do(ctx, call{
		step:           "CreateOffer",
		method:         http.MethodPost,
		path:           "/api/v1/offers",
		userID:         a.buyerID,
		idempotencyKey: key("create"),
		body: map[string]any{
			"listing_id":    a.listingID,
			"offered_price": s.cfg.offerPrice,
			"quantity":      1,
			"message":       "load test offer",
		},
		want: http.StatusCreated,
	}, &offer)
	if err != nil {
		return err
	}
	if offer.ID == "" {
		return errors.New("create response returned empty offer id")
	}

	switch s.cfg.mode {
	case modeCreateReject:
		return s.client.do(ctx, call{
			step: "RejectOffer", method: http.MethodPost, path: offerPath(offer.ID, "reject"),
			userID: s.cfg.sellerID, idempotencyKey: key("reject"),
			body: map[string]any{"reason": "load test"}, want: http.StatusOK,
		}, nil)
	case modeNegotiate:
		return s.negotiate(ctx, a, offer.ID, key)
	default:
		return s.cancel(ctx, a, offer.ID, key("cancel"))
	}
}

// negotiate отвечает контр-оффером продавца, читает цепочку и отзывает контр-оффер покупателем.
func (s scenarioRunner) negotiate(ctx context.Context, a actor, offerID string, key func(string) string) error {
	var counter offerResponse
	if err := s.client.do(ctx, call{
		step: "CounterOffer", method: http.MethodPost, path: offerPath(offerID, "counter"),
		userID: s.cfg.sellerID, idempotencyKey: key("counter"),
		body: map[string]any{"counter_price": s.cfg.counterPrice}, want: http.StatusCreated,
	}, &counter); err != nil {
		return err
	}

	if err := s.client.do(ctx, call{
		step: "GetOfferChain", method: http.MethodGet, path: offerPath(counter.ID, "chain"),
		userID: a.buyerID, want: http.StatusOK,
	}, nil); err != nil {
		return err
	}
	return s.cancel(ctx, a, counter.ID, key("cancel"))
}

func (s scenarioRunner) cancel(ctx context.Context, a actor, offerID, idempotencyKey string) error {
	return s.client.do(ctx, call{
		step: "CancelOffer", method: http.MethodPost, path: offerPath(offerID, "cancel"),
		userID: a.buyerID, idempotencyKey: idempotencyKey, want: http.StatusOK,
	}, nil)
}

func offerPath(id, action string) string {
	return "/api/v1/offers/" + id + "/" + action
}
