package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gocolly/colly/v2"
	"github.com/k05m0navt/mafia-insight-sub007/internal/config"
	"github.com/k05m0navt/mafia-insight-sub007/internal/models"
	"github.com/k05m0navt/mafia-insight-sub007/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Source fetches paginated entity data from the gomafia site. All requests go
// through a client-side rate limiter; transient failures are retried with
// bounded exponential backoff before a classified error is returned.
type Source struct {
	config    *config.Config
	collector *colly.Collector
	limiter   *rate.Limiter
}

// NewSource creates a new upstream source
func NewSource(cfg *config.Config) *Source {
	host := hostOf(cfg.Scraper.BaseURL)

	c := colly.NewCollector(
		colly.UserAgent(cfg.Scraper.UserAgent),
		colly.AllowedDomains(host, "www."+host),
		colly.AllowURLRevisit(),
	)

	// Set request delay
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*" + host + "*",
		Delay:       time.Duration(cfg.Scraper.RequestDelayMs) * time.Millisecond,
		RandomDelay: 500 * time.Millisecond,
	})

	rps := cfg.Scraper.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Scraper.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Source{
		config:    cfg,
		collector: c,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// FetchPage fetches one page of records for the given entity type.
func (s *Source) FetchPage(ctx context.Context, entity models.EntityType, page int) (*Page, error) {
	endpoint := fmt.Sprintf("%s/api/%s?page=%d", s.config.Scraper.BaseURL, url.PathEscape(string(entity)), page)

	body, err := s.fetchWithRetry(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Items      []json.RawMessage `json:"items"`
		Page       int               `json:"page"`
		TotalPages int               `json:"total_pages"`
		Total      int64             `json:"total"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding %s page %d: %v", ErrMalformed, entity, page, err)
	}

	records := make([]Record, 0, len(payload.Items))
	for _, item := range payload.Items {
		record, err := decodeRecord(entity, item)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return &Page{
		Entity:       entity,
		PageNumber:   page,
		TotalPages:   payload.TotalPages,
		TotalRecords: payload.Total,
		Records:      records,
	}, nil
}

// FetchRecord re-fetches a single record by its upstream id. Used by the
// verification service to reconcile persisted rows against the live source.
func (s *Source) FetchRecord(ctx context.Context, entity models.EntityType, externalID string) (Record, error) {
	endpoint := fmt.Sprintf("%s/api/%s/%s", s.config.Scraper.BaseURL, url.PathEscape(string(entity)), url.PathEscape(externalID))

	body, err := s.fetchWithRetry(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	record, err := decodeRecord(entity, body)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// fetchWithRetry runs one rate-limited fetch, retrying transient failures
// with exponential backoff up to the configured attempt budget.
func (s *Source) fetchWithRetry(ctx context.Context, endpoint string) ([]byte, error) {
	var body []byte

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 2 * time.Second
	expBackoff.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	maxRetries := s.config.Scraper.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	operation := func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		data, err := s.fetchOnce(endpoint)
		if err != nil {
			if Retryable(err) {
				logger.Warn("Upstream fetch failed, will retry",
					zap.String("url", endpoint),
					zap.Error(err))
				return err
			}
			return backoff.Permanent(err)
		}

		body = data
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(maxRetries)), ctx)); err != nil {
		return nil, err
	}

	return body, nil
}

func (s *Source) fetchOnce(endpoint string) ([]byte, error) {
	c := s.collector.Clone()

	var body []byte
	var statusCode int
	var visitErr error

	c.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		visitErr = err
	})

	if err := c.Visit(endpoint); err != nil {
		visitErr = err
	}
	c.Wait()

	if visitErr != nil {
		return nil, classifyHTTPError(statusCode, visitErr)
	}
	if statusCode != 0 && statusCode != http.StatusOK {
		return nil, classifyHTTPError(statusCode, fmt.Errorf("unexpected status %d", statusCode))
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty response from %s", ErrMalformed, endpoint)
	}

	return body, nil
}

func classifyHTTPError(status int, err error) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrThrottled, err)
	case status >= 500:
		return fmt.Errorf("%w: status %d: %v", ErrUnavailable, status, err)
	case status >= 400:
		return fmt.Errorf("%w: status %d: %v", ErrMalformed, status, err)
	default:
		// Network-level failure with no HTTP status.
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func decodeRecord(entity models.EntityType, data []byte) (Record, error) {
	var (
		record Record
		err    error
	)

	switch entity {
	case models.EntityClubs:
		var r RawClub
		err = json.Unmarshal(data, &r)
		record = r
	case models.EntityPlayers:
		var r RawPlayer
		err = json.Unmarshal(data, &r)
		record = r
	case models.EntityTournaments:
		var r RawTournament
		err = json.Unmarshal(data, &r)
		record = r
	case models.EntityGames:
		var r RawGame
		err = json.Unmarshal(data, &r)
		record = r
	case models.EntityYearStats:
		var r RawYearStat
		err = json.Unmarshal(data, &r)
		record = r
	case models.EntityTournamentResults:
		var r RawResult
		err = json.Unmarshal(data, &r)
		record = r
	default:
		return nil, fmt.Errorf("unknown entity type %q", entity)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s record: %v", ErrMalformed, entity, err)
	}
	return record, nil
}

func hostOf(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return strings.TrimPrefix(strings.TrimPrefix(baseURL, "https://"), "http://")
	}
	return u.Host
}
