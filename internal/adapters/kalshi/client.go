package kalshi

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/wxbot/internal/domain"
)

const (
	defaultBase = "https://api.elections.kalshi.com"
	apiPrefix   = "/trade-api/v2"

	// Tier básico: 20 lecturas/s y 10 escrituras/s. Se usa el 60%.
	readRatePerSec  = 12
	writeRatePerSec = 6

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// statusError is an HTTP error answer from the API.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

func statusCode(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	return 0
}

// Config configura el cliente. Subjects permite resolver un ticker suelto
// (Quote) a su sujeto y periodo.
type Config struct {
	Base     string
	KeyID    string
	Key      *rsa.PrivateKey
	Subjects []domain.Subject
}

// Client is the Kalshi REST client. Reads are retried with backoff; order
// submission is a single attempt and never retried here.
type Client struct {
	http         *http.Client
	base         string
	signer       *signer
	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter
	series       map[string]seriesRef
}

// seriesRef maps a series ticker to the subject and period it settles.
type seriesRef struct {
	subject domain.Subject
	period  domain.Period
}

// NewClient creates a Client. An empty Base uses the production URL.
func NewClient(cfg Config) *Client {
	if cfg.Base == "" {
		cfg.Base = defaultBase
	}
	series := make(map[string]seriesRef, len(cfg.Subjects)*2)
	for _, s := range cfg.Subjects {
		for _, p := range domain.Periods {
			if code := s.Series(p); code != "" {
				series[code] = seriesRef{subject: s, period: p}
			}
		}
	}
	var sg *signer
	if cfg.Key != nil {
		sg = &signer{keyID: cfg.KeyID, key: cfg.Key, now: time.Now}
	}
	return &Client{
		http:         &http.Client{Timeout: 15 * time.Second},
		base:         cfg.Base,
		signer:       sg,
		readLimiter:  rate.NewLimiter(readRatePerSec, 5),
		writeLimiter: rate.NewLimiter(writeRatePerSec, 2),
		series:       series,
	}
}

// get hace un GET con rate limiting y retries. auth firma el request.
func (c *Client) get(ctx context.Context, path string, auth bool, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.readLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		req, err := c.newRequest(ctx, http.MethodGet, path, nil, auth)
		if err != nil {
			return err
		}

		err = c.do(req, out)
		if err == nil {
			return nil
		}
		code := statusCode(err)
		retriable := code == 0 || code == http.StatusTooManyRequests || code >= 500
		if !retriable || attempt == maxRetries || ctx.Err() != nil {
			return err
		}
		if code == http.StatusTooManyRequests {
			slog.Warn("kalshi: rate limited", "path", path, "attempt", attempt+1)
		}
		c.sleep(ctx, attempt)
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// post hace un POST firmado, un solo intento.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if err := c.writeLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(b), true)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, auth bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+apiPrefix+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		if err := c.signer.sign(req); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &statusError{code: resp.StatusCode, body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
