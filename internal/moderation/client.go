// Package moderation wraps the external text-classification service that
// scores chat messages before they are relayed to a room.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Verdict is the classifier's answer for a single message. Both fields nil
// means the classification call failed and no judgement was made; callers must
// treat that as "moderation unavailable", never as clean or flagged.
type Verdict struct {
	Category *string  `json:"category"`
	Score    *float64 `json:"score"`
}

// Clean returns the verdict for a message with no flagged category above
// threshold.
func Clean() Verdict {
	category := "clean"
	score := 0.0
	return Verdict{Category: &category, Score: &score}
}

// Unavailable returns the failure sentinel used when the classifier could not
// be reached or returned garbage.
func Unavailable() Verdict {
	return Verdict{}
}

// Flagged reports whether the verdict names a flagged category. A verdict
// missing either field is never flagged; both pointers must be set before a
// caller may dereference them.
func (v Verdict) Flagged() bool {
	return v.Category != nil && v.Score != nil && *v.Category != "clean"
}

// Failed reports whether the verdict is the unavailable sentinel.
func (v Verdict) Failed() bool {
	return v.Category == nil && v.Score == nil
}

// Config holds the classifier endpoint settings. Threshold and flag label are
// deployment configuration, not constants.
type Config struct {
	URL       string
	Token     string
	FlagLabel string
	Threshold float64
	Timeout   time.Duration
}

// Client calls the classification endpoint synchronously. An optional Cache
// short-circuits repeat lookups for identical text.
type Client struct {
	cfg   Config
	http  *http.Client
	cache Cache
	log   *slog.Logger
}

// NewClient builds a moderation client. cache may be nil.
func NewClient(cfg Config, cache Cache, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: timeout},
		cache: cache,
		log:   logger,
	}
}

type labelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type inferenceRequest struct {
	Inputs string `json:"inputs"`
}

// Classify scores text against the flagged-content label. Any transport error,
// non-success status, or malformed response yields the unavailable verdict; the
// message itself is never dropped on account of the classifier.
func (c *Client) Classify(ctx context.Context, text string) Verdict {
	if c.cache != nil {
		if v, ok := c.cache.Lookup(ctx, text); ok {
			return v
		}
	}

	v, err := c.classify(ctx, text)
	if err != nil {
		c.log.Warn("moderation.unavailable", "err", err)
		return Unavailable()
	}

	if c.cache != nil {
		c.cache.Store(ctx, text, v)
	}
	return v
}

func (c *Client) classify(ctx context.Context, text string) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.http.Timeout)
	defer cancel()

	body, err := json.Marshal(inferenceRequest{Inputs: text})
	if err != nil {
		return Verdict{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Verdict{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Verdict{}, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	// The inference API wraps the label set for each input in its own array.
	var result [][]labelScore
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return Verdict{}, fmt.Errorf("decoding classifier response: %w", err)
	}
	if len(result) == 0 {
		return Verdict{}, fmt.Errorf("classifier response contained no label set")
	}

	for _, ls := range result[0] {
		if ls.Label == c.cfg.FlagLabel && ls.Score > c.cfg.Threshold {
			label := ls.Label
			score := ls.Score
			return Verdict{Category: &label, Score: &score}, nil
		}
	}
	return Clean(), nil
}
