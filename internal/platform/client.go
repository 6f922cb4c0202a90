// Package platform talks to the donation platform's public supporter API.
package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/sethgrid/pester"
	"github.com/shopspring/decimal"
)

const timestampLayout = "2006-01-02 15:04:05"

// Timestamps are reported in Western Indonesia Time, which has no DST.
var platformZone = time.FixedZone("WIB", 7*60*60)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrUnauthorized = errors.New("donation platform rejected the api key")

type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("donation platform: %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("donation platform: %d %s", e.StatusCode, e.Status)
}

// Support is one received donation.
type Support struct {
	SupporterName string          `json:"supporter_name"`
	Message       string          `json:"support_message"`
	Quantity      int             `json:"quantity"`
	Amount        decimal.Decimal `json:"amount"`
	UnitName      string          `json:"unit_name"`
	OrderID       string          `json:"order_id"`
	PaymentMethod string          `json:"payment_method"`
	RawUpdatedAt  string          `json:"updated_at"`
	UpdatedAt     time.Time       `json:"-"`
}

type supportsResponse struct {
	Status     string `json:"status"`
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Result     struct {
		Data []Support `json:"data"`
	} `json:"result"`
}

// Source is what the poller needs from a donation platform.
type Source interface {
	FetchSupports(ctx context.Context, apiKey string, limit, page int) ([]Support, error)
}

type Client struct {
	baseURL string
	http    *pester.Client
}

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Backoff    pester.BackoffStrategy
}

func New(opts Options) *Client {
	hc := pester.New()
	hc.Timeout = opts.Timeout
	hc.MaxRetries = opts.MaxRetries
	if hc.MaxRetries <= 0 {
		hc.MaxRetries = 1
	}
	hc.Backoff = pester.ExponentialBackoff
	if opts.Backoff != nil {
		hc.Backoff = opts.Backoff
	}
	hc.KeepLog = false
	return &Client{baseURL: opts.BaseURL, http: hc}
}

// FetchSupports returns one page of supports, oldest first. Page 1 holds the
// newest supports.
func (c *Client) FetchSupports(ctx context.Context, apiKey string, limit, page int) ([]Support, error) {
	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse platform base url")
	}
	endpoint = endpoint.JoinPath("supports")
	query := endpoint.Query()
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if page > 1 {
		query.Set("page", strconv.Itoa(page))
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build supports request")
	}
	req.Header.Set("key", apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch supports")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read supports response")
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrUnauthorized
	}

	var payload supportsResponse
	decodeErr := json.Unmarshal(body, &payload)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode), Message: payload.Message}
	}
	if decodeErr != nil {
		return nil, errors.Wrap(decodeErr, "decode supports response")
	}
	if payload.Status != "success" {
		return nil, &APIError{StatusCode: payload.StatusCode, Status: payload.Status, Message: payload.Message}
	}

	supports := payload.Result.Data
	for i := range supports {
		parsed, err := time.ParseInLocation(timestampLayout, supports[i].RawUpdatedAt, platformZone)
		if err != nil {
			return nil, errors.Wrapf(err, "parse support timestamp %q", supports[i].RawUpdatedAt)
		}
		supports[i].UpdatedAt = parsed.UTC()
	}
	sort.SliceStable(supports, func(i, j int) bool {
		return supports[i].UpdatedAt.Before(supports[j].UpdatedAt)
	})
	return supports, nil
}
