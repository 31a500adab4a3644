// Package api is a client for the expense-tracker REST backend.
//
// The backend owns every record; this package only fetches, creates,
// updates and deletes them. Responses are decoded leniently: malformed
// amounts become zero and malformed timestamps become absent, so a single
// bad row never fails a listing.
package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"expensewatch/internal/cache"
	"expensewatch/internal/core"

	"github.com/getsentry/sentry-go"
	"github.com/pkg/errors"
)

const (
	// DefaultBaseURL is where the backend listens in local development
	DefaultBaseURL = "http://127.0.0.1:8000/api"

	// DefaultTimeout is the default HTTP client timeout
	DefaultTimeout = 10 * time.Second

	// DefaultCategoryTTL is how long the category list is reused
	DefaultCategoryTTL = 5 * time.Minute

	// UserAgent is the user agent string
	UserAgent = "expensewatch/1.0"

	categoriesKey = "categories"
)

// Logger interface for logging. *log.Logger from this module satisfies it,
// as does retryablehttp's LeveledLogger.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Options configures the client
type Options struct {
	// BaseURL overrides the default API base URL
	BaseURL string

	// HTTPClient allows using a custom HTTP client
	HTTPClient *http.Client

	// Timeout sets the HTTP client timeout
	Timeout time.Duration

	// RetryConfig enables retries; nil means a single attempt
	RetryConfig *RetryConfig

	// Breaker overrides DefaultBreakerConfig
	Breaker *BreakerConfig

	// CategoryTTL controls the category cache; zero uses DefaultCategoryTTL,
	// negative disables caching
	CategoryTTL time.Duration

	// Location is used for timestamps sent without a zone
	Location *time.Location

	// Logger for debug logging
	Logger Logger

	// SentryDSN enables Sentry error capture when set
	SentryDSN string

	// SentryEnvironment tags captured events
	SentryEnvironment string
}

// Client talks to the expense backend.
type Client struct {
	transport  *transport
	categories *cache.TTLCache[[]core.Category]
	loc        *time.Location
	sentry     bool
}

// NewClient creates a new client
func NewClient(opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{}
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid base URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("invalid base URL scheme %q: must be http or https", u.Scheme)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if opts.Timeout > 0 {
		httpClient.Timeout = opts.Timeout
	}

	sentryEnabled := false
	if opts.SentryDSN != "" {
		env := opts.SentryEnvironment
		if env == "" {
			env = "production"
		}
		if err := sentry.Init(sentry.ClientOptions{Dsn: opts.SentryDSN, Environment: env}); err != nil {
			// Error capture is optional; keep the client usable.
			if opts.Logger != nil {
				opts.Logger.Error("Failed to initialize Sentry", "error", err)
			}
		} else {
			sentryEnabled = true
		}
	}

	breaker := DefaultBreakerConfig()
	if opts.Breaker != nil {
		breaker = *opts.Breaker
	}

	ttl := opts.CategoryTTL
	if ttl == 0 {
		ttl = DefaultCategoryTTL
	}

	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	return &Client{
		transport:  newTransport(baseURL, httpClient, opts.RetryConfig, breaker, opts.Logger, sentryEnabled),
		categories: cache.NewTTLCache[[]core.Category](ttl),
		loc:        loc,
		sentry:     sentryEnabled,
	}, nil
}

// ListExpenses returns the expenses matching f. A zero filter lists everything.
func (c *Client) ListExpenses(ctx context.Context, f core.Filter) ([]core.ExpenseRecord, error) {
	body, err := c.transport.do(ctx, http.MethodGet, "/expenses", filterQuery(f), nil)
	if err != nil {
		return nil, err
	}
	records, err := decodeExpenses(body, c.loc)
	if err != nil {
		return nil, malformed(err)
	}
	return records, nil
}

// CountExpenses returns the number of expenses the backend holds. The
// backend has no count endpoint, so this lists them.
func (c *Client) CountExpenses(ctx context.Context) (int, error) {
	records, err := c.ListExpenses(ctx, core.Filter{})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// GetExpense fetches a single expense.
func (c *Client) GetExpense(ctx context.Context, id string) (core.ExpenseRecord, error) {
	path, err := expensePath(id)
	if err != nil {
		return core.ExpenseRecord{}, err
	}
	body, err := c.transport.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return core.ExpenseRecord{}, err
	}
	if !isObject(body) {
		return core.ExpenseRecord{}, malformed(errors.Wrap(ErrMalformedResponse, "expense is not a JSON object"))
	}
	return decodeExpense(body, c.loc), nil
}

// CreateExpense submits a new expense and returns the stored record.
func (c *Client) CreateExpense(ctx context.Context, in core.ExpenseInput) (core.ExpenseRecord, error) {
	payload, err := newExpensePayload(in)
	if err != nil {
		return core.ExpenseRecord{}, err
	}
	body, err := c.transport.do(ctx, http.MethodPost, "/expenses", nil, payload)
	if err != nil {
		return core.ExpenseRecord{}, err
	}
	return c.decodeWritten(body, ""), nil
}

// UpdateExpense replaces an expense's amount, description, category and date.
func (c *Client) UpdateExpense(ctx context.Context, id string, in core.ExpenseInput) (core.ExpenseRecord, error) {
	path, err := expensePath(id)
	if err != nil {
		return core.ExpenseRecord{}, err
	}
	payload, err := newExpensePayload(in)
	if err != nil {
		return core.ExpenseRecord{}, err
	}
	body, err := c.transport.do(ctx, http.MethodPut, path, nil, payload)
	if err != nil {
		return core.ExpenseRecord{}, err
	}
	return c.decodeWritten(body, id), nil
}

// DeleteExpense removes an expense.
func (c *Client) DeleteExpense(ctx context.Context, id string) error {
	path, err := expensePath(id)
	if err != nil {
		return err
	}
	_, err = c.transport.do(ctx, http.MethodDelete, path, nil, nil)
	return err
}

// ListCategories returns the backend's categories, cached for CategoryTTL.
func (c *Client) ListCategories(ctx context.Context) ([]core.Category, error) {
	cats, err := cache.GetOrLoad[[]core.Category](ctx, c.categories, categoriesKey, c.fetchCategories)
	if err != nil {
		return nil, err
	}
	return append([]core.Category(nil), cats...), nil
}

// InvalidateCategories drops the cached category list.
func (c *Client) InvalidateCategories() {
	c.categories.Delete(categoriesKey)
}

// Close flushes any pending Sentry events
func (c *Client) Close() error {
	if c.sentry {
		sentry.Flush(2 * time.Second)
	}
	return nil
}

func (c *Client) fetchCategories(ctx context.Context) ([]core.Category, error) {
	body, err := c.transport.do(ctx, http.MethodGet, "/categories", nil, nil)
	if err != nil {
		return nil, err
	}
	cats, err := decodeCategories(body)
	if err != nil {
		return nil, malformed(err)
	}
	return cats, nil
}

// decodeWritten decodes the record echoed back by a create or update. Some
// deployments answer with an empty body; the id is kept in that case.
func (c *Client) decodeWritten(body []byte, id string) core.ExpenseRecord {
	if !isObject(body) {
		return core.ExpenseRecord{ID: id}
	}
	rec := decodeExpense(body, c.loc)
	if rec.ID == "" {
		rec.ID = id
	}
	return rec
}

func expensePath(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.Wrap(ErrInvalidInput, "empty expense id")
	}
	return "/expenses/" + url.PathEscape(id), nil
}

func filterQuery(f core.Filter) url.Values {
	q := url.Values{}
	if f.Category != "" {
		q.Set("category", f.Category)
	}
	if !f.StartDate.IsZero() {
		q.Set("start_date", f.StartDate.Format(dateLayout))
	}
	if !f.EndDate.IsZero() {
		q.Set("end_date", f.EndDate.Format(dateLayout))
	}
	return q
}
