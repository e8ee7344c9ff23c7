package liverc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mre-backend/lib/restyutil"
	"mre-backend/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://liverc.com"

const defaultUserAgent = "MyRaceEngineerBot/1.0 (results ingestion)"

// maxRetryAfterWait bounds how long a Retry-After header can make us
// wait. A server-directed wait wins over the computed backoff and its
// MaxDelay cap, so resty's ceiling has to sit up here instead.
const maxRetryAfterWait = 5 * time.Minute

// ErrNotFound is returned when the upstream responds 404. Discovery
// treats a missing club events page as zero events, so it needs to
// tell this case apart from other failures.
var ErrNotFound = errors.New("liverc: not found")

// StatusError is a non-2xx response that is not worth retrying.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("liverc: unexpected status %d fetching %s", e.Code, e.URL)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

type ClientOptions struct {
	// BaseURL is the origin relative references resolve against.
	BaseURL string
	// ClubBaseURL is a printf template producing a club sub-site's
	// origin from its subdomain, e.g. "https://%s.liverc.com".
	// Derived from BaseURL when empty.
	ClubBaseURL string
	// MinInterval is the minimum spacing between any two outbound
	// requests. This is politeness toward a site we are not
	// affiliated with, keep it at or above the default.
	MinInterval  time.Duration
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	UserAgent    string
}

func (o *ClientOptions) applyDefaults() {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.MinInterval <= 0 {
		o.MinInterval = time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 15 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
}

type Client struct {
	base     *url.URL
	clubBase string
	http     *resty.Client
	limiter  *rate.Limiter
}

func NewClient(opts ClientOptions) (*Client, error) {
	opts.applyDefaults()

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	limiter := rate.NewLimiter(rate.Every(opts.MinInterval), 1)

	client := resty.New()
	client.SetHeader("User-Agent", opts.UserAgent)
	client.SetRetryCount(opts.MaxAttempts - 1)
	client.SetRetryWaitTime(opts.InitialDelay)
	// resty clamps whatever the RetryAfter callback returns to its own
	// max wait, so MaxDelay cannot go here: it would truncate a
	// Retry-After header. The callback enforces MaxDelay on the
	// backoff path itself.
	client.SetRetryMaxWaitTime(maxRetryAfterWait)
	client.AddRetryCondition(func(res *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		code := res.StatusCode()
		return code == http.StatusTooManyRequests || code >= 500
	})
	client.SetRetryAfter(retryAfter(opts.InitialDelay, opts.MaxDelay))
	// every attempt, retries included, waits its turn
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, "liverc/http")

	clubBase := opts.ClubBaseURL
	if clubBase == "" {
		host := base.Host
		if i := strings.Index(host, "."); i > 0 && strings.Count(host, ".") > 1 {
			host = host[i+1:]
		}
		clubBase = fmt.Sprintf("%s://%%s.%s", base.Scheme, host)
	}

	return &Client{
		base:     base,
		clubBase: clubBase,
		http:     client,
		limiter:  limiter,
	}, nil
}

// retryAfter computes the wait before the next attempt: the response's
// Retry-After header when one is present, otherwise exponential
// backoff with jitter. max caps only the backoff path; a header value
// wins over it up to maxRetryAfterWait.
func retryAfter(initial, max time.Duration) resty.RetryAfterFunc {
	return func(_ *resty.Client, res *resty.Response) (time.Duration, error) {
		if res != nil {
			if d, ok := parseRetryAfter(res.Header().Get("Retry-After")); ok {
				if d > maxRetryAfterWait {
					d = maxRetryAfterWait
				}
				if d < time.Millisecond {
					// returning 0 would hand control back to
					// resty's own backoff
					d = time.Millisecond
				}
				return d, nil
			}
		}

		attempt := 1
		if res != nil && res.Request != nil {
			attempt = res.Request.Attempt
		}
		delay := initial << uint(attempt-1)
		if delay > max || delay <= 0 {
			delay = max
		}
		jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
		return delay + jitter, nil
	}
}

// parseRetryAfter accepts the header's two legal forms, a delay in
// whole seconds or an HTTP-date.
func parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := time.Until(at)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// ResolveURL makes a reference absolute: absolute urls pass through,
// protocol-relative ones borrow the base scheme, everything else
// resolves against the base origin.
func (c *Client) ResolveURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "//") {
		return c.base.Scheme + ":" + ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if parsed.IsAbs() {
		return ref
	}
	return c.base.ResolveReference(parsed).String()
}

func (c *Client) clubURL(subdomain, path string) string {
	return fmt.Sprintf(c.clubBase, subdomain) + path
}

func (c *Client) getHTML(ctx context.Context, ref string) (string, error) {
	target := c.ResolveURL(ref)
	if target == "" {
		return "", fmt.Errorf("liverc: unresolvable reference %q", ref)
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "text/html").
		Get(target)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", target, err)
	}
	if !res.IsSuccess() {
		return "", &StatusError{Code: res.StatusCode(), URL: target}
	}
	return res.String(), nil
}

// GetRootTrackList fetches the directory of club subdomains.
func (c *Client) GetRootTrackList(ctx context.Context) (string, error) {
	return c.getHTML(ctx, "/tracks/")
}

// GetClubEventsPage fetches a club's events listing off its subdomain.
func (c *Client) GetClubEventsPage(ctx context.Context, subdomain string) (string, error) {
	return c.getHTML(ctx, c.clubURL(subdomain, "/events/"))
}

func (c *Client) GetEventOverview(ctx context.Context, ref string) (string, error) {
	return c.getHTML(ctx, ref)
}

func (c *Client) GetSessionPage(ctx context.Context, ref string) (string, error) {
	return c.getHTML(ctx, ref)
}

// FetchJSON fetches a machine-readable endpoint into out.
func (c *Client) FetchJSON(ctx context.Context, ref string, out any) error {
	target := c.ResolveURL(ref)
	if target == "" {
		return fmt.Errorf("liverc: unresolvable reference %q", ref)
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(target)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", target, err)
	}
	if !res.IsSuccess() {
		return &StatusError{Code: res.StatusCode(), URL: target}
	}
	if err := json.Unmarshal(res.Body(), out); err != nil {
		return fmt.Errorf("decode %s: %w", target, err)
	}
	return nil
}

// SetDebugOutput writes every raw exchange to out, for diagnosing
// markup drift on club sub-sites.
func (c *Client) SetDebugOutput(out restyutil.Output) {
	restyutil.DumpExchanges(c.http, out)
}
