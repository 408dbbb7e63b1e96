package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/providers/http/guard"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 10 << 20
	DefaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	DefaultLanguage     = "zh-CN,zh;q=0.9,en;q=0.8,en-US;q=0.6"
	acceptEncoding      = "gzip, deflate, br, zstd"
	maxRedirects        = 10
)

// Options configures a Bridge
type Options struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	RetryCount   int
	RateLimit    float64
	UserAgent    string
	// Proxy is the deployment-wide upstream proxy URL, overridden per
	// execution by a proxy in the request input
	Proxy string
}

// Bridge owns state shared by every plugin's client: the SSRF guard,
// per-host breakers, the global rate limiter and the base transport.
type Bridge struct {
	opts     Options
	guard    *guard.Guard
	breakers *resilience.Group
	limiter  *rate.Limiter
	base     *http.Transport
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// New creates a bridge. A nil guard gets a default one.
func New(opts Options, g *guard.Guard, logger *zap.Logger, metrics *monitoring.Metrics) *Bridge {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if g == nil {
		g = guard.New(guard.WithLogger(logger), guard.WithMetrics(metrics))
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(1, int(opts.RateLimit)))
	}

	base := pooledTransport()
	base.Proxy = nil
	base.DisableCompression = true
	base.DialContext = g.DialContext(&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	})

	return &Bridge{
		opts:  opts,
		guard: g,
		breakers: resilience.NewGroup(resilience.Settings{
			HalfOpenProbes: 2,
			Window:         time.Minute,
			Cooldown:       30 * time.Second,
			// Share hosts vary in reliability; trip only on sustained failure
			ShouldTrip: func(c resilience.Counts) bool {
				return c.ConsecutiveFailures >= 10 ||
					(c.Requests >= 20 && c.FailureRatio() > 0.7)
			},
			OnStateChange: func(host string, from, to resilience.State) {
				logger.Info("Upstream breaker state changed",
					zap.String("host", host),
					zap.Stringer("from", from),
					zap.Stringer("to", to))
			},
		}),
		limiter: limiter,
		base:    base,
		logger:  logger,
		metrics: metrics,
	}
}

// Guard returns the SSRF guard
func (b *Bridge) Guard() *guard.Guard { return b.guard }

// Breakers returns the per-host breakers
func (b *Bridge) Breakers() *resilience.Group { return b.breakers }

// MaxBodyBytes returns the response size limit
func (b *Bridge) MaxBodyBytes() int64 { return b.opts.MaxBodyBytes }

// pooledTransport takes the tuned transport retryablehttp ships with
func pooledTransport() *http.Transport {
	if t, ok := retryablehttp.NewClient().HTTPClient.Transport.(*http.Transport); ok {
		return t
	}
	return http.DefaultTransport.(*http.Transport).Clone()
}

// retryClient builds the per-client retrying round tripper. Redirects
// are left to the outer client so every hop passes the redirect policy.
func (b *Bridge) retryClient(transport http.RoundTripper) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	rc.RetryMax = b.opts.RetryCount
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return rc
}

// checkRetry never retries policy rejections or cancelled executions
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if plugin.IsKind(err, plugin.KindNetworkPolicy) {
		return false, err
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// upstreamFailure reports whether err should count against a host's breaker
func upstreamFailure(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if plugin.IsKind(err, plugin.KindNetworkPolicy) || errors.Is(err, ErrBodyTooLarge) {
		return false
	}
	return true
}
