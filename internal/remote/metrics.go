package remote

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var githubRouteMatchers = map[string]*regexp.Regexp{
	// https://docs.github.com/en/rest/repos/contents
	"/repos/{owner}/{repo}/contents/{path}": regexp.MustCompile(`^\/(api\/v3\/)?repos\/[^\/]+\/[^\/]+\/contents\/.+$`),
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// instrumentTransport records the duration of every GitHub API request by
// method, route and status code.
func instrumentTransport(next http.RoundTripper, logger *zap.Logger, reg prometheus.Registerer) http.RoundTripper {
	apiDuration := registerOrGet(reg, prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "contentbridge",
			Name:      "github_request_duration_seconds",
			Help:      "Duration of GitHub API requests in seconds",
			Buckets:   prometheus.ExponentialBucketsRange(0.05, 10, 8),
		},
		[]string{"method", "route", "status_code"},
	))

	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		route := matchGitHubAPIRoute(req.URL.Path)
		statusCode := ""
		start := time.Now()

		res, err := next.RoundTrip(req)
		if err == nil {
			statusCode = strconv.Itoa(res.StatusCode)
		}

		if route == "unknown_route" {
			logger.Warn("unknown GitHub API route", zap.String("path", req.URL.Path))
		}
		apiDuration.WithLabelValues(req.Method, route, statusCode).Observe(time.Since(start).Seconds())

		return res, err
	})
}

func matchGitHubAPIRoute(path string) string {
	for route, regex := range githubRouteMatchers {
		if regex.MatchString(path) {
			return route
		}
	}
	return "unknown_route"
}

// registerOrGet registers c, returning the already registered collector
// when an identical one exists.
func registerOrGet[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(T)
		}
		panic(err)
	}
	return c
}
