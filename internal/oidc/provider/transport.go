package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpgateway_provider_request_duration_seconds",
		Help:    "Latency of calls to the authorization server per attempt",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	}, []string{"endpoint", "outcome"})
)

// response is a fully read upstream reply.
type response struct {
	status int
	body   []byte
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// oauthError is the RFC 6749 error body. Only logged.
type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (r *response) describe() string {
	var oe oauthError
	if json.Unmarshal(r.body, &oe) == nil && (oe.Error != "" || oe.ErrorDescription != "") {
		if oe.ErrorDescription != "" {
			return oe.Error + ": " + oe.ErrorDescription
		}
		return oe.Error
	}
	return http.StatusText(r.status)
}

// roundTripper sends a request with a per-attempt timeout and a fixed-delay
// retry budget. Connection failures and non-2xx replies are retried alike.
type roundTripper struct {
	opts       options
	retryTimes int
	retryDelay time.Duration
}

// send returns the last response when every attempt got one, or the last
// transport error when the final attempt could not reach the server.
func (rt roundTripper) send(
	ctx context.Context,
	endpoint string,
	timeout time.Duration,
	retries int,
	build func(ctx context.Context) (*http.Request, error),
) (*response, error) {
	ctx, span := rt.opts.tracer.Start(ctx, "oidc.provider."+endpoint, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var last *response
	attempts := 0
	op := func() error {
		attempts++
		last = nil

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := build(attemptCtx)
		if err != nil {
			return backoff.Permanent(err)
		}

		start := time.Now()
		resp, err := rt.opts.httpClient.Do(req)
		if err != nil {
			upstreamDuration.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		upstreamDuration.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}

		last = &response{status: resp.StatusCode, body: body}
		if !last.ok() {
			return fmt.Errorf("upstream status %d", resp.StatusCode)
		}
		return nil
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(rt.retryDelay)
	b = backoff.WithMaxRetries(b, uint64(max(retries, 0)))
	b = backoff.WithContext(b, ctx)

	err := backoff.Retry(op, b)
	span.SetAttributes(attribute.Int("oidc.attempts", attempts))

	if last != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", last.status))
		if !last.ok() {
			span.SetStatus(codes.Error, "upstream rejected request")
		}
		return last, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "upstream unreachable")
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return nil, perm.Err
	}
	return nil, err
}
