package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/xhit/go-str2duration/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// GenerateOTLPBearerToken signs token with the collector's shared secret,
// producing "token.signature".
func GenerateOTLPBearerToken(sharedSecret string, token string) (string, error) {
	hash := sha256.New()
	if _, err := hash.Write([]byte(sharedSecret + "." + token)); err != nil {
		return "", errors.Wrap(err, "error hashing token")
	}
	return token + "." + base64.StdEncoding.EncodeToString(hash.Sum(nil)), nil
}

// GenerateOTLPBearerTokenWithExpiration signs a token of the form
// "<lifetime>.<issued unix>" such as "1h.1700000000". The lifetime is rounded
// to the minute and may not exceed a year.
func GenerateOTLPBearerTokenWithExpiration(sharedSecret string, expiration time.Time) (string, error) {
	exp := time.Until(expiration)
	if exp < 0 {
		return "", errors.New("expiration time is in the past")
	}
	if exp > 365*24*time.Hour {
		return "", errors.New("expiration time exceeds maximum of 1 year")
	}
	rounded := exp.Round(time.Minute)
	if rounded < time.Minute {
		rounded = time.Minute
	}
	return GenerateOTLPBearerToken(sharedSecret, str2duration.String(rounded)+"."+strconv.FormatInt(time.Now().Unix(), 10))
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// TracingConfig describes where spans are exported.
type TracingConfig struct {
	ServiceName string
	// URL is the OTLP/HTTP collector base URL; spans are posted to URL/v1/traces.
	URL string
	// SharedSecret, when set, authenticates with a bearer token valid for TokenLifetime.
	SharedSecret  string
	TokenLifetime time.Duration
	// SampleRate is the fraction of root spans kept, 0 to 1.
	SampleRate float64
}

// NewTracing installs a global tracer provider exporting to cfg.URL. With an
// empty URL nothing is installed and the returned shutdown is a no-op.
func NewTracing(ctx context.Context, cfg TracingConfig) (ShutdownFunc, error) {
	if cfg.URL == "" {
		return func(context.Context) error { return nil }, nil
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing otlp url")
	}
	u.Path = "/v1/traces"

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(u.String()),
		otlptracehttp.WithTimeout(10 * time.Second),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if u.Scheme == "http" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if cfg.SharedSecret != "" {
		lifetime := cfg.TokenLifetime
		if lifetime <= 0 {
			lifetime = 24 * time.Hour
		}
		token, err := GenerateOTLPBearerTokenWithExpiration(cfg.SharedSecret, time.Now().Add(lifetime))
		if err != nil {
			return nil, err
		}
		opts = append(opts, otlptracehttp.WithHeaders(map[string]string{"Authorization": "Bearer " + token}))
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "error creating trace exporter")
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil && !errors.Is(err, resource.ErrPartialResource) {
		return nil, errors.Wrap(err, "error creating resource")
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
