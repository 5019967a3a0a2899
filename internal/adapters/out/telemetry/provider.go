// Package telemetry provides OpenTelemetry metric setup for odoobackup.
// Instruments are exported over OTLP/HTTP, through a Prometheus registry, or both.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool          `mapstructure:"enabled"`
	Endpoint       string        `mapstructure:"endpoint"`   // OTLP HTTP endpoint, e.g. "http://localhost:4318"
	AuthToken      string        `mapstructure:"auth_token"` // Basic auth token (base64 encoded user:pass)
	Prometheus     bool          `mapstructure:"prometheus"` // Serve /metrics from the dashboard
	ExportInterval time.Duration `mapstructure:"export_interval"`
}

// Provider holds the initialized meter provider and, when enabled, the
// Prometheus registry backing the scrape handler.
type Provider struct {
	MeterProvider *metric.MeterProvider
	registry      *prometheus.Registry
}

// endpointConfig holds parsed endpoint details.
type endpointConfig struct {
	host     string
	basePath string
	insecure bool
	headers  map[string]string
}

// NewProvider configures the global meter provider. With neither OTLP nor
// Prometheus enabled it returns an empty provider and instruments stay noop.
// The returned shutdown function must be called on application exit.
func NewProvider(ctx context.Context, cfg Config, serviceName, version string) (*Provider, func(context.Context), error) {
	noop := func(context.Context) {}

	otlp := cfg.Enabled && cfg.Endpoint != ""
	if !otlp && !cfg.Prometheus {
		return &Provider{}, noop, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return nil, noop, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}
	opts := []metric.Option{metric.WithResource(res)}

	if otlp {
		reader, err := newOTLPReader(ctx, cfg)
		if err != nil {
			return nil, noop, err
		}
		opts = append(opts, metric.WithReader(reader))
	}

	if cfg.Prometheus {
		p.registry = prometheus.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(p.registry))
		if err != nil {
			return nil, noop, fmt.Errorf("create prometheus exporter: %w", err)
		}
		opts = append(opts, metric.WithReader(exporter))
	}

	mp := metric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	p.MeterProvider = mp

	shutdown := func(ctx context.Context) {
		_ = mp.Shutdown(ctx)
	}
	return p, shutdown, nil
}

// Handler serves the Prometheus exposition, or 404 when Prometheus is off.
func (p *Provider) Handler() http.Handler {
	if p == nil || p.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// parseEndpoint extracts host, path, and scheme from the configured endpoint URL.
func parseEndpoint(cfg Config) (*endpointConfig, error) {
	parsedURL, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint URL: %w", err)
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("endpoint %q has no host", cfg.Endpoint)
	}

	headers := make(map[string]string)
	if cfg.AuthToken != "" {
		headers["Authorization"] = "Basic " + cfg.AuthToken
	}

	return &endpointConfig{
		host:     parsedURL.Host,
		basePath: strings.TrimSuffix(parsedURL.Path, "/"),
		insecure: parsedURL.Scheme == "http",
		headers:  headers,
	}, nil
}

func newOTLPReader(ctx context.Context, cfg Config) (metric.Reader, error) {
	ep, err := parseEndpoint(cfg)
	if err != nil {
		return nil, err
	}

	metricOpts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(ep.host),
		otlpmetrichttp.WithHeaders(ep.headers),
	}
	if ep.basePath != "" {
		metricOpts = append(metricOpts, otlpmetrichttp.WithURLPath(ep.basePath+"/v1/metrics"))
	}
	if ep.insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	var readerOpts []metric.PeriodicReaderOption
	if cfg.ExportInterval > 0 {
		readerOpts = append(readerOpts, metric.WithInterval(cfg.ExportInterval))
	}
	return metric.NewPeriodicReader(metricExp, readerOpts...), nil
}
