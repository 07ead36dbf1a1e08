package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	rollsIngested      metric.Int64Counter
	reviewActions      metric.Int64Counter
	ledgerTransactions metric.Int64Counter
	ocrItems           metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "stocktake"
	}
	meter := provider.Meter(name)

	rollsIngested, err := meter.Int64Counter("stocktake_rolls_ingested_total")
	if err != nil {
		return nil, err
	}
	reviewActions, err := meter.Int64Counter("stocktake_review_actions_total")
	if err != nil {
		return nil, err
	}
	ledgerTransactions, err := meter.Int64Counter("stocktake_ledger_transactions_total")
	if err != nil {
		return nil, err
	}
	ocrItems, err := meter.Int64Counter("stocktake_ocr_items_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		rollsIngested:      rollsIngested,
		reviewActions:      reviewActions,
		ledgerTransactions: ledgerTransactions,
		ocrItems:           ocrItems,
	}, nil
}

// RecordRollIngested counts a newly captured roll by its initial confidence level.
func (m *Metrics) RecordRollIngested(ctx context.Context, level string, manual bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("confidence_level", strings.TrimSpace(level)),
		attribute.Bool("manual_entry", manual),
	)
	m.rollsIngested.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReviewAction counts reviewer decisions; bulk actions add n at once.
func (m *Metrics) RecordReviewAction(ctx context.Context, action string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("action", strings.TrimSpace(action)))
	m.reviewActions.Add(ctx, n, metric.WithAttributes(attrs...))
}

// RecordLedgerTransaction counts posted inventory transactions.
func (m *Metrics) RecordLedgerTransaction(ctx context.Context, txType string, posted bool) {
	if m == nil {
		return
	}
	outcome := "posted"
	if !posted {
		outcome = "duplicate"
	}
	attrs := FilterAttributes(
		attribute.String("transaction_type", strings.TrimSpace(txType)),
		attribute.String("outcome", outcome),
	)
	m.ledgerTransactions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordOCRItem counts OCR recognitions by engine and outcome.
func (m *Metrics) RecordOCRItem(ctx context.Context, engine, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("engine", strings.TrimSpace(engine)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.ocrItems.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":         {},
	"status_code":      {},
	"confidence_level": {},
	"manual_entry":     {},
	"action":           {},
	"transaction_type": {},
	"engine":           {},
	"outcome":          {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
