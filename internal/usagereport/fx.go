package usagereport

import (
	"net/http"

	"github.com/smallbiznis/timesync/internal/config"
	"github.com/smallbiznis/timesync/internal/usagereport/adapters"
	"github.com/smallbiznis/timesync/internal/usagereport/adapters/memory"
	"github.com/smallbiznis/timesync/internal/usagereport/adapters/stripe"
	"github.com/smallbiznis/timesync/internal/usagereport/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("usagereport",
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
			memory.NewFactory(),
		)
	}),
	fx.Provide(NewProvider),
	fx.Provide(
		func(p domain.Provider) domain.Reporter { return p },
		func(p domain.Provider) domain.SummarySource { return p },
	),
)

// NewProvider builds the adapter selected by USAGE_PROVIDER.
func NewProvider(cfg config.Config, registry *adapters.Registry, log *zap.Logger) (domain.Provider, error) {
	httpClient := &http.Client{
		// Backstop only; the coordinator's report timeout fires first.
		Timeout: cfg.Usage.ReportTimeout * 2,
	}
	provider, err := registry.NewAdapter(cfg.Usage.Provider, domain.AdapterConfig{
		SecretKey:  cfg.Usage.StripeSecretKey,
		APIBaseURL: cfg.Usage.StripeAPIBaseURL,
		HTTPClient: httpClient,
		Log:        log,
	})
	if err != nil {
		return nil, err
	}
	log.Info("usage provider selected", zap.String("provider", provider.Name()))
	return provider, nil
}
