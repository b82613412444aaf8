package adapters

import (
	"testing"

	"github.com/smallbiznis/timesync/internal/usagereport/adapters/memory"
	"github.com/smallbiznis/timesync/internal/usagereport/adapters/stripe"
	"github.com/smallbiznis/timesync/internal/usagereport/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	registry := NewRegistry(stripe.NewFactory(), memory.NewFactory(), nil)

	assert.True(t, registry.ProviderExists("STRIPE"))
	assert.True(t, registry.ProviderExists(" memory "))
	assert.False(t, registry.ProviderExists("braintree"))

	provider, err := registry.NewAdapter("memory", domain.AdapterConfig{})
	require.NoError(t, err)
	assert.Equal(t, "memory", provider.Name())

	_, err = registry.NewAdapter("stripe", domain.AdapterConfig{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = registry.NewAdapter("braintree", domain.AdapterConfig{})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)

	var nilRegistry *Registry
	_, err = nilRegistry.NewAdapter("memory", domain.AdapterConfig{})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}
