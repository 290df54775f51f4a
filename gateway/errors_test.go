package gateway_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumenforge/aigateway/gateway"
)

func TestDriverErrorKindTransient(t *testing.T) {
	transient := []gateway.DriverErrorKind{
		gateway.KindUnavailable, gateway.KindRateLimited, gateway.KindInternal, gateway.KindProtocol,
	}
	for _, k := range transient {
		require.True(t, k.Transient(), "%s should be transient", k)
	}

	terminal := []gateway.DriverErrorKind{
		gateway.KindAuth, gateway.KindModelNotFound, gateway.KindContentFiltered, gateway.KindCancelled,
	}
	for _, k := range terminal {
		require.False(t, k.Transient(), "%s should not be transient", k)
	}
}

func TestAsDriverError(t *testing.T) {
	cause := errors.New("boom")
	derr := &gateway.DriverError{Provider: "aws", Operation: "complete", Kind: gateway.KindUnavailable, Message: "down", Cause: cause}
	wrapped := errors.Join(errors.New("context"), derr)

	got, ok := gateway.AsDriverError(wrapped)
	require.True(t, ok)
	require.Equal(t, "aws", got.Provider)
	require.ErrorIs(t, got, cause)
}

func TestAsDriverErrorMiss(t *testing.T) {
	_, ok := gateway.AsDriverError(errors.New("plain"))
	require.False(t, ok)
}

func TestAllProvidersFailedErrorUnwrapsSentinel(t *testing.T) {
	err := &gateway.AllProvidersFailedError{Attempts: []gateway.AttemptError{
		{Provider: "aws", Kind: gateway.KindUnavailable, Message: "down"},
		{Provider: "gcp", Kind: gateway.KindRateLimited, Message: "throttled"},
	}}
	require.ErrorIs(t, err, gateway.ErrAllProvidersFailed)
	require.Contains(t, err.Error(), "2 provider(s) failed")
}

func TestNewEmbeddingUnsupportedErrorStampsProvider(t *testing.T) {
	err := gateway.NewEmbeddingUnsupportedError("aws")
	require.Equal(t, "aws", err.Provider)
	require.Equal(t, "embed", err.Operation)
	require.Equal(t, gateway.KindInternal, err.Kind)
}
