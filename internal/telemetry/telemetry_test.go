package telemetry

import (
	"context"
	"errors"
	"testing"

	"nestoracle/internal/config"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown err=%v", err)
	}
}

func TestStartEndWithNoopProvider(t *testing.T) {
	ctx, span := Start(context.Background(), "oracle", "Settle")
	if ctx == nil || span == nil {
		t.Fatalf("nil span")
	}
	End(span, errors.New("x"))
}
