package service

import (
	"context"
	"testing"

	"nestoracle/internal/repository/memory"
)

func TestEnsureDefaultSwitchesKeepsOperatorChoice(t *testing.T) {
	ctx := context.Background()
	svc := &SystemSettingsService{Repo: memory.New()}
	if err := svc.SetEnabled(ctx, FeatureSettleExpired, false); err != nil {
		t.Fatalf("set err=%v", err)
	}
	if err := svc.EnsureDefaultSwitches(ctx); err != nil {
		t.Fatalf("ensure err=%v", err)
	}
	if svc.IsEnabled(ctx, FeatureSettleExpired, true) {
		t.Fatalf("switch re-enabled by defaults")
	}
	if !svc.IsEnabled(ctx, FeatureRetryTransfers, false) {
		t.Fatalf("missing default switch")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	type blob struct {
		Owner string
		Bps   int64
	}
	var got blob
	ok, err := LoadJSON(ctx, repo, "x.config", &got)
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v want=false,nil", ok, err)
	}
	if err := StoreJSON(ctx, repo, "x.config", "cfg", blob{Owner: "o", Bps: 7}); err != nil {
		t.Fatalf("store err=%v", err)
	}
	ok, err = LoadJSON(ctx, repo, "x.config", &got)
	if err != nil || !ok || got.Owner != "o" || got.Bps != 7 {
		t.Fatalf("got=%+v ok=%v err=%v", got, ok, err)
	}
}
