package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"nestoracle/internal/repository"
	"nestoracle/internal/repository/memory"
)

func TestRecorderPublishesOnlyOnFlush(t *testing.T) {
	repo := memory.New()
	hub := NewHub()
	e := &Emitter{Repo: repo, Hub: hub}
	ch, cancel := hub.Subscribe(4)
	defer cancel()

	rec := e.Recorder(repo)
	if err := rec.Emit(context.Background(), ComponentOracle, AssertionMade, "0xabc", map[string]any{"bond": decimal.NewFromInt(7)}); err != nil {
		t.Fatalf("emit err=%v", err)
	}
	select {
	case ev := <-ch:
		t.Fatalf("published before flush: %+v", ev)
	default:
	}
	rec.Flush(context.Background())
	ev := <-ch
	if ev.Kind != AssertionMade || ev.Subject != "0xabc" {
		t.Fatalf("event=%+v", ev)
	}
	var payload map[string]any
	_ = json.Unmarshal(ev.Payload, &payload)
	if payload["bond"] != "7" {
		t.Fatalf("bond=%v want=7", payload["bond"])
	}
	total, _ := repo.CountOracleEvents(context.Background(), repository.ListOracleEventsParams{})
	if total != 1 {
		t.Fatalf("stored=%d want=1", total)
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe(1)
	defer cancel()
	e := &Emitter{Hub: hub}
	for i := 0; i < 3; i++ {
		_ = e.Emit(context.Background(), ComponentVoting, VoteCommitted, "r", nil)
	}
	if hub.Dropped() != 2 {
		t.Fatalf("dropped=%d want=2", hub.Dropped())
	}
}

func TestHubCancelRemovesSubscriber(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe(1)
	cancel()
	cancel()
	if hub.Subscribers() != 0 {
		t.Fatalf("subscribers=%d want=0", hub.Subscribers())
	}
}
