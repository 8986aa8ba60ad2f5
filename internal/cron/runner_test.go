package cronrunner

import (
	"context"
	"testing"
)

func TestAddEmptySpecIsDisabled(t *testing.T) {
	r := New(nil, context.Background())
	id, err := r.Add("noop", "", func(context.Context) {})
	if err != nil || id != 0 {
		t.Fatalf("id=%v err=%v want=0,nil", id, err)
	}
}

func TestAddRejectsBadSpec(t *testing.T) {
	r := New(nil, context.Background())
	if _, err := r.Add("bad", "not a spec", func(context.Context) {}); err == nil {
		t.Fatalf("expected error for invalid spec")
	}
}
