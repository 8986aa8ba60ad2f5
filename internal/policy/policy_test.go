package policy

import (
	"context"
	"errors"
	"testing"

	"nestoracle/internal/apperr"
	"nestoracle/internal/ids"
	"nestoracle/internal/lock"
	"nestoracle/internal/repository/memory"
	"nestoracle/internal/units"
)

func newDirectory() *Directory {
	return &Directory{Repo: memory.New(), Locker: lock.NewLocal()}
}

func TestDefaultManager(t *testing.T) {
	ctx := context.Background()
	d := newDirectory()
	if _, err := d.Register(ctx, "owner", "em", KindDefault); err != nil {
		t.Fatalf("register err=%v", err)
	}
	m, _ := d.Find(ctx, "em")
	p, _ := m.Policy(ctx, AssertionView{ID: "a"})
	if p != (Policy{}) {
		t.Fatalf("policy=%+v want all false", p)
	}
	ok, _ := m.IsDisputeAllowed(ctx, "a", "anyone")
	if !ok {
		t.Fatalf("default manager must allow disputes")
	}
	if _, err := m.Resolution(ctx, "k"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err=%v want=%v", err, ErrUnsupported)
	}
}

func TestWhitelistDisputer(t *testing.T) {
	ctx := context.Background()
	d := newDirectory()
	_, _ = d.Register(ctx, "owner", "em", KindWhitelistDisputer)
	if err := d.SetWhitelisted(ctx, "mallory", "em", ListDisputeCallers, "bob", true); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("err=%v want unauthorized", err)
	}
	if err := d.SetWhitelisted(ctx, "owner", "em", ListDisputeCallers, "bob", true); err != nil {
		t.Fatalf("whitelist err=%v", err)
	}
	if err := d.SetWhitelisted(ctx, "owner", "em", ListAsserters, "bob", true); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err=%v want validation", err)
	}
	m, _ := d.Find(ctx, "em")
	p, _ := m.Policy(ctx, AssertionView{})
	if !p.ValidateDisputers {
		t.Fatalf("validate_disputers=false want=true")
	}
	if ok, _ := m.IsDisputeAllowed(ctx, "a", "bob"); !ok {
		t.Fatalf("bob should be allowed")
	}
	if ok, _ := m.IsDisputeAllowed(ctx, "a", "carol"); ok {
		t.Fatalf("carol should be rejected")
	}
}

func TestFullPolicyConfigureRejectsAsserterOnly(t *testing.T) {
	ctx := context.Background()
	d := newDirectory()
	_, _ = d.Register(ctx, "owner", "em", KindFullPolicy)
	err := d.Configure(ctx, "owner", "em", ConfigureParams{BlockByAsserter: true})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err=%v want validation", err)
	}
}

func TestFullPolicyBlocking(t *testing.T) {
	ctx := context.Background()
	d := newDirectory()
	_, _ = d.Register(ctx, "owner", "em", KindFullPolicy)
	if err := d.Configure(ctx, "owner", "em", ConfigureParams{BlockByAssertingCaller: true, BlockByAsserter: true}); err != nil {
		t.Fatalf("configure err=%v", err)
	}
	_ = d.SetWhitelisted(ctx, "owner", "em", ListAssertingCallers, "app", true)
	_ = d.SetWhitelisted(ctx, "owner", "em", ListAsserters, "alice", true)
	m, _ := d.Find(ctx, "em")

	cases := []struct {
		caller, asserter string
		blocked          bool
	}{
		{"app", "alice", false},
		{"other", "alice", true},
		{"app", "bob", true},
	}
	for _, tc := range cases {
		p, _ := m.Policy(ctx, AssertionView{Caller: tc.caller, Asserter: tc.asserter})
		if p.BlockAssertion != tc.blocked {
			t.Fatalf("caller=%s asserter=%s blocked=%v want=%v", tc.caller, tc.asserter, p.BlockAssertion, tc.blocked)
		}
	}
}

func TestFullPolicyArbitrationResolvedOnce(t *testing.T) {
	ctx := context.Background()
	d := newDirectory()
	_, _ = d.Register(ctx, "owner", "em", KindFullPolicy)
	req := ResolutionRequest{Identifier: ids.DefaultIdentifier, TimeNs: 42, Ancillary: []byte("0xabc")}

	m, _ := d.Find(ctx, "em")
	key, _ := m.RequestResolution(ctx, "oracle", req)
	if got, err := m.Resolution(ctx, key); err != nil || got != nil {
		t.Fatalf("unresolved got=%v err=%v", got, err)
	}
	setKey, err := d.SetArbitrationResolution(ctx, "owner", "em", req, true)
	if err != nil || setKey != key {
		t.Fatalf("key=%s want=%s err=%v", setKey, key, err)
	}
	if _, err := d.SetArbitrationResolution(ctx, "owner", "em", req, false); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err=%v want conflict", err)
	}
	m, _ = d.Find(ctx, "em")
	got, _ := m.Resolution(ctx, key)
	if got == nil || !got.Equal(units.NumericalTrue) {
		t.Fatalf("resolution=%v want=1e18", got)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	ctx := context.Background()
	d := newDirectory()
	_, _ = d.Register(ctx, "owner", "em", KindDefault)
	if _, err := d.Register(ctx, "other", "em", KindDefault); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err=%v want conflict", err)
	}
}
