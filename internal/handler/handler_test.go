package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestoracle/internal/apperr"
	"nestoracle/internal/config"
	"nestoracle/internal/custody"
	"nestoracle/internal/dispatch"
	"nestoracle/internal/events"
	"nestoracle/internal/ids"
	"nestoracle/internal/lock"
	"nestoracle/internal/oracle"
	"nestoracle/internal/policy"
	"nestoracle/internal/repository"
	"nestoracle/internal/repository/memory"
	"nestoracle/internal/service"
	"nestoracle/internal/transfer"
	"nestoracle/internal/voting"
)

const usdc = "usdc.tok"

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type server struct {
	engine *gin.Engine
	ledger *custody.Ledger
	clock  *testClock
	oracle *oracle.Service
	voting *voting.Engine
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	repo := memory.New()
	ledger := custody.NewLedger()
	clk := &testClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	locker := lock.NewLocal()
	emitter := &events.Emitter{Repo: repo, Hub: events.NewHub()}

	engine := &voting.Engine{
		Repo:   repo,
		Locker: locker,
		Events: emitter,
		Outbox: &transfer.Outbox{Component: events.ComponentVoting, Repo: repo, Custody: ledger.Account("voting"), Dispatcher: dispatch.Inline{}},
		Now:    clk.now,
		Defaults: voting.Config{
			Owner:          "admin",
			CommitDuration: time.Hour,
			RevealDuration: time.Hour,
			VotingToken:    "vote.tok",
			Treasury:       "treasury",
		},
	}
	_, err := engine.EnsureConfig(ctx)
	require.NoError(t, err)

	policies := &policy.Directory{Repo: repo, Locker: locker, Events: emitter}
	svc := &oracle.Service{
		Repo:       repo,
		Locker:     locker,
		Events:     emitter,
		Outbox:     &transfer.Outbox{Component: events.ComponentOracle, Repo: repo, Custody: ledger.Account("oracle"), Dispatcher: dispatch.Inline{}},
		Dispatcher: dispatch.Inline{},
		Policies:   policies,
		Voting:     engine,
		Account:    "oracle",
		Now:        clk.now,
		Defaults: oracle.Config{
			Owner:           "admin",
			DefaultCurrency: usdc,
			DefaultLiveness: time.Hour,
			VotingEnabled:   true,
		},
	}
	_, err = svc.EnsureConfig(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.WhitelistCurrency(ctx, "admin", usdc, decimal.NewFromInt(1), true))
	require.NoError(t, svc.WhitelistIdentifier(ctx, "admin", ids.DefaultIdentifier, true))

	settings := &service.SystemSettingsService{Repo: repo}
	require.NoError(t, settings.EnsureDefaultSwitches(ctx))

	r := gin.New()
	(&OracleHandler{Oracle: svc}).Register(r)
	(&VotingHandler{Voting: engine}).Register(r)
	(&PolicyHandler{Directory: policies}).Register(r)
	(&EventHandler{Repo: repo, Hub: emitter.Hub}).Register(r)
	(&SettingsHandler{Repo: repo, Settings: settings}).Register(r)
	(&TransferHandler{
		Oracle:        svc,
		Voting:        engine,
		Ledger:        ledger,
		OracleAccount: "oracle",
		VotingAccount: "voting",
		AllowMint:     true,
	}).Register(r)
	return &server{engine: r, ledger: ledger, clock: clk, oracle: svc, voting: engine}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *server) do(t *testing.T, method, path, caller string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(AccountHeader, caller)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (s *server) doRaw(t *testing.T, method, path, caller, body string) int {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(AccountHeader, caller)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w.Code
}

func (s *server) assertion(t *testing.T, id string) assertionDTO {
	t.Helper()
	code, env := s.do(t, http.MethodGet, "/api/v1/assertions/"+id, "", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	var out assertionDTO
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func claimHex(b byte) string {
	return common.BytesToHash([]byte{b}).Hex()
}

func TestStatusOfMapsErrorClasses(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.NotFound("assertion not found"), http.StatusNotFound},
		{apperr.Unauthorized("not the owner"), http.StatusForbidden},
		{apperr.TooEarly("liveness not over"), StatusTooEarly},
		{apperr.Conflict("already disputed"), http.StatusConflict},
		{apperr.Validation("bad bond"), http.StatusBadRequest},
		{fmt.Errorf("settle: %w", apperr.TooEarly("wait")), StatusTooEarly},
		{errors.New("db down"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusOf(tc.err), tc.err.Error())
	}
}

func TestAssertDisputeVoteAndSettle(t *testing.T) {
	s := newServer(t)

	code, env := s.do(t, http.MethodGet, "/api/v1/oracle/minimum-bond?currency="+usdc, "", nil)
	require.Equal(t, http.StatusOK, code, env.Message)

	s.ledger.Mint(usdc, "alice", decimal.NewFromInt(2))
	code, env = s.do(t, http.MethodPost, "/api/v1/assertions", "alice", gin.H{
		"currency": usdc,
		"bond":     "2",
		"message":  gin.H{"claim": claimHex(7)},
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	var created oracle.IncomingResult
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.NotEmpty(t, created.AssertionID)
	assert.True(t, s.ledger.Balance(usdc, "alice").IsZero())

	code, env = s.do(t, http.MethodPost, "/api/v1/assertions/"+created.AssertionID+"/settle", "", nil)
	assert.Equal(t, StatusTooEarly, code, env.Message)

	s.ledger.Mint(usdc, "bob", decimal.NewFromInt(2))
	code, env = s.do(t, http.MethodPost, "/api/v1/assertions/"+created.AssertionID+"/dispute", "bob", gin.H{
		"currency": usdc,
		"bond":     "2",
	})
	require.Equal(t, http.StatusOK, code, env.Message)

	a := s.assertion(t, created.AssertionID)
	require.NotNil(t, a.Disputer)
	assert.Equal(t, "bob", *a.Disputer)
	require.NotNil(t, a.DisputeRequestID)
	requestID := *a.DisputeRequestID

	salt := common.BytesToHash([]byte{42}).Hex()
	trueVote := "1000000000000000000"
	code, env = s.do(t, http.MethodPost, "/api/v1/voting/commit-hash", "", gin.H{"price": trueVote, "salt": salt})
	require.Equal(t, http.StatusOK, code, env.Message)
	var hashed struct {
		CommitHash string `json:"commit_hash"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &hashed))

	s.ledger.Mint("vote.tok", "v1", decimal.NewFromInt(100))
	code, env = s.do(t, http.MethodPost, "/api/v1/voting/requests/"+requestID+"/commit", "v1", gin.H{
		"commit_hash": hashed.CommitHash,
		"stake":       "100",
	})
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = s.do(t, http.MethodPost, "/api/v1/voting/requests/"+requestID+"/reveal", "v1", gin.H{"price": trueVote, "salt": salt})
	assert.NotEqual(t, http.StatusOK, code, "reveal during commit phase")

	s.clock.advance(time.Hour)
	code, env = s.do(t, http.MethodPost, "/api/v1/voting/requests/"+requestID+"/advance", "", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	code, env = s.do(t, http.MethodPost, "/api/v1/voting/requests/"+requestID+"/reveal", "v1", gin.H{"price": trueVote, "salt": salt})
	require.Equal(t, http.StatusOK, code, env.Message)

	s.clock.advance(time.Hour)
	code, env = s.do(t, http.MethodPost, "/api/v1/voting/requests/"+requestID+"/resolve", "", nil)
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = s.do(t, http.MethodPost, "/api/v1/assertions/"+created.AssertionID+"/settle-and-get-result", "", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	var result struct {
		Result bool `json:"result"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.True(t, result.Result)

	a = s.assertion(t, created.AssertionID)
	assert.True(t, a.Settled)
	assert.True(t, a.SettlementResolution)
	// Asserter gets both bonds less the burned half of the dispute bond.
	assert.Equal(t, "3", s.ledger.Balance(usdc, "alice").String())
	assert.Equal(t, "1", s.ledger.Balance(usdc, "admin").String())
	assert.True(t, s.ledger.Balance(usdc, "oracle").IsZero())
}

func TestRejectedTransferIsRefunded(t *testing.T) {
	s := newServer(t)
	s.ledger.Mint(usdc, "carol", decimal.NewFromInt(1))

	code, env := s.do(t, http.MethodPost, "/api/v1/transfers/incoming", "carol", gin.H{
		"sender":   "carol",
		"currency": usdc,
		"amount":   "1",
		"receiver": ReceiverOracle,
		"message":  fmt.Sprintf(`{"AssertTruth":{"claim":%q,"asserter":"carol"}}`, claimHex(1)),
	})
	assert.Equal(t, http.StatusBadRequest, code, env.Message)
	assert.Equal(t, "1", s.ledger.Balance(usdc, "carol").String())
	assert.True(t, s.ledger.Balance(usdc, "oracle").IsZero())
}

func TestIncomingTransferChecksSender(t *testing.T) {
	s := newServer(t)
	s.ledger.Mint(usdc, "carol", decimal.NewFromInt(2))

	code, _ := s.do(t, http.MethodPost, "/api/v1/transfers/incoming", "mallory", gin.H{
		"sender":   "carol",
		"currency": usdc,
		"amount":   "2",
		"receiver": ReceiverOracle,
		"message":  gin.H{"AssertTruth": gin.H{"claim": claimHex(1), "asserter": "carol"}},
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "2", s.ledger.Balance(usdc, "carol").String())

	code, _ = s.do(t, http.MethodPost, "/api/v1/transfers/incoming", "carol", gin.H{
		"sender":   "carol",
		"currency": usdc,
		"amount":   "2",
		"receiver": "treasury",
		"message":  gin.H{},
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAdminRoutesNeedOwner(t *testing.T) {
	s := newServer(t)

	code, _ := s.do(t, http.MethodPut, "/api/v1/oracle/admin/voting", "", gin.H{"enabled": false})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(t, http.MethodPut, "/api/v1/oracle/admin/voting", "mallory", gin.H{"enabled": false})
	assert.Equal(t, http.StatusForbidden, code)
	code, env := s.do(t, http.MethodPut, "/api/v1/oracle/admin/voting", "admin", gin.H{"enabled": false})
	require.Equal(t, http.StatusOK, code, env.Message)

	cfg, err := s.oracle.GetConfig(context.Background())
	require.NoError(t, err)
	assert.False(t, cfg.VotingEnabled)
}

func TestUnknownAssertionIs404(t *testing.T) {
	s := newServer(t)
	code, _ := s.do(t, http.MethodGet, "/api/v1/assertions/"+claimHex(9), "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestReservedSettingsAreReadOnly(t *testing.T) {
	s := newServer(t)

	code, _ := s.do(t, http.MethodPut, "/api/v1/system-settings/oracle.config", "", gin.H{"value": gin.H{"owner": "mallory"}})
	assert.Equal(t, http.StatusForbidden, code)

	code, env := s.do(t, http.MethodPut, "/api/v1/system-settings/switches/keeper.settle_expired", "", gin.H{"enabled": false})
	require.Equal(t, http.StatusOK, code, env.Message)
	code, env = s.do(t, http.MethodGet, "/api/v1/system-settings/switches/keeper.settle_expired", "", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	var sw struct {
		Enabled bool `json:"enabled"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sw))
	assert.False(t, sw.Enabled)
}

func TestEventsListedAfterAssertion(t *testing.T) {
	s := newServer(t)
	s.ledger.Mint(usdc, "alice", decimal.NewFromInt(2))
	code, env := s.do(t, http.MethodPost, "/api/v1/assertions", "alice", gin.H{
		"currency": usdc,
		"bond":     "2",
		"message":  gin.H{"claim": claimHex(3)},
	})
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = s.do(t, http.MethodGet, "/api/v1/events?component="+events.ComponentOracle, "", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	var items []eventDTO
	require.NoError(t, json.Unmarshal(env.Data, &items))
	assert.NotEmpty(t, items)
	for _, it := range items {
		assert.Equal(t, events.ComponentOracle, it.Component)
	}
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RPS: 1, Burst: 2})
	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/ping", func(c *gin.Context) { Ok(c, "pong", nil) })

	hit := func(account string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		if account != "" {
			req.Header.Set(AccountHeader, account)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, hit("alice"))
	assert.Equal(t, http.StatusOK, hit("alice"))
	assert.Equal(t, http.StatusTooManyRequests, hit("alice"))
	assert.Equal(t, http.StatusOK, hit("bob"))

	rl.now = func() time.Time { return time.Now().Add(time.Hour) }
	rl.prune()
	rl.mu.Lock()
	assert.Empty(t, rl.visitors)
	rl.mu.Unlock()
}

func TestRemoteCustodyAcceptsOnlyLedgerNotifications(t *testing.T) {
	s := newServer(t)
	notice := gin.H{
		"sender":   "carol",
		"currency": usdc,
		"amount":   "1000000",
		"receiver": ReceiverOracle,
		"message":  gin.H{"AssertTruth": gin.H{"claim": claimHex(5), "asserter": "carol"}},
	}

	remote := func(notifier string) *server {
		r := gin.New()
		(&TransferHandler{
			Oracle:        s.oracle,
			Voting:        s.voting,
			Notifier:      notifier,
			OracleAccount: "oracle",
			VotingAccount: "voting",
		}).Register(r)
		return &server{engine: r}
	}

	code, _ := remote("ledger").do(t, http.MethodPost, "/api/v1/transfers/incoming", "mallory", notice)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = remote("ledger").do(t, http.MethodPost, "/api/v1/transfers/incoming", "carol", notice)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = remote("").do(t, http.MethodPost, "/api/v1/transfers/incoming", "", notice)
	assert.Equal(t, http.StatusForbidden, code)

	_, total, err := s.oracle.ListAssertions(context.Background(), repository.ListAssertionsParams{Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)

	code, env := remote("ledger").do(t, http.MethodPost, "/api/v1/transfers/incoming", "ledger", notice)
	require.Equal(t, http.StatusOK, code, env.Message)
	var created oracle.IncomingResult
	require.NoError(t, json.Unmarshal(env.Data, &created))
	a := s.assertion(t, created.AssertionID)
	assert.Equal(t, "carol", a.Asserter)
}

func TestWhitelistIdentifierBody(t *testing.T) {
	s := newServer(t)
	path := "/api/v1/oracle/admin/identifiers/PRICE_FEED"

	assert.Equal(t, http.StatusBadRequest, s.doRaw(t, http.MethodPut, path, "admin", `{"whitelisted":"no"}`))
	ok, err := s.oracle.IsIdentifierSupported(context.Background(), ids.Identifier("PRICE_FEED"))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, http.StatusOK, s.doRaw(t, http.MethodPut, path, "admin", ""))
	ok, err = s.oracle.IsIdentifierSupported(context.Background(), ids.Identifier("PRICE_FEED"))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, http.StatusOK, s.doRaw(t, http.MethodPut, path, "admin", `{"whitelisted":false}`))
	ok, err = s.oracle.IsIdentifierSupported(context.Background(), ids.Identifier("PRICE_FEED"))
	require.NoError(t, err)
	assert.False(t, ok)
}
