package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"nestoracle/internal/custody"
	"nestoracle/internal/oracle"
	"nestoracle/internal/units"
	"nestoracle/internal/voting"
)

const (
	ReceiverOracle = "oracle"
	ReceiverVoting = "voting"
)

// TransferHandler accepts inbound transfer notifications for the oracle and
// the voting engine. With an in-process Ledger the handler moves the funds
// into escrow itself and refunds them when the receiver rejects the message;
// with a remote ledger the funds have already moved and a non-2xx reply tells
// the ledger to refund.
type TransferHandler struct {
	Oracle *oracle.Service
	Voting *voting.Engine
	Ledger *custody.Ledger
	// Notifier is the remote ledger's account. Without an in-process Ledger
	// only it may post transfer notifications.
	Notifier string
	// Escrow accounts the ledger deposits into.
	OracleAccount string
	VotingAccount string
	// AllowMint exposes the dev-only mint endpoint of the in-process ledger.
	AllowMint bool
	Logger    *zap.Logger
}

func (h *TransferHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1")
	g.POST("/transfers/incoming", h.incoming)
	g.POST("/assertions", h.assertTruth)
	g.POST("/assertions/:id/dispute", h.disputeAssertion)
	g.POST("/voting/requests/:id/commit", h.commitVote)

	l := g.Group("/ledger")
	l.GET("/balance", h.balance)
	l.POST("/mint", h.mint)
}

type incomingTransferRequest struct {
	Sender   string          `json:"sender"`
	Currency string          `json:"currency"`
	Amount   string          `json:"amount"`
	Receiver string          `json:"receiver"`
	Message  json.RawMessage `json:"message"`
}

// @Summary Notify an inbound transfer
// @Description message is the tagged JSON intent, e.g. {"AssertTruth":{...}}, {"DisputeAssertion":{...}} or {"CommitVote":{...}}; it may also be sent as a JSON string.
// @Tags transfers
// @Param body body incomingTransferRequest true "transfer"
// @Success 200 {object} apiResponse
// @Router /api/v1/transfers/incoming [post]
func (h *TransferHandler) incoming(c *gin.Context) {
	var req incomingTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	sender := strings.TrimSpace(req.Sender)
	if sender == "" {
		Error(c, http.StatusBadRequest, "sender is required", nil)
		return
	}
	if !h.notificationAllowed(c, sender) {
		return
	}
	amount, err := units.ParseAmount(req.Amount)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid amount", nil)
		return
	}
	message, err := messageText(req.Message)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid message", nil)
		return
	}
	h.deliver(c, strings.TrimSpace(req.Receiver), sender, strings.TrimSpace(req.Currency), amount, message)
}

type assertTruthRequest struct {
	Currency string                    `json:"currency"`
	Bond     string                    `json:"bond"`
	Message  oracle.AssertTruthMessage `json:"message"`
}

// @Summary Make an assertion by moving the bond from the caller's ledger balance
// @Tags assertions
// @Param X-Nest-Account header string true "acting account"
// @Param body body assertTruthRequest true "assertion"
// @Success 200 {object} apiResponse
// @Router /api/v1/assertions [post]
func (h *TransferHandler) assertTruth(c *gin.Context) {
	caller, ok := h.ledgerCaller(c)
	if !ok {
		return
	}
	var req assertTruthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	bond, err := units.ParseAmount(req.Bond)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid bond", nil)
		return
	}
	if strings.TrimSpace(req.Message.Asserter) == "" {
		req.Message.Asserter = caller
	}
	raw, _ := json.Marshal(oracle.IncomingMessage{AssertTruth: &req.Message})
	h.deliver(c, ReceiverOracle, caller, strings.TrimSpace(req.Currency), bond, string(raw))
}

type disputeAssertionRequest struct {
	Currency string `json:"currency"`
	Bond     string `json:"bond"`
	Disputer string `json:"disputer"`
}

// @Summary Dispute an assertion by moving the bond from the caller's ledger balance
// @Tags assertions
// @Param id path string true "assertion id"
// @Param X-Nest-Account header string true "acting account"
// @Param body body disputeAssertionRequest true "dispute"
// @Success 200 {object} apiResponse
// @Router /api/v1/assertions/{id}/dispute [post]
func (h *TransferHandler) disputeAssertion(c *gin.Context) {
	caller, ok := h.ledgerCaller(c)
	if !ok {
		return
	}
	var req disputeAssertionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	bond, err := units.ParseAmount(req.Bond)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid bond", nil)
		return
	}
	disputer := strings.TrimSpace(req.Disputer)
	if disputer == "" {
		disputer = caller
	}
	raw, _ := json.Marshal(oracle.IncomingMessage{DisputeAssertion: &oracle.DisputeAssertionMessage{
		AssertionID: c.Param("id"),
		Disputer:    disputer,
	}})
	h.deliver(c, ReceiverOracle, caller, strings.TrimSpace(req.Currency), bond, string(raw))
}

type commitVoteRequest struct {
	CommitHash string `json:"commit_hash"`
	Stake      string `json:"stake"`
}

// @Summary Commit a vote by staking voting tokens from the caller's ledger balance
// @Tags voting
// @Param id path string true "request id"
// @Param X-Nest-Account header string true "acting account"
// @Param body body commitVoteRequest true "commitment"
// @Success 200 {object} apiResponse
// @Router /api/v1/voting/requests/{id}/commit [post]
func (h *TransferHandler) commitVote(c *gin.Context) {
	caller, ok := h.ledgerCaller(c)
	if !ok {
		return
	}
	var req commitVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	stake, err := units.ParseAmount(req.Stake)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid stake", nil)
		return
	}
	cfg, err := h.Voting.GetConfig(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	raw, _ := json.Marshal(voting.IncomingMessage{CommitVote: &voting.CommitVoteMessage{
		RequestID:  c.Param("id"),
		CommitHash: req.CommitHash,
	}})
	h.deliver(c, ReceiverVoting, caller, cfg.VotingToken, stake, string(raw))
}

// @Summary In-process ledger balance
// @Tags ledger
// @Param currency query string true "currency"
// @Param account query string true "account"
// @Success 200 {object} apiResponse
// @Router /api/v1/ledger/balance [get]
func (h *TransferHandler) balance(c *gin.Context) {
	if h.Ledger == nil {
		Error(c, http.StatusNotImplemented, "custody is remote", nil)
		return
	}
	currency := strings.TrimSpace(c.Query("currency"))
	account := strings.TrimSpace(c.Query("account"))
	Ok(c, gin.H{"currency": currency, "account": account, "balance": h.Ledger.Balance(currency, account)}, nil)
}

type mintRequest struct {
	Currency string `json:"currency"`
	Account  string `json:"account"`
	Amount   string `json:"amount"`
}

// @Summary Mint into the in-process ledger (dev only)
// @Tags ledger
// @Param body body mintRequest true "mint"
// @Success 200 {object} apiResponse
// @Router /api/v1/ledger/mint [post]
func (h *TransferHandler) mint(c *gin.Context) {
	if h.Ledger == nil || !h.AllowMint {
		Error(c, http.StatusNotImplemented, "mint disabled", nil)
		return
	}
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	amount, err := units.ParseAmount(req.Amount)
	if err != nil || strings.TrimSpace(req.Currency) == "" || strings.TrimSpace(req.Account) == "" {
		Error(c, http.StatusBadRequest, "currency, account and a valid amount are required", nil)
		return
	}
	h.Ledger.Mint(req.Currency, req.Account, amount)
	Ok(c, gin.H{"currency": req.Currency, "account": req.Account, "balance": h.Ledger.Balance(req.Currency, req.Account)}, nil)
}

// notificationAllowed answers 403 unless the caller may report this transfer.
// In-process funds may only be moved by their owner; remote funds are
// reported by the ledger itself.
func (h *TransferHandler) notificationAllowed(c *gin.Context, sender string) bool {
	caller := callerOf(c)
	if h.Ledger != nil {
		if sender != caller {
			Error(c, http.StatusForbidden, "sender must match "+AccountHeader, nil)
			return false
		}
		return true
	}
	notifier := strings.TrimSpace(h.Notifier)
	if notifier == "" || caller != notifier {
		Error(c, http.StatusForbidden, "transfer notifications are accepted from the custody ledger only", nil)
		return false
	}
	return true
}

// ledgerCaller gates the convenience endpoints, which only work when this
// process holds the balances.
func (h *TransferHandler) ledgerCaller(c *gin.Context) (string, bool) {
	if h.Ledger == nil {
		Error(c, http.StatusNotImplemented, "custody is remote; notify /api/v1/transfers/incoming instead", nil)
		return "", false
	}
	return requireCaller(c)
}

func (h *TransferHandler) deliver(c *gin.Context, receiver, sender, currency string, amount decimal.Decimal, message string) {
	ctx := c.Request.Context()
	var (
		escrow string
		notify func(ctx context.Context) (any, error)
	)
	switch receiver {
	case ReceiverOracle:
		escrow = h.OracleAccount
		notify = func(ctx context.Context) (any, error) {
			return h.Oracle.OnIncomingTransfer(ctx, sender, currency, amount, message)
		}
	case ReceiverVoting:
		escrow = h.VotingAccount
		notify = func(ctx context.Context) (any, error) {
			return gin.H{"action": "CommitVote"}, h.Voting.OnIncomingTransfer(ctx, sender, currency, amount, message)
		}
	default:
		Error(c, http.StatusBadRequest, "receiver must be oracle or voting", nil)
		return
	}

	refund := func() error { return nil }
	if h.Ledger != nil {
		r, err := h.Ledger.Deposit(ctx, currency, sender, escrow, amount)
		if err != nil {
			Error(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		refund = r
	}
	out, err := notify(ctx)
	if err != nil {
		if rerr := refund(); rerr != nil {
			if h.Logger != nil {
				h.Logger.Error("inbound transfer refund failed",
					zap.String("receiver", receiver),
					zap.String("sender", sender),
					zap.String("currency", currency),
					zap.String("amount", amount.String()),
					zap.NamedError("reject", err),
					zap.Error(rerr),
				)
			}
			Error(c, http.StatusInternalServerError, "transfer rejected and refund failed", nil)
			return
		}
		if h.Logger != nil {
			h.Logger.Info("inbound transfer rejected",
				zap.String("receiver", receiver),
				zap.String("sender", sender),
				zap.String("currency", currency),
				zap.String("amount", amount.String()),
				zap.Error(err),
			)
		}
		Fail(c, err)
		return
	}
	Ok(c, out, nil)
}

// messageText accepts the message either as a JSON object or as a string
// holding one.
func messageText(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "", errors.New("message is required")
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	return trimmed, nil
}
