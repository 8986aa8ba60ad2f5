package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nestoracle/internal/ids"
	"nestoracle/internal/oracle"
	"nestoracle/internal/paas"
	"nestoracle/internal/repository"
	"nestoracle/internal/units"
)

type OracleHandler struct {
	Oracle *oracle.Service
	Logger *zap.Logger
}

func (h *OracleHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/assertions")
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.GET("/:id/result", h.result)
	g.GET("/:id/dispute-request", h.disputeRequest)
	g.POST("/:id/settle", h.settle)
	g.POST("/:id/settle-and-get-result", h.settleAndGetResult)
	g.POST("/:id/retry-payout", h.retryPayout)
	g.POST("/:id/reconcile", h.reconcile)
	g.POST("/:id/resolve", h.resolveDisputed)

	o := r.Group("/api/v1/oracle")
	o.GET("/config", h.config)
	o.GET("/defaults", h.defaults)
	o.GET("/minimum-bond", h.minimumBond)
	o.GET("/identifiers/:identifier", h.identifierSupported)
	o.GET("/currencies/:currency", h.currencyWhitelisted)
	o.GET("/requests/:request_id/assertion", h.assertionForRequest)

	a := o.Group("/admin")
	a.PUT("/properties", h.setProperties)
	a.PUT("/currencies/:currency", h.whitelistCurrency)
	a.PUT("/identifiers/:identifier", h.whitelistIdentifier)
	a.PUT("/voting", h.setVotingEnabled)
	a.PUT("/owner", h.setOwner)
	a.POST("/emergency-withdraw", h.emergencyWithdraw)
}

var assertionOrder = map[string]string{
	"created_at":      "created_at",
	"expiration_time": "expiration_time",
	"bond":            "bond",
}

// @Summary List assertions
// @Tags assertions
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Param asserter query string false "asserter account"
// @Param currency query string false "bond currency"
// @Param disputed query bool false "disputed"
// @Param settled query bool false "settled"
// @Param pending query bool false "settlement payout pending"
// @Param order_by query string false "created_at|expiration_time|bond"
// @Param asc query bool false "ascending"
// @Success 200 {object} apiResponse
// @Router /api/v1/assertions [get]
func (h *OracleHandler) list(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListAssertionsParams{
		Limit:    limit,
		Offset:   offset,
		Asserter: strQueryPtr(c, "asserter"),
		Currency: strQueryPtr(c, "currency"),
		Disputed: boolQueryPtr(c, "disputed"),
		Settled:  boolQueryPtr(c, "settled"),
		Pending:  boolQueryPtr(c, "pending"),
		OrderBy:  parseOrder(c.Query("order_by"), assertionOrder),
		Asc:      boolQueryPtr(c, "asc"),
	}
	items, total, err := h.Oracle.ListAssertions(c.Request.Context(), params)
	if err != nil {
		Fail(c, err)
		return
	}
	out := make([]assertionDTO, 0, len(items))
	for _, a := range items {
		out = append(out, toAssertionDTO(a))
	}
	Ok(c, out, paginationMeta(limit, offset, total))
}

// @Summary Get assertion
// @Tags assertions
// @Param id path string true "assertion id"
// @Success 200 {object} apiResponse
// @Router /api/v1/assertions/{id} [get]
func (h *OracleHandler) get(c *gin.Context) {
	a, err := h.Oracle.GetAssertion(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, toAssertionDTO(*a), nil)
}

// @Summary Get assertion result
// @Tags assertions
// @Param id path string true "assertion id"
// @Success 200 {object} apiResponse
// @Router /api/v1/assertions/{id}/result [get]
func (h *OracleHandler) result(c *gin.Context) {
	truthful, err := h.Oracle.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"assertion_id": c.Param("id"), "result": truthful}, nil)
}

// @Summary Get the arbiter request of a disputed assertion
// @Tags assertions
// @Param id path string true "assertion id"
// @Success 200 {object} apiResponse
// @Router /api/v1/assertions/{id}/dispute-request [get]
func (h *OracleHandler) disputeRequest(c *gin.Context) {
	key, err := h.Oracle.GetDisputeRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"assertion_id": c.Param("id"), "request_id": key}, nil)
}

// @Summary Settle assertion
// @Description Permissionless. Starts the payout; the outcome is reported through events.
// @Tags assertions
// @Param id path string true "assertion id"
// @Success 200 {object} apiResponse
// @Failure 425 {object} apiResponse
// @Router /api/v1/assertions/{id}/settle [post]
func (h *OracleHandler) settle(c *gin.Context) {
	id := c.Param("id")
	if err := h.Oracle.Settle(c.Request.Context(), id); err != nil {
		Fail(c, err)
		return
	}
	h.respondAssertion(c, id)
}

// @Summary Settle assertion and return its result
// @Tags assertions
// @Param id path string true "assertion id"
// @Success 200 {object} apiResponse
// @Router /api/v1/assertions/{id}/settle-and-get-result [post]
func (h *OracleHandler) settleAndGetResult(c *gin.Context) {
	truthful, err := h.Oracle.SettleAndGetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"assertion_id": c.Param("id"), "result": truthful}, nil)
}

// @Summary Retry a failed settlement payout
// @Tags assertions
// @Param id path string true "assertion id"
// @Success 200 {object} apiResponse
// @Router /api/v1/assertions/{id}/retry-payout [post]
func (h *OracleHandler) retryPayout(c *gin.Context) {
	id := c.Param("id")
	if err := h.Oracle.RetrySettlementPayout(c.Request.Context(), id); err != nil {
		Fail(c, err)
		return
	}
	h.respondAssertion(c, id)
}

// @Summary Reconcile an in-flight payout with its transfer record (owner)
// @Tags assertions
// @Param id path string true "assertion id"
// @Param X-Nest-Account header string true "acting account"
// @Success 200 {object} apiResponse
// @Router /api/v1/assertions/{id}/reconcile [post]
func (h *OracleHandler) reconcile(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := h.Oracle.Reconcile(c.Request.Context(), caller, id); err != nil {
		Fail(c, err)
		return
	}
	if h.Logger != nil {
		h.Logger.Info("settlement reconciled", zap.String("assertion_id", id), zap.String("caller", caller))
	}
	h.respondAssertion(c, id)
}

type resolveDisputedRequest struct {
	Resolution *bool `json:"resolution"`
}

// @Summary Resolve a disputed assertion manually (owner)
// @Tags assertions
// @Param id path string true "assertion id"
// @Param X-Nest-Account header string true "acting account"
// @Param body body resolveDisputedRequest true "resolution"
// @Success 200 {object} apiResponse
// @Router /api/v1/assertions/{id}/resolve [post]
func (h *OracleHandler) resolveDisputed(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req resolveDisputedRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Resolution == nil {
		Error(c, http.StatusBadRequest, "resolution is required", nil)
		return
	}
	id := c.Param("id")
	if err := h.Oracle.ResolveDisputed(c.Request.Context(), caller, id, *req.Resolution); err != nil {
		Fail(c, err)
		return
	}
	paas.LogBestEffort(c, "nest_assertion_resolved_manually", "warn", map[string]any{
		"assertion_id": id,
		"resolution":   *req.Resolution,
		"caller":       caller,
	})
	h.respondAssertion(c, id)
}

func (h *OracleHandler) respondAssertion(c *gin.Context, id string) {
	a, err := h.Oracle.GetAssertion(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, toAssertionDTO(*a), nil)
}

// @Summary Oracle config
// @Tags oracle
// @Success 200 {object} apiResponse
// @Router /api/v1/oracle/config [get]
func (h *OracleHandler) config(c *gin.Context) {
	cfg, err := h.Oracle.GetConfig(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{
		"owner":                  cfg.Owner,
		"default_currency":       cfg.DefaultCurrency,
		"default_liveness_sec":   int64(cfg.DefaultLiveness / time.Second),
		"burned_bond_percentage": cfg.BurnedBondPercentage,
		"voting_enabled":         cfg.VotingEnabled,
	}, nil)
}

// @Summary Default identifier, currency and liveness
// @Tags oracle
// @Success 200 {object} apiResponse
// @Router /api/v1/oracle/defaults [get]
func (h *OracleHandler) defaults(c *gin.Context) {
	d, err := h.Oracle.GetDefaults(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{
		"identifier":       d.Identifier.Hex(),
		"identifier_label": ids.IdentifierString(d.Identifier),
		"currency":         d.Currency,
		"liveness_sec":     int64(d.Liveness / time.Second),
	}, nil)
}

// @Summary Minimum bond for a currency
// @Tags oracle
// @Param currency query string true "currency"
// @Success 200 {object} apiResponse
// @Router /api/v1/oracle/minimum-bond [get]
func (h *OracleHandler) minimumBond(c *gin.Context) {
	currency := strings.TrimSpace(c.Query("currency"))
	if currency == "" {
		Error(c, http.StatusBadRequest, "currency is required", nil)
		return
	}
	bond, err := h.Oracle.MinimumBond(c.Request.Context(), currency)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"currency": currency, "minimum_bond": bond}, nil)
}

// @Summary Whether an identifier is supported
// @Tags oracle
// @Param identifier path string true "identifier label or 0x hash"
// @Success 200 {object} apiResponse
// @Router /api/v1/oracle/identifiers/{identifier} [get]
func (h *OracleHandler) identifierSupported(c *gin.Context) {
	identifier, err := ids.ParseIdentifier(c.Param("identifier"))
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid identifier", nil)
		return
	}
	ok, err := h.Oracle.IsIdentifierSupported(c.Request.Context(), identifier)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"identifier": identifier.Hex(), "supported": ok}, nil)
}

// @Summary Whether a currency is whitelisted
// @Tags oracle
// @Param currency path string true "currency"
// @Success 200 {object} apiResponse
// @Router /api/v1/oracle/currencies/{currency} [get]
func (h *OracleHandler) currencyWhitelisted(c *gin.Context) {
	currency := c.Param("currency")
	ok, err := h.Oracle.IsCurrencyWhitelisted(c.Request.Context(), currency)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"currency": currency, "whitelisted": ok}, nil)
}

// @Summary Assertion escalated to an arbiter request
// @Tags oracle
// @Param request_id path string true "arbiter request id"
// @Success 200 {object} apiResponse
// @Router /api/v1/oracle/requests/{request_id}/assertion [get]
func (h *OracleHandler) assertionForRequest(c *gin.Context) {
	a, err := h.Oracle.AssertionForRequest(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, toAssertionDTO(*a), nil)
}

type adminPropertiesRequest struct {
	DefaultCurrency      string `json:"default_currency"`
	DefaultLiveness      string `json:"default_liveness"`
	BurnedBondPercentage string `json:"burned_bond_percentage"`
}

// @Summary Set admin properties (owner)
// @Tags oracle-admin
// @Param X-Nest-Account header string true "acting account"
// @Param body body adminPropertiesRequest true "properties; liveness as Go duration, burn in 1e18 units"
// @Success 200 {object} apiResponse
// @Router /api/v1/oracle/admin/properties [put]
func (h *OracleHandler) setProperties(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req adminPropertiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	liveness, err := time.ParseDuration(strings.TrimSpace(req.DefaultLiveness))
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid default_liveness", nil)
		return
	}
	burn, err := units.ParseAmount(req.BurnedBondPercentage)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid burned_bond_percentage", nil)
		return
	}
	if _, err := h.Oracle.SetAdminProperties(c.Request.Context(), caller, oracle.AdminProperties{
		DefaultCurrency:      req.DefaultCurrency,
		DefaultLiveness:      liveness,
		BurnedBondPercentage: burn,
	}); err != nil {
		Fail(c, err)
		return
	}
	h.config(c)
}

type whitelistCurrencyRequest struct {
	FinalFee    string `json:"final_fee"`
	Whitelisted *bool  `json:"whitelisted"`
}

// @Summary Whitelist a bond currency (owner)
// @Tags oracle-admin
// @Param currency path string true "currency"
// @Param X-Nest-Account header string true "acting account"
// @Param body body whitelistCurrencyRequest true "final fee"
// @Success 200 {object} apiResponse
// @Router /api/v1/oracle/admin/currencies/{currency} [put]
func (h *OracleHandler) whitelistCurrency(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req whitelistCurrencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	fee, err := units.ParseAmount(req.FinalFee)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid final_fee", nil)
		return
	}
	whitelisted := req.Whitelisted == nil || *req.Whitelisted
	currency := c.Param("currency")
	if err := h.Oracle.WhitelistCurrency(c.Request.Context(), caller, currency, fee, whitelisted); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"currency": currency, "final_fee": fee, "whitelisted": whitelisted}, nil)
}

type whitelistIdentifierRequest struct {
	Whitelisted *bool `json:"whitelisted"`
}

// @Summary Whitelist an identifier (owner)
// @Tags oracle-admin
// @Param identifier path string true "identifier label or 0x hash"
// @Param X-Nest-Account header string true "acting account"
// @Success 200 {object} apiResponse
// @Router /api/v1/oracle/admin/identifiers/{identifier} [put]
func (h *OracleHandler) whitelistIdentifier(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req whitelistIdentifierRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	identifier, err := ids.ParseIdentifier(c.Param("identifier"))
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid identifier", nil)
		return
	}
	whitelisted := req.Whitelisted == nil || *req.Whitelisted
	if err := h.Oracle.WhitelistIdentifier(c.Request.Context(), caller, identifier, whitelisted); err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"identifier": identifier.Hex(), "whitelisted": whitelisted}, nil)
}

type setVotingRequest struct {
	Enabled bool `json:"enabled"`
}

// @Summary Enable or disable escalation to the voting engine (owner)
// @Tags oracle-admin
// @Param X-Nest-Account header string true "acting account"
// @Success 200 {object} apiResponse
// @Router /api/v1/oracle/admin/voting [put]
func (h *OracleHandler) setVotingEnabled(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req setVotingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if _, err := h.Oracle.SetVotingEnabled(c.Request.Context(), caller, req.Enabled); err != nil {
		Fail(c, err)
		return
	}
	h.config(c)
}

type setOwnerRequest struct {
	Owner string `json:"owner"`
}

// @Summary Transfer oracle ownership (owner)
// @Tags oracle-admin
// @Param X-Nest-Account header string true "acting account"
// @Success 200 {object} apiResponse
// @Router /api/v1/oracle/admin/owner [put]
func (h *OracleHandler) setOwner(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req setOwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if _, err := h.Oracle.SetOwner(c.Request.Context(), caller, req.Owner); err != nil {
		Fail(c, err)
		return
	}
	h.config(c)
}

type emergencyWithdrawRequest struct {
	Currency string `json:"currency"`
	Receiver string `json:"receiver"`
	Amount   string `json:"amount"`
}

// @Summary Withdraw funds from the oracle escrow (owner)
// @Tags oracle-admin
// @Param X-Nest-Account header string true "acting account"
// @Param body body emergencyWithdrawRequest true "withdrawal"
// @Success 200 {object} apiResponse
// @Router /api/v1/oracle/admin/emergency-withdraw [post]
func (h *OracleHandler) emergencyWithdraw(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req emergencyWithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	amount, err := units.ParseAmount(req.Amount)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid amount", nil)
		return
	}
	item, err := h.Oracle.EmergencyWithdraw(c.Request.Context(), caller, req.Currency, req.Receiver, amount)
	if err != nil {
		Fail(c, err)
		return
	}
	paas.LogBestEffort(c, "nest_emergency_withdraw", "warn", map[string]any{
		"currency": req.Currency,
		"receiver": req.Receiver,
		"amount":   amount.String(),
		"caller":   caller,
	})
	Ok(c, toTransferDTO(*item), nil)
}
