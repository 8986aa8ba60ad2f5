package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nestoracle/internal/ids"
	"nestoracle/internal/paas"
	"nestoracle/internal/repository"
	"nestoracle/internal/units"
	"nestoracle/internal/voting"
)

type VotingHandler struct {
	Voting *voting.Engine
	Logger *zap.Logger
}

func (h *VotingHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/voting")
	g.GET("/config", h.config)
	g.PATCH("/config", h.updateConfig)
	g.POST("/commit-hash", h.commitHash)

	q := g.Group("/requests")
	q.GET("", h.list)
	q.POST("", h.requestPrice)
	q.GET("/:id", h.get)
	q.GET("/:id/price", h.price)
	q.GET("/:id/commitments", h.commitments)
	q.POST("/:id/advance", h.advance)
	q.POST("/:id/reveal", h.reveal)
	q.POST("/:id/resolve", h.resolve)
	q.POST("/:id/emergency-resolve", h.emergencyResolve)
}

var requestOrder = map[string]string{
	"created_at":        "created_at",
	"commit_start_time": "commit_start_time",
	"reveal_start_time": "reveal_start_time",
}

// requestID normalizes the path id so callers may omit the 0x prefix.
func requestID(c *gin.Context) (string, bool) {
	h, err := ids.ParseHash(c.Param("id"))
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid request id", nil)
		return "", false
	}
	return h.Hex(), true
}

type votingConfigDTO struct {
	Owner                         string `json:"owner"`
	CommitDuration                string `json:"commit_duration"`
	RevealDuration                string `json:"reveal_duration"`
	MinParticipationBps           int64  `json:"min_participation_bps"`
	TreasuryBps                   int64  `json:"slashing_treasury_bps"`
	MaxLowParticipationExtensions int    `json:"max_low_participation_extensions"`
	VotingToken                   string `json:"voting_token"`
	Treasury                      string `json:"treasury"`
}

func toVotingConfigDTO(cfg voting.Config) votingConfigDTO {
	return votingConfigDTO{
		Owner:                         cfg.Owner,
		CommitDuration:                cfg.CommitDuration.String(),
		RevealDuration:                cfg.RevealDuration.String(),
		MinParticipationBps:           cfg.MinParticipationBps,
		TreasuryBps:                   cfg.TreasuryBps,
		MaxLowParticipationExtensions: cfg.MaxLowParticipationExtensions,
		VotingToken:                   cfg.VotingToken,
		Treasury:                      cfg.Treasury,
	}
}

// @Summary Voting config
// @Tags voting
// @Success 200 {object} apiResponse
// @Router /api/v1/voting/config [get]
func (h *VotingHandler) config(c *gin.Context) {
	cfg, err := h.Voting.GetConfig(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, toVotingConfigDTO(cfg), nil)
}

type votingConfigPatch struct {
	CommitDuration                *string `json:"commit_duration"`
	RevealDuration                *string `json:"reveal_duration"`
	MinParticipationBps           *int64  `json:"min_participation_bps"`
	TreasuryBps                   *int64  `json:"slashing_treasury_bps"`
	MaxLowParticipationExtensions *int    `json:"max_low_participation_extensions"`
	VotingToken                   *string `json:"voting_token"`
	Treasury                      *string `json:"treasury"`
	Owner                         *string `json:"owner"`
}

// @Summary Update voting config (owner)
// @Description Durations are Go duration strings. Omitted fields are left unchanged.
// @Tags voting
// @Param X-Nest-Account header string true "acting account"
// @Param body body votingConfigPatch true "patch"
// @Success 200 {object} apiResponse
// @Router /api/v1/voting/config [patch]
func (h *VotingHandler) updateConfig(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req votingConfigPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	commit, err := parseDuration(req.CommitDuration)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid commit_duration", nil)
		return
	}
	reveal, err := parseDuration(req.RevealDuration)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid reveal_duration", nil)
		return
	}
	cfg, err := h.Voting.UpdateConfig(c.Request.Context(), caller, voting.ConfigPatch{
		CommitDuration:                commit,
		RevealDuration:                reveal,
		MinParticipationBps:           req.MinParticipationBps,
		TreasuryBps:                   req.TreasuryBps,
		MaxLowParticipationExtensions: req.MaxLowParticipationExtensions,
		VotingToken:                   req.VotingToken,
		Treasury:                      req.Treasury,
		Owner:                         req.Owner,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, toVotingConfigDTO(cfg), nil)
}

type commitHashRequest struct {
	Price string `json:"price"`
	Salt  string `json:"salt"`
}

// @Summary Compute a vote commitment hash
// @Description Helper for clients; the hash is sha256(price as int128 LE || salt).
// @Tags voting
// @Param body body commitHashRequest true "price and salt"
// @Success 200 {object} apiResponse
// @Router /api/v1/voting/commit-hash [post]
func (h *VotingHandler) commitHash(c *gin.Context) {
	var req commitHashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	price, err := units.ParsePrice(req.Price)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid price", nil)
		return
	}
	salt, err := ids.ParseHash(req.Salt)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid salt", nil)
		return
	}
	hash, err := ids.VoteHash(price, salt)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"commit_hash": hash.Hex()}, nil)
}

// @Summary List price requests
// @Tags voting
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Param phase query string false "Commit|Reveal|Resolved"
// @Param emergency_required query bool false "waiting on emergency resolution"
// @Param order_by query string false "created_at|commit_start_time|reveal_start_time"
// @Param asc query bool false "ascending"
// @Success 200 {object} apiResponse
// @Router /api/v1/voting/requests [get]
func (h *VotingHandler) list(c *gin.Context) {
	ctx := c.Request.Context()
	cfg, err := h.Voting.GetConfig(ctx)
	if err != nil {
		Fail(c, err)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, total, err := h.Voting.ListRequests(ctx, repository.ListPriceRequestsParams{
		Limit:             limit,
		Offset:            offset,
		Phase:             strQueryPtr(c, "phase"),
		EmergencyRequired: boolQueryPtr(c, "emergency_required"),
		OrderBy:           parseOrder(c.Query("order_by"), requestOrder),
		Asc:               boolQueryPtr(c, "asc"),
	})
	if err != nil {
		Fail(c, err)
		return
	}
	out := make([]priceRequestDTO, 0, len(items))
	for _, item := range items {
		out = append(out, toPriceRequestDTO(item, cfg))
	}
	Ok(c, out, paginationMeta(limit, offset, total))
}

type requestPriceRequest struct {
	Identifier  string `json:"identifier"`
	TimestampNs uint64 `json:"timestamp_ns"`
	Ancillary   string `json:"ancillary"`
}

// @Summary Open a price request
// @Tags voting
// @Param X-Nest-Account header string true "requester"
// @Param body body requestPriceRequest true "request; ancillary is 0x hex or text"
// @Success 200 {object} apiResponse
// @Router /api/v1/voting/requests [post]
func (h *VotingHandler) requestPrice(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req requestPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		Error(c, http.StatusBadRequest, "identifier is required", nil)
		return
	}
	ancillary, err := ancillaryBytes(req.Ancillary)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid ancillary", nil)
		return
	}
	ts := req.TimestampNs
	if ts == 0 {
		ts = uint64(time.Now().UnixNano())
	}
	id, err := h.Voting.RequestPrice(c.Request.Context(), caller, identifier, ts, ancillary)
	if err != nil {
		Fail(c, err)
		return
	}
	h.respondRequest(c, id)
}

// @Summary Get price request
// @Tags voting
// @Param id path string true "request id"
// @Success 200 {object} apiResponse
// @Router /api/v1/voting/requests/{id} [get]
func (h *VotingHandler) get(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	h.respondRequest(c, id)
}

// @Summary Resolved price of a request
// @Tags voting
// @Param id path string true "request id"
// @Success 200 {object} apiResponse
// @Router /api/v1/voting/requests/{id}/price [get]
func (h *VotingHandler) price(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	price, err := h.Voting.GetPrice(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"request_id": id, "has_price": price != nil, "price": price}, nil)
}

// @Summary Commitments of a request in commit order
// @Tags voting
// @Param id path string true "request id"
// @Success 200 {object} apiResponse
// @Router /api/v1/voting/requests/{id}/commitments [get]
func (h *VotingHandler) commitments(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	items, err := h.Voting.ListCommitments(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	out := make([]commitmentDTO, 0, len(items))
	for _, item := range items {
		out = append(out, toCommitmentDTO(item))
	}
	Ok(c, out, nil)
}

// @Summary Move a request from Commit to Reveal
// @Tags voting
// @Param id path string true "request id"
// @Success 200 {object} apiResponse
// @Failure 425 {object} apiResponse
// @Router /api/v1/voting/requests/{id}/advance [post]
func (h *VotingHandler) advance(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	if err := h.Voting.AdvanceToReveal(c.Request.Context(), id); err != nil {
		Fail(c, err)
		return
	}
	h.respondRequest(c, id)
}

type revealRequest struct {
	Price string `json:"price"`
	Salt  string `json:"salt"`
}

// @Summary Reveal a committed vote
// @Tags voting
// @Param id path string true "request id"
// @Param X-Nest-Account header string true "voter"
// @Param body body revealRequest true "price and salt"
// @Success 200 {object} apiResponse
// @Router /api/v1/voting/requests/{id}/reveal [post]
func (h *VotingHandler) reveal(c *gin.Context) {
	voter, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := requestID(c)
	if !ok {
		return
	}
	var req revealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	price, err := units.ParsePrice(req.Price)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid price", nil)
		return
	}
	salt, err := ids.ParseHash(req.Salt)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid salt", nil)
		return
	}
	if err := h.Voting.Reveal(c.Request.Context(), id, voter, price, salt); err != nil {
		Fail(c, err)
		return
	}
	h.respondRequest(c, id)
}

// @Summary Resolve a request whose reveal window has closed
// @Tags voting
// @Param id path string true "request id"
// @Success 200 {object} apiResponse
// @Router /api/v1/voting/requests/{id}/resolve [post]
func (h *VotingHandler) resolve(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	result, err := h.Voting.Resolve(c.Request.Context(), id)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, result, nil)
}

type emergencyResolveRequest struct {
	Price  string `json:"price"`
	Reason string `json:"reason"`
}

// @Summary Force-resolve a request stuck on low participation (owner)
// @Tags voting
// @Param id path string true "request id"
// @Param X-Nest-Account header string true "acting account"
// @Param body body emergencyResolveRequest true "price and reason"
// @Success 200 {object} apiResponse
// @Router /api/v1/voting/requests/{id}/emergency-resolve [post]
func (h *VotingHandler) emergencyResolve(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	id, ok := requestID(c)
	if !ok {
		return
	}
	var req emergencyResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	price, err := units.ParsePrice(req.Price)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid price", nil)
		return
	}
	if err := h.Voting.EmergencyResolve(c.Request.Context(), caller, id, price, req.Reason); err != nil {
		Fail(c, err)
		return
	}
	paas.LogBestEffort(c, "nest_emergency_price_resolved", "warn", map[string]any{
		"request_id": id,
		"price":      price.String(),
		"reason":     req.Reason,
		"caller":     caller,
	})
	h.respondRequest(c, id)
}

func (h *VotingHandler) respondRequest(c *gin.Context, id string) {
	ctx := c.Request.Context()
	req, err := h.Voting.GetRequest(ctx, id)
	if err != nil {
		Fail(c, err)
		return
	}
	if req == nil {
		Fail(c, voting.ErrRequestNotFound)
		return
	}
	cfg, err := h.Voting.GetConfig(ctx)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, toPriceRequestDTO(*req, cfg), nil)
}
