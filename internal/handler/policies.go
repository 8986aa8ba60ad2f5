package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"nestoracle/internal/ids"
	"nestoracle/internal/policy"
)

type PolicyHandler struct {
	Directory *policy.Directory
}

func (h *PolicyHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/policies")
	g.GET("", h.list)
	g.POST("", h.register)
	g.GET("/:account", h.get)
	g.PUT("/:account/config", h.configure)
	g.PUT("/:account/whitelists/:list", h.whitelist)
	g.POST("/:account/resolutions", h.setResolution)
	g.PUT("/:account/owner", h.setOwner)
}

type managerDTO struct {
	Account string        `json:"account"`
	Kind    string        `json:"kind"`
	Owner   string        `json:"owner"`
	Config  policy.Config `json:"config"`
}

func toManagerDTO(m *policy.Manager) managerDTO {
	return managerDTO{Account: m.Account(), Kind: m.Kind(), Owner: m.Owner(), Config: m.Config()}
}

// @Summary List escalation managers
// @Tags policies
// @Success 200 {object} apiResponse
// @Router /api/v1/policies [get]
func (h *PolicyHandler) list(c *gin.Context) {
	items, err := h.Directory.List(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	out := make([]managerDTO, 0, len(items))
	for _, m := range items {
		out = append(out, toManagerDTO(m))
	}
	Ok(c, out, nil)
}

type registerManagerRequest struct {
	Account string `json:"account"`
	Kind    string `json:"kind"`
}

// @Summary Register an escalation manager owned by the caller
// @Tags policies
// @Param X-Nest-Account header string true "owner"
// @Param body body registerManagerRequest true "default|whitelist_disputer|full_policy"
// @Success 200 {object} apiResponse
// @Router /api/v1/policies [post]
func (h *PolicyHandler) register(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req registerManagerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	m, err := h.Directory.Register(c.Request.Context(), caller, strings.TrimSpace(req.Account), strings.TrimSpace(req.Kind))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, toManagerDTO(m), nil)
}

// @Summary Get an escalation manager
// @Tags policies
// @Param account path string true "manager account"
// @Success 200 {object} apiResponse
// @Router /api/v1/policies/{account} [get]
func (h *PolicyHandler) get(c *gin.Context) {
	h.respond(c, c.Param("account"))
}

// @Summary Configure a full_policy manager (manager owner)
// @Tags policies
// @Param account path string true "manager account"
// @Param X-Nest-Account header string true "manager owner"
// @Param body body policy.ConfigureParams true "flags"
// @Success 200 {object} apiResponse
// @Router /api/v1/policies/{account}/config [put]
func (h *PolicyHandler) configure(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req policy.ConfigureParams
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	account := c.Param("account")
	if err := h.Directory.Configure(c.Request.Context(), caller, account, req); err != nil {
		Fail(c, err)
		return
	}
	h.respond(c, account)
}

type whitelistMemberRequest struct {
	Member      string `json:"member"`
	Whitelisted *bool  `json:"whitelisted"`
}

// @Summary Add or remove a whitelist member (manager owner)
// @Tags policies
// @Param account path string true "manager account"
// @Param list path string true "asserting_callers|asserters|dispute_callers"
// @Param X-Nest-Account header string true "manager owner"
// @Param body body whitelistMemberRequest true "member"
// @Success 200 {object} apiResponse
// @Router /api/v1/policies/{account}/whitelists/{list} [put]
func (h *PolicyHandler) whitelist(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req whitelistMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	whitelisted := req.Whitelisted == nil || *req.Whitelisted
	account := c.Param("account")
	if err := h.Directory.SetWhitelisted(c.Request.Context(), caller, account, c.Param("list"), req.Member, whitelisted); err != nil {
		Fail(c, err)
		return
	}
	h.respond(c, account)
}

type arbitrationResolutionRequest struct {
	Identifier string `json:"identifier"`
	TimeNs     uint64 `json:"time_ns"`
	Ancillary  string `json:"ancillary"`
	Resolution *bool  `json:"resolution"`
}

// @Summary Answer a custom arbitration request (manager owner)
// @Description The request is addressed by identifier, time and ancillary data; the ancillary data of an oracle dispute is the assertion id.
// @Tags policies
// @Param account path string true "manager account"
// @Param X-Nest-Account header string true "manager owner"
// @Param body body arbitrationResolutionRequest true "request and verdict"
// @Success 200 {object} apiResponse
// @Router /api/v1/policies/{account}/resolutions [post]
func (h *PolicyHandler) setResolution(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req arbitrationResolutionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Resolution == nil {
		Error(c, http.StatusBadRequest, "identifier, time_ns, ancillary and resolution are required", nil)
		return
	}
	identifier, err := ids.ParseIdentifier(req.Identifier)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid identifier", nil)
		return
	}
	ancillary, err := ancillaryBytes(req.Ancillary)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid ancillary", nil)
		return
	}
	key, err := h.Directory.SetArbitrationResolution(c.Request.Context(), caller, c.Param("account"), policy.ResolutionRequest{
		Identifier: identifier,
		TimeNs:     req.TimeNs,
		Ancillary:  ancillary,
	}, *req.Resolution)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, gin.H{"key": key, "resolution": *req.Resolution}, nil)
}

// @Summary Transfer manager ownership (manager owner)
// @Tags policies
// @Param account path string true "manager account"
// @Param X-Nest-Account header string true "manager owner"
// @Success 200 {object} apiResponse
// @Router /api/v1/policies/{account}/owner [put]
func (h *PolicyHandler) setOwner(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}
	var req setOwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	account := c.Param("account")
	if err := h.Directory.SetOwner(c.Request.Context(), caller, account, req.Owner); err != nil {
		Fail(c, err)
		return
	}
	h.respond(c, account)
}

func (h *PolicyHandler) respond(c *gin.Context, account string) {
	m, err := h.Directory.Get(c.Request.Context(), account)
	if err != nil {
		Fail(c, err)
		return
	}
	if m == nil {
		Error(c, http.StatusNotFound, "escalation manager not found", nil)
		return
	}
	Ok(c, toManagerDTO(m), nil)
}
