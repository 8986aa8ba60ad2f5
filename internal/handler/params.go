package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"nestoracle/internal/paas"
)

// AccountHeader names the acting account. Authentication happens upstream at
// the gateway; this service trusts the header.
const AccountHeader = paas.AccountHeader

func callerOf(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(AccountHeader))
}

// requireCaller writes a 403 and reports false when no account is given.
func requireCaller(c *gin.Context) (string, bool) {
	caller := callerOf(c)
	if caller == "" {
		Error(c, http.StatusForbidden, "missing "+AccountHeader+" header", nil)
		return "", false
	}
	return caller, true
}

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

func boolQueryPtr(c *gin.Context, key string) *bool {
	if val := c.Query(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return &b
		}
	}
	return nil
}

func strQueryPtr(c *gin.Context, key string) *string {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		return &val
	}
	return nil
}

func timeQueryPtr(c *gin.Context, key string) *time.Time {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		if t, err := time.Parse(time.RFC3339, val); err == nil {
			return &t
		}
	}
	return nil
}

// parseOrder maps a public sort key to a column. Unknown keys yield "" so the
// repository falls back to its default order.
func parseOrder(value string, allow map[string]string) string {
	key := strings.TrimSpace(strings.ToLower(value))
	if key == "" {
		return ""
	}
	if mapped, ok := allow[key]; ok {
		return mapped
	}
	return ""
}

func paginationMeta(limit, offset int, total int64) map[string]any {
	if limit <= 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	hasNext := int64(offset+limit) < total
	return map[string]any{
		"limit":    limit,
		"offset":   offset,
		"total":    total,
		"has_next": hasNext,
	}
}

func boolPtr(v bool) *bool { return &v }

// ancillaryBytes accepts 0x-prefixed hex or plain text.
func ancillaryBytes(raw string) ([]byte, error) {
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		return hexutil.Decode(raw)
	}
	return []byte(raw), nil
}

func parseDuration(raw *string) (*time.Duration, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*raw))
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// bindOptionalJSON binds a body that may be omitted entirely. Anything sent
// must still parse.
func bindOptionalJSON(c *gin.Context, out any) error {
	if err := c.ShouldBindJSON(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
