package ledger

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tianguisdev/tianguis/internal/escrow"
	"github.com/tianguisdev/tianguis/internal/metrics"
	"github.com/tianguisdev/tianguis/internal/payments"
	"github.com/tianguisdev/tianguis/internal/tickets"
)

// Handler provides HTTP endpoints for the unified ledger.
type Handler struct {
	agg *Aggregator
}

// NewHandler creates a new ledger handler.
func NewHandler(agg *Aggregator) *Handler {
	return &Handler{agg: agg}
}

// RegisterRoutes sets up ledger query and export routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ledger", h.Query)
	r.GET("/ledger/export", h.Export)
}

// Query handles GET /v1/ledger
func (h *Handler) Query(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	rows, err := h.agg.Query(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": rows,
		"count":        len(rows),
	})
}

// Export handles GET /v1/ledger/export
func (h *Handler) Export(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	rows, err := h.agg.Query(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_failed",
			"message": err.Error(),
		})
		return
	}

	metrics.LedgerExports.Inc()
	c.Header("Content-Disposition", `attachment; filename="transacciones.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(ExportCSV(rows)))
}

func filterFromQuery(c *gin.Context) (Filter, error) {
	var f Filter

	f.Text = c.Query("q")

	for _, k := range splitList(c.Query("types")) {
		f.Kinds = append(f.Kinds, Kind(k))
	}
	for _, s := range splitList(c.Query("escrowStatus")) {
		f.EscrowStatuses = append(f.EscrowStatuses, escrow.Status(s))
	}
	for _, s := range splitList(c.Query("paymentStatus")) {
		f.PaymentStatuses = append(f.PaymentStatuses, payments.Status(s))
	}
	f.CouponCategories = splitList(c.Query("category"))
	for _, s := range splitList(c.Query("ticketStatus")) {
		f.TicketStatuses = append(f.TicketStatuses, tickets.Status(s))
	}

	var err error
	if f.From, err = parseTimeParam(c.Query("from")); err != nil {
		return f, err
	}
	if f.To, err = parseTimeParam(c.Query("to")); err != nil {
		return f, err
	}
	if f.MinAmount, err = parseFloatParam(c.Query("min")); err != nil {
		return f, err
	}
	if f.MaxAmount, err = parseFloatParam(c.Query("max")); err != nil {
		return f, err
	}

	switch c.Query("sort") {
	case "", "date":
		f.SortBy = SortByDate
	case "amount":
		f.SortBy = SortByAmount
	default:
		return f, errBadParam("sort must be date or amount")
	}
	f.Descending = c.DefaultQuery("order", "desc") == "desc"

	return f, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, errBadParam("dates must be RFC3339 or YYYY-MM-DD: " + raw)
}

func parseFloatParam(raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, errBadParam("amounts must be numeric: " + raw)
	}
	return &v, nil
}

type paramError string

func (e paramError) Error() string { return string(e) }

func errBadParam(msg string) error { return paramError(msg) }
