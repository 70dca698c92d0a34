package ledger

import (
	"strconv"
	"strings"
	"time"
)

// csvHeader is the fixed, localized column order of the export surface.
const csvHeader = "Tipo,ID/Título,Estado,Monto,Fecha"

// ExportCSV renders rows in the deterministic column order
// Tipo, ID/Título, Estado, Monto, Fecha. Every field is quoted with internal
// quotes doubled, so the output stays a valid CSV even when titles contain
// commas or quote characters. Dates are ISO-8601; escrow rows leave Monto
// empty.
func ExportCSV(rows []Transaction) string {
	var b strings.Builder
	b.WriteString(csvHeader)
	b.WriteString("\r\n")

	for _, r := range rows {
		fields := []string{
			string(r.Kind),
			displayTitle(r),
			r.Status,
			formatAmount(r.Amount),
			r.Date.UTC().Format(time.RFC3339),
		}
		for i, f := range fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(quote(f))
		}
		b.WriteString("\r\n")
	}

	return b.String()
}

// displayTitle fills the ID/Título column: the human title when present,
// the record ID otherwise.
func displayTitle(r Transaction) string {
	if r.Title != "" {
		return r.Title
	}
	return r.ID
}

func formatAmount(a *float64) string {
	if a == nil {
		return ""
	}
	return strconv.FormatFloat(*a, 'f', 2, 64)
}

// quote wraps a field in double quotes, doubling internal quotes, regardless
// of content.
func quote(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
