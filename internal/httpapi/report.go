package httpapi

import (
	"bytes"
	"encoding/csv"
	"html/template"
	"strconv"

	"pharmledger/backend/internal/domain"
)

func dailySalesToCSV(report domain.DailySales) string {
	scope := string(report.Scope)
	if scope == "" {
		scope = "all"
	}
	rows := [][]string{
		{"section", "key", "value"},
		{"summary", "date", report.Date},
		{"summary", "scope", scope},
		{"summary", "log_entries", strconv.Itoa(report.LogEntries)},
		{"dispensed", "quantity", report.DispensedQty.String()},
		{"dispensed", "amount", report.Dispensed.StringFixed(2)},
		{"returned", "quantity", report.ReturnedQty.String()},
		{"returned", "amount", report.Returned.StringFixed(2)},
		{"summary", "discounts", report.Discounts.StringFixed(2)},
		{"summary", "net", report.Net.StringFixed(2)},
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	_ = writer.WriteAll(rows)
	return buf.String()
}

// dailySalesHTMLTmpl renders a printable daily summary. Values are escaped by
// html/template.
var dailySalesHTMLTmpl = template.Must(template.New("daily-sales").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Daily Sales {{.Date}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    td.num { text-align: right; }
  </style>
</head>
<body>
  <h2>Daily Sales {{.Date}}</h2>
  <p>Scope: {{if .Scope}}{{.Scope}}{{else}}all{{end}} | Log entries: {{.LogEntries}}</p>
  <table>
    <thead><tr><th></th><th>Quantity</th><th>Amount</th></tr></thead>
    <tbody>
      <tr><td>Dispensed</td><td class="num">{{.DispensedQty}}</td><td class="num">{{.Dispensed.StringFixed 2}}</td></tr>
      <tr><td>Returned</td><td class="num">{{.ReturnedQty}}</td><td class="num">{{.Returned.StringFixed 2}}</td></tr>
      <tr><td>Discounts</td><td></td><td class="num">{{.Discounts.StringFixed 2}}</td></tr>
      <tr><th>Net</th><td></td><th class="num">{{.Net.StringFixed 2}}</th></tr>
    </tbody>
  </table>
</body>
</html>
`))

func dailySalesToPrintableHTML(report domain.DailySales) string {
	var buf bytes.Buffer
	if err := dailySalesHTMLTmpl.Execute(&buf, report); err != nil {
		return "<!doctype html><html><body><p>Report rendering error.</p></body></html>"
	}
	return buf.String()
}
