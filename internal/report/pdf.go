// Package report renders the investment memo PDF.
package report

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-pdf/fpdf"

	"github.com/digkill/aire/internal/underwriting"
)

const (
	ContentType = "application/pdf"
	appName     = "AIRE"
)

type Memo struct {
	Property    underwriting.PropertyData
	Result      underwriting.Result
	GeneratedAt time.Time
}

// Core PDF fonts are cp1252; these runes have no glyph there.
var asciiFallback = strings.NewReplacer("≥", ">=", "≤", "<=", "—", "-", "™", "(TM)")

func money(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return sign + "$" + humanize.Commaf(math.Round(v))
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// FileName is the download name for a memo generated at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("AIRE_Report_%d.pdf", t.Unix())
}

// Render writes the memo as a Letter-sized PDF.
func Render(w io.Writer, m Memo) error {
	if m.GeneratedAt.IsZero() {
		m.GeneratedAt = time.Now().UTC()
	}
	p, res := m.Property, m.Result

	pdf := fpdf.New("P", "mm", "Letter", "")
	pdf.SetTitle(appName+" Investment Report", false)
	pdf.SetCreator(appName, false)
	pdf.SetMargins(18, 18, 18)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	text := func(s string) string { return tr(asciiFallback.Replace(s)) }

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 10, appName+" Investment Report", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(107, 114, 128)
	pdf.CellFormat(0, 5, "Generated "+m.GeneratedAt.Format("2006-01-02 15:04 MST"), "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(4)

	address := strings.TrimSpace(p.Address)
	if address == "" {
		address = "Unknown address"
	}
	line := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(38, 7, text(label), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 7, text(value), "", 1, "L", false, 0, "")
	}
	line("Address:", address)
	line("Grade:", fmt.Sprintf("%s    Score: %.1f    Verdict: %s", res.Grade, res.Score, res.Verdict))
	line("Kill Switch:", fmt.Sprintf("%t    Stress DSCR: %.2f (rent -20%%)", res.KillSwitch, res.StressDSCR))
	line("Rate env:", string(res.RateEnv))
	pdf.Ln(4)

	rows := [][2]string{
		{"Price", money(p.Price)},
		{"Monthly Rent", money(p.MonthlyRent)},
		{"Monthly Expenses", money(p.MonthlyExpenses)},
		{"Loan Payment", money(p.LoanPayment)},
		{"Vacancy Rate", fmt.Sprintf("%.0f%%", p.VacancyRate*100)},
		{"Replacement Cost", money(p.ReplacementCost)},
		{"Days on Market", fmt.Sprintf("%d", p.DaysOnMarket)},
		{"Job Diversity Index", fmt.Sprintf("%.2f", p.JobDiversityIndex)},
		{"Annual NOI", money(res.Ratios.AnnualNOI)},
		{"Cap Rate", percent(res.Ratios.CapRate)},
		{"Annual Cash Flow", money(res.Ratios.AnnualCashFlow)},
	}
	if res.Ratios.CashOnCash != nil {
		rows = append(rows, [2]string{"Cash-on-Cash", percent(*res.Ratios.CashOnCash)})
	}

	pdf.SetFillColor(211, 211, 211)
	pdf.SetDrawColor(128, 128, 128)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(70, 7, "Metric", "1", 0, "L", true, 0, "")
	pdf.CellFormat(50, 7, "Value", "1", 1, "L", true, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	for _, r := range rows {
		pdf.CellFormat(70, 7, text(r[0]), "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 7, text(r[1]), "1", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	bullets := func(title string, items []string) {
		pdf.SetFont("Helvetica", "B", 13)
		pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		for _, it := range items {
			pdf.MultiCell(0, 6, text("• "+it), "", "L", false)
		}
		pdf.Ln(3)
	}
	bullets("Top Strengths", res.Strengths)
	bullets("Top Risks / Flags", res.Risks)

	pdf.SetFont("Helvetica", "I", 8)
	pdf.SetTextColor(107, 114, 128)
	pdf.MultiCell(0, 4, text("Deterministic underwriting. Risk flags only reduce the score; they never inflate it. Listing sites are never scraped."), "", "L", false)

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}

func RenderBytes(m Memo) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
