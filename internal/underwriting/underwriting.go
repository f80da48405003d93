// Package underwriting grades a rental property with fixed, deterministic formulas.
package underwriting

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/digkill/aire/internal/models"
)

const (
	stressRentFactor  = 0.80
	maxDaysOnMarket   = 180
	targetDSCR        = 1.50
	targetYield       = 0.12
	replacementTarget = 1.20
	maxPenalty        = 0.35

	// MaxMoney bounds every dollar input; larger figures are typos.
	MaxMoney = 1e12
)

var ErrInvalidInput = errors.New("invalid property input")

// PropertyData holds the deal inputs. Money figures are in dollars; monthly
// values are per month.
type PropertyData struct {
	Address            string  `json:"address"`
	Price              float64 `json:"price"`
	MonthlyRent        float64 `json:"monthly_rent"`
	MonthlyExpenses    float64 `json:"monthly_expenses"`
	LoanPayment        float64 `json:"loan_payment"`
	VacancyRate        float64 `json:"vacancy_rate"`
	ReplacementCost    float64 `json:"replacement_cost"`
	DaysOnMarket       int     `json:"days_on_market"`
	JobDiversityIndex  float64 `json:"job_diversity_index"`
	RentRegulationRisk bool    `json:"rent_regulation_risk"`
	DownPayment        float64 `json:"down_payment,omitempty"`
}

// Validate rejects inputs the formulas cannot interpret.
func (p PropertyData) Validate() error {
	money := map[string]float64{
		"price":            p.Price,
		"monthly_rent":     p.MonthlyRent,
		"monthly_expenses": p.MonthlyExpenses,
		"loan_payment":     p.LoanPayment,
		"replacement_cost": p.ReplacementCost,
		"down_payment":     p.DownPayment,
	}
	for name, v := range money {
		if !(v >= 0 && v <= MaxMoney) {
			return fmt.Errorf("%w: %s must be a number within [0, %.0f]", ErrInvalidInput, name, MaxMoney)
		}
	}
	if p.DaysOnMarket < 0 {
		return fmt.Errorf("%w: days_on_market must be >= 0", ErrInvalidInput)
	}
	if !(p.VacancyRate >= 0 && p.VacancyRate <= 1) {
		return fmt.Errorf("%w: vacancy_rate must be within [0, 1]", ErrInvalidInput)
	}
	if !(p.JobDiversityIndex >= 0 && p.JobDiversityIndex <= 1) {
		return fmt.Errorf("%w: job_diversity_index must be within [0, 1]", ErrInvalidInput)
	}
	return nil
}

type Metrics struct {
	Cashflow    float64 `json:"cashflow"`
	Downside    float64 `json:"downside"`
	Location    float64 `json:"location"`
	Yield       float64 `json:"yield"`
	Liquidity   float64 `json:"liquidity"`
	Optionality float64 `json:"optionality"`
	AIRisk      float64 `json:"ai_risk"`
}

type Weights Metrics

// Ratios are the textbook figures shown next to the grade.
type Ratios struct {
	AnnualNOI      float64  `json:"annual_noi"`
	CapRate        float64  `json:"cap_rate"`
	GrossYield     float64  `json:"gross_yield"`
	AnnualCashFlow float64  `json:"annual_cash_flow"`
	CashOnCash     *float64 `json:"cash_on_cash,omitempty"`
}

type Result struct {
	RateEnv    models.RateEnv `json:"rate_env"`
	Metrics    Metrics        `json:"metrics"`
	Weights    Weights        `json:"weights"`
	Ratios     Ratios         `json:"ratios"`
	StressDSCR float64        `json:"stress_dscr"`
	KillSwitch bool           `json:"kill_switch"`
	Flags      []string       `json:"flags"`
	Penalty    float64        `json:"penalty"`
	BaseScore  float64        `json:"base_score"`
	Score      float64        `json:"score"`
	Grade      string         `json:"grade"`
	Verdict    string         `json:"verdict"`
	Strengths  []string       `json:"strengths"`
	Risks      []string       `json:"risks"`
}

// ParseRateEnv defaults anything other than NORMAL to HIGH.
func ParseRateEnv(s string) models.RateEnv {
	if strings.EqualFold(strings.TrimSpace(s), string(models.RateEnvNormal)) {
		return models.RateEnvNormal
	}
	return models.RateEnvHigh
}

func WeightsFor(env models.RateEnv) Weights {
	if env == models.RateEnvNormal {
		return Weights{Cashflow: 0.25, Downside: 0.20, Location: 0.15, Yield: 0.15, Liquidity: 0.10, Optionality: 0.10, AIRisk: 0.05}
	}
	return Weights{Cashflow: 0.30, Downside: 0.25, Location: 0.15, Yield: 0.10, Liquidity: 0.10, Optionality: 0.05, AIRisk: 0.05}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(v, 1))
}

// StressDSCR is net income with rent cut by 20% over the loan payment.
func StressDSCR(p PropertyData) float64 {
	net := p.MonthlyRent*stressRentFactor - p.MonthlyExpenses
	return net / math.Max(p.LoanPayment, 1)
}

func KillSwitch(p PropertyData) bool {
	return StressDSCR(p) < 1.0 || p.RentRegulationRisk || p.DaysOnMarket > maxDaysOnMarket
}

func grossYield(p PropertyData) float64 {
	return p.MonthlyRent * 12 / math.Max(p.Price, 1)
}

func CalculateMetrics(p PropertyData) Metrics {
	return Metrics{
		Cashflow:    clamp01(StressDSCR(p) / targetDSCR),
		Downside:    clamp01(p.ReplacementCost / math.Max(p.Price, 1) / replacementTarget),
		Location:    clamp01(p.JobDiversityIndex),
		Yield:       clamp01(grossYield(p) / targetYield),
		Liquidity:   math.Max(0, 1-float64(p.DaysOnMarket)/maxDaysOnMarket),
		Optionality: 0.60,
		AIRisk:      1.0,
	}
}

func CalculateRatios(p PropertyData) Ratios {
	noi := (p.MonthlyRent*(1-p.VacancyRate) - p.MonthlyExpenses) * 12
	r := Ratios{
		AnnualNOI:      noi,
		CapRate:        noi / math.Max(p.Price, 1),
		GrossYield:     grossYield(p),
		AnnualCashFlow: noi - p.LoanPayment*12,
	}
	if p.DownPayment > 0 {
		coc := r.AnnualCashFlow / p.DownPayment
		r.CashOnCash = &coc
	}
	return r
}

const (
	FlagOverstatedYield   = "Overstated yield vs price"
	FlagOptimisticVacancy = "Vacancy assumption looks optimistic"
	FlagRegulatory        = "Regulatory pressure risk"
	FlagLowExpenses       = "Expenses might be understated"
)

var flagPenalty = map[string]float64{
	FlagOverstatedYield:   0.05,
	FlagOptimisticVacancy: 0.08,
	FlagRegulatory:        0.20,
	FlagLowExpenses:       0.06,
}

func RiskFlags(p PropertyData) []string {
	flags := []string{}
	if grossYield(p) > 0.14 {
		flags = append(flags, FlagOverstatedYield)
	}
	if p.VacancyRate < 0.05 {
		flags = append(flags, FlagOptimisticVacancy)
	}
	if p.RentRegulationRisk {
		flags = append(flags, FlagRegulatory)
	}
	if p.MonthlyExpenses < p.MonthlyRent*0.20 {
		flags = append(flags, FlagLowExpenses)
	}
	return flags
}

// Penalty only ever lowers the score; it is capped at 35%.
func Penalty(flags []string) float64 {
	total := 0.0
	for _, f := range flags {
		total += flagPenalty[f]
	}
	return math.Min(total, maxPenalty)
}

func WeightedScore(m Metrics, w Weights) float64 {
	sum := m.Cashflow*w.Cashflow +
		m.Downside*w.Downside +
		m.Location*w.Location +
		m.Yield*w.Yield +
		m.Liquidity*w.Liquidity +
		m.Optionality*w.Optionality +
		m.AIRisk*w.AIRisk
	return sum * 100
}

func Grade(score float64, killed bool) (string, string) {
	switch {
	case killed:
		return "F", "PASS"
	case score >= 90:
		return "A", "STRONG BUY"
	case score >= 80:
		return "B", "BUY"
	case score >= 70:
		return "C", "WATCH"
	case score >= 60:
		return "D", "SPECULATIVE"
	default:
		return "F", "PASS"
	}
}

func Narrative(p PropertyData, flags []string, dscr float64) (strengths, risks []string) {
	if dscr >= 1.25 {
		strengths = append(strengths, "Strong stress-tested cash flow (DSCR ≥ 1.25).")
	}
	if p.ReplacementCost >= p.Price {
		strengths = append(strengths, "Downside buffer: priced at/below replacement cost.")
	}
	if p.DaysOnMarket <= 45 {
		strengths = append(strengths, "Healthy liquidity profile (fast exit).")
	}
	if len(strengths) == 0 {
		strengths = append(strengths, "Neutral strength profile: upside depends on execution and pricing discipline.")
	}

	risks = append(risks, flags...)
	if len(risks) == 0 {
		risks = append(risks, "No major risk flags detected; verify rents/expenses with comps.")
	}

	if len(strengths) > 3 {
		strengths = strengths[:3]
	}
	if len(risks) > 3 {
		risks = risks[:3]
	}
	return strengths, risks
}

// Evaluate runs the full underwriting pass.
func Evaluate(p PropertyData, env models.RateEnv) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if env != models.RateEnvNormal {
		env = models.RateEnvHigh
	}

	dscr := StressDSCR(p)
	killed := KillSwitch(p)
	metrics := CalculateMetrics(p)
	weights := WeightsFor(env)
	flags := RiskFlags(p)
	penalty := Penalty(flags)

	base := WeightedScore(metrics, weights)
	final := math.Max(base*(1-penalty), 0)
	grade, verdict := Grade(final, killed)
	strengths, risks := Narrative(p, flags, dscr)

	return Result{
		RateEnv:    env,
		Metrics:    metrics,
		Weights:    weights,
		Ratios:     CalculateRatios(p),
		StressDSCR: dscr,
		KillSwitch: killed,
		Flags:      flags,
		Penalty:    penalty,
		BaseScore:  base,
		Score:      final,
		Grade:      grade,
		Verdict:    verdict,
		Strengths:  strengths,
		Risks:      risks,
	}, nil
}
