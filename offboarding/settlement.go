package offboarding

import (
	"time"

	"github.com/shopspring/decimal"
)

// Gratuity accrues 21 days' pay per year for the first five years of
// service and 30 days per year beyond that.
var (
	gratuityDaysLow  = decimal.NewFromInt(21)
	gratuityDaysHigh = decimal.NewFromInt(30)
	gratuityTier     = decimal.NewFromInt(5)
	daysPerYear      = decimal.NewFromInt(365)
)

// SettlementInput carries everything the calculator reads. All fields
// come from the contractor record except the last working day, which
// belongs to the offboarding.
type SettlementInput struct {
	MonthlyRate    decimal.Decimal
	Currency       string
	StartDate      time.Time
	LastWorkingDay time.Time
	LeaveAllowance decimal.Decimal
	LeaveUsed      decimal.Decimal
	Reimbursements decimal.Decimal
	Deductions     decimal.Decimal
}

// Settlement is the derived final-pay breakdown. Component lines keep
// full precision; only Total is rounded, to 2 decimal places at the
// final step. It is recomputable from its inputs and never hand-edited
// except through recorded adjustments.
type Settlement struct {
	Currency       string          `json:"currency"`
	DayRate        decimal.Decimal `json:"day_rate"`
	ServiceDays    int64           `json:"service_days"`
	YearsOfService decimal.Decimal `json:"years_of_service"`
	ProRataSalary  decimal.Decimal `json:"pro_rata_salary"`
	LeavePayout    decimal.Decimal `json:"leave_payout"`
	Gratuity       decimal.Decimal `json:"gratuity"`
	Reimbursements decimal.Decimal `json:"reimbursements"`
	Deductions     decimal.Decimal `json:"deductions"`
	Total          decimal.Decimal `json:"total"`
	CalculatedAt   time.Time       `json:"calculated_at"`
}

// Adjustments replace individual settlement lines at approval time.
// Nil fields leave the calculated value in place. The total is always
// recomputed from the parts, never accepted from the caller.
type Adjustments struct {
	ProRataSalary  *decimal.Decimal
	LeavePayout    *decimal.Decimal
	Gratuity       *decimal.Decimal
	Reimbursements *decimal.Decimal
	Deductions     *decimal.Decimal
}

// CalculateSettlement derives the final-pay breakdown. It is pure:
// identical inputs and as-of time always produce the identical result.
//
// The day rate divides the monthly rate by the calendar length of the
// final month. Unused leave is not clamped at zero, so an overdrawn
// balance becomes a deduction line in payout form.
func CalculateSettlement(in SettlementInput, asOf time.Time) (Settlement, error) {
	if in.LastWorkingDay.IsZero() {
		return Settlement{}, &ValidationError{Field: "last_working_day", Reason: "required"}
	}
	if in.StartDate.IsZero() {
		return Settlement{}, &ValidationError{Field: "start_date", Reason: "required"}
	}
	if in.LastWorkingDay.Before(in.StartDate) {
		return Settlement{}, &ValidationError{Field: "last_working_day", Reason: "before start date"}
	}
	if in.MonthlyRate.IsNegative() {
		return Settlement{}, &ValidationError{Field: "monthly_rate", Reason: "negative"}
	}

	lwd := in.LastWorkingDay
	dayRate := in.MonthlyRate.Div(decimal.NewFromInt(int64(daysInMonth(lwd))))
	proRata := dayRate.Mul(decimal.NewFromInt(int64(lwd.Day())))

	leaveRemaining := in.LeaveAllowance.Sub(in.LeaveUsed)
	leavePayout := dayRate.Mul(leaveRemaining)

	serviceDays := daysBetween(in.StartDate, lwd)
	years := decimal.NewFromInt(serviceDays).Div(daysPerYear)

	lowYears := decimal.Min(years, gratuityTier)
	highYears := decimal.Max(years.Sub(gratuityTier), decimal.Zero)
	gratuityDays := gratuityDaysLow.Mul(lowYears).Add(gratuityDaysHigh.Mul(highYears))
	gratuity := dayRate.Mul(gratuityDays)

	s := Settlement{
		Currency:       in.Currency,
		DayRate:        dayRate,
		ServiceDays:    serviceDays,
		YearsOfService: years,
		ProRataSalary:  proRata,
		LeavePayout:    leavePayout,
		Gratuity:       gratuity,
		Reimbursements: in.Reimbursements,
		Deductions:     in.Deductions,
		CalculatedAt:   asOf.UTC(),
	}
	s.Total = s.sum()
	return s, nil
}

// Adjust returns a copy with the given lines replaced and the total
// recomputed. Reimbursements and deductions must not go negative;
// payout lines may, since an overdrawn leave balance is legitimate.
func (s Settlement) Adjust(adj Adjustments) (Settlement, error) {
	if adj.Reimbursements != nil && adj.Reimbursements.IsNegative() {
		return Settlement{}, &ValidationError{Field: "reimbursements", Reason: "negative"}
	}
	if adj.Deductions != nil && adj.Deductions.IsNegative() {
		return Settlement{}, &ValidationError{Field: "deductions", Reason: "negative"}
	}

	if adj.ProRataSalary != nil {
		s.ProRataSalary = *adj.ProRataSalary
	}
	if adj.LeavePayout != nil {
		s.LeavePayout = *adj.LeavePayout
	}
	if adj.Gratuity != nil {
		s.Gratuity = *adj.Gratuity
	}
	if adj.Reimbursements != nil {
		s.Reimbursements = *adj.Reimbursements
	}
	if adj.Deductions != nil {
		s.Deductions = *adj.Deductions
	}
	s.Total = s.sum()
	return s, nil
}

// sum rounds to currency precision only here, at the final step.
func (s Settlement) sum() decimal.Decimal {
	return s.ProRataSalary.
		Add(s.LeavePayout).
		Add(s.Gratuity).
		Add(s.Reimbursements).
		Sub(s.Deductions).
		Round(2)
}

func daysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

func daysBetween(from, to time.Time) int64 {
	fromDay := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	toDay := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int64(toDay.Sub(fromDay) / (24 * time.Hour))
}
