package offboarding

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func referenceInput() SettlementInput {
	return SettlementInput{
		MonthlyRate:    dec("9000"),
		Currency:       "AED",
		StartDate:      date(2022, time.January, 1),
		LastWorkingDay: date(2025, time.June, 15),
		LeaveAllowance: dec("30"),
		LeaveUsed:      dec("10"),
	}
}

func TestCalculateSettlement_ReferenceBreakdown(t *testing.T) {
	asOf := date(2025, time.June, 1)
	s, err := CalculateSettlement(referenceInput(), asOf)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	if !s.DayRate.Equal(dec("300")) {
		t.Errorf("day rate: got %s want 300", s.DayRate)
	}
	if !s.ProRataSalary.Equal(dec("4500")) {
		t.Errorf("pro-rata: got %s want 4500", s.ProRataSalary)
	}
	if !s.LeavePayout.Equal(dec("6000")) {
		t.Errorf("leave payout: got %s want 6000", s.LeavePayout)
	}
	if s.ServiceDays != 1261 {
		t.Errorf("service days: got %d want 1261", s.ServiceDays)
	}
	// 1261/365 years at 21 days of pay per year, full precision until
	// the total.
	if !s.Gratuity.Round(2).Equal(dec("21765.21")) {
		t.Errorf("gratuity: got %s want 21765.21 after rounding", s.Gratuity)
	}
	if !s.Total.Equal(dec("32265.21")) {
		t.Errorf("total: got %s want 32265.21", s.Total)
	}
	if s.Currency != "AED" {
		t.Errorf("currency: got %s", s.Currency)
	}
}

func TestCalculateSettlement_Deterministic(t *testing.T) {
	asOf := date(2025, time.June, 1)
	a, err := CalculateSettlement(referenceInput(), asOf)
	if err != nil {
		t.Fatalf("first calculate: %v", err)
	}
	b, err := CalculateSettlement(referenceInput(), asOf)
	if err != nil {
		t.Fatalf("second calculate: %v", err)
	}

	if a.Total.String() != b.Total.String() ||
		a.Gratuity.String() != b.Gratuity.String() ||
		a.YearsOfService.String() != b.YearsOfService.String() ||
		!a.CalculatedAt.Equal(b.CalculatedAt) {
		t.Fatalf("identical inputs must produce identical output:\n%+v\n%+v", a, b)
	}
}

func TestCalculateSettlement_DayRateUsesFinalMonthLength(t *testing.T) {
	in := referenceInput()
	in.MonthlyRate = dec("2900")
	in.LastWorkingDay = date(2024, time.February, 29)

	s, err := CalculateSettlement(in, in.LastWorkingDay)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if !s.DayRate.Equal(dec("100")) {
		t.Errorf("leap February day rate: got %s want 100", s.DayRate)
	}
	if !s.ProRataSalary.Equal(dec("2900")) {
		t.Errorf("full final month pro-rata: got %s want 2900", s.ProRataSalary)
	}
}

func TestCalculateSettlement_OverdrawnLeaveNotClamped(t *testing.T) {
	in := referenceInput()
	in.LeaveAllowance = dec("10")
	in.LeaveUsed = dec("15")

	s, err := CalculateSettlement(in, date(2025, time.June, 1))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if !s.LeavePayout.Equal(dec("-1500")) {
		t.Errorf("overdrawn leave must reduce the total: got %s want -1500", s.LeavePayout)
	}
}

func TestCalculateSettlement_GratuityTierBeyondFiveYears(t *testing.T) {
	in := referenceInput()
	// Exactly 8 years of service at 365 days per year.
	in.LastWorkingDay = date(2025, time.June, 15)
	in.StartDate = in.LastWorkingDay.AddDate(0, 0, -8*365)

	s, err := CalculateSettlement(in, in.LastWorkingDay)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if !s.YearsOfService.Equal(dec("8")) {
		t.Fatalf("years: got %s want 8", s.YearsOfService)
	}
	// 21 days for the first five years, 30 for the remaining three.
	want := dec("300").Mul(dec("195"))
	if !s.Gratuity.Equal(want) {
		t.Errorf("gratuity: got %s want %s", s.Gratuity, want)
	}
}

func TestCalculateSettlement_TotalMatchesComponents(t *testing.T) {
	in := referenceInput()
	in.Reimbursements = dec("750.555")
	in.Deductions = dec("120.125")

	s, err := CalculateSettlement(in, date(2025, time.June, 1))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	want := s.ProRataSalary.Add(s.LeavePayout).Add(s.Gratuity).Add(s.Reimbursements).Sub(s.Deductions).Round(2)
	if !s.Total.Equal(want) {
		t.Errorf("total %s does not equal rounded component sum %s", s.Total, want)
	}
}

func TestCalculateSettlement_Validation(t *testing.T) {
	var ve *ValidationError

	in := referenceInput()
	in.LastWorkingDay = in.StartDate.AddDate(0, 0, -1)
	if _, err := CalculateSettlement(in, date(2025, time.June, 1)); !errors.As(err, &ve) {
		t.Fatalf("last working day before start: expected ValidationError, got %v", err)
	}

	in = referenceInput()
	in.MonthlyRate = dec("-1")
	if _, err := CalculateSettlement(in, date(2025, time.June, 1)); !errors.As(err, &ve) {
		t.Fatalf("negative monthly rate: expected ValidationError, got %v", err)
	}

	in = referenceInput()
	in.StartDate = time.Time{}
	if _, err := CalculateSettlement(in, date(2025, time.June, 1)); !errors.As(err, &ve) {
		t.Fatalf("missing start date: expected ValidationError, got %v", err)
	}
}

func TestAdjust_RecomputesTotal(t *testing.T) {
	s, err := CalculateSettlement(referenceInput(), date(2025, time.June, 1))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	reimb := dec("1000")
	deduct := dec("250")
	adjusted, err := s.Adjust(Adjustments{Reimbursements: &reimb, Deductions: &deduct})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}

	want := s.Total.Add(dec("1000")).Sub(dec("250"))
	if !adjusted.Total.Equal(want) {
		t.Errorf("adjusted total: got %s want %s", adjusted.Total, want)
	}
	if !s.Reimbursements.Equal(decimal.Zero) {
		t.Error("adjust must not mutate the original settlement")
	}
}

func TestAdjust_RejectsNegativeReimbursementsAndDeductions(t *testing.T) {
	s, err := CalculateSettlement(referenceInput(), date(2025, time.June, 1))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	var ve *ValidationError
	neg := dec("-1")
	if _, err := s.Adjust(Adjustments{Reimbursements: &neg}); !errors.As(err, &ve) {
		t.Fatalf("negative reimbursements: expected ValidationError, got %v", err)
	}
	if _, err := s.Adjust(Adjustments{Deductions: &neg}); !errors.As(err, &ve) {
		t.Fatalf("negative deductions: expected ValidationError, got %v", err)
	}

	// Payout lines may legitimately go negative.
	if _, err := s.Adjust(Adjustments{LeavePayout: &neg}); err != nil {
		t.Fatalf("negative leave payout adjustment should be accepted: %v", err)
	}
}
