package periods

import (
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Slice splits a fiscal year into consecutive periods of interval months.
// Every period but the first starts on the first of a month; the last one is
// truncated at the fiscal year end. Periods inherit the fiscal year posting
// sequence and are named "YYYY-MM - YYYY-MM".
func Slice(fy accounting.FiscalYear, interval int) []accounting.Period {
	if interval <= 0 {
		return nil
	}
	var out []accounting.Period
	start := accounting.Day(fy.StartDate)
	end := accounting.Day(fy.EndDate)
	for start.Before(end) {
		periodEnd := time.Date(start.Year(), start.Month()+time.Month(interval), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
		if periodEnd.After(end) {
			periodEnd = end
		}
		out = append(out, accounting.Period{
			Name:               start.Format("2006-01") + " - " + periodEnd.Format("2006-01"),
			FiscalYearID:       fy.ID,
			StartDate:          start,
			EndDate:            periodEnd,
			State:              accounting.StateOpen,
			PostMoveSequenceID: fy.PostMoveSequenceID,
		})
		start = periodEnd.AddDate(0, 0, 1)
	}
	return out
}
