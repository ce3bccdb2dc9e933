package shared

import "fmt"

// FiscalYearLockKey builds the redis key serializing close and reopen of a
// fiscal year.
func FiscalYearLockKey(fiscalYearID int64) string {
	return fmt.Sprintf("ledger:fiscalyear:%d:lock", fiscalYearID)
}
