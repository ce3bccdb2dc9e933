package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Every ledger error wraps exactly one of them.
var (
	// ErrValidationFailed indicates an invariant violation on create or update.
	ErrValidationFailed = errors.New("accounting: validation failed")
	// ErrModificationBlocked indicates a write on posted, reconciled or closed data.
	ErrModificationBlocked = errors.New("accounting: modification blocked")
	// ErrNotFound indicates a missing record or an uncovered date.
	ErrNotFound = errors.New("accounting: not found")
	// ErrPreconditionFailed indicates the closing setup is unusable.
	ErrPreconditionFailed = errors.New("accounting: precondition failed")
)

func kind(k error, msg string) error {
	return fmt.Errorf("%w: %s", k, msg)
}

// Validation errors.
var (
	ErrFiscalYearOverlap        = kind(ErrValidationFailed, "fiscal years overlap")
	ErrFiscalYearDates          = kind(ErrValidationFailed, "fiscal year ends before it starts")
	ErrDuplicatePostSequence    = kind(ErrValidationFailed, "post move sequence already used by another fiscal year")
	ErrPostSequenceImmutable    = kind(ErrValidationFailed, "post move sequence cannot change once set")
	ErrPeriodOutsideFiscalYear  = kind(ErrValidationFailed, "period dates outside fiscal year")
	ErrPeriodOverlap            = kind(ErrValidationFailed, "periods overlap")
	ErrPeriodDates              = kind(ErrValidationFailed, "period ends before it starts")
	ErrInvalidInterval          = kind(ErrValidationFailed, "period interval must be positive")
	ErrMoveUnbalanced           = kind(ErrValidationFailed, "move is not balanced")
	ErrMoveEmpty                = kind(ErrValidationFailed, "move has no lines")
	ErrMoveCompany              = kind(ErrValidationFailed, "move lines belong to different companies")
	ErrMoveDate                 = kind(ErrValidationFailed, "move date outside period")
	ErrCentralisation           = kind(ErrValidationFailed, "centralised journal already has an open move in this period")
	ErrAccountType              = kind(ErrValidationFailed, "lines cannot use view or closed accounts")
	ErrAccountInactive          = kind(ErrValidationFailed, "lines cannot use inactive accounts")
	ErrLineAmounts              = kind(ErrValidationFailed, "line must be a non-negative debit or credit, never both")
	ErrLineJournalRequired      = kind(ErrValidationFailed, "line without move needs a journal and a period")
	ErrCounterpartLine          = kind(ErrValidationFailed, "centralised counterpart line cannot be removed alone")
	ErrReconcileAccount         = kind(ErrValidationFailed, "reconciled lines must share one account")
	ErrReconcileNotReconcilable = kind(ErrValidationFailed, "account is not reconcilable")
	ErrReconcileDraftLine       = kind(ErrValidationFailed, "reconciled lines must be valid")
	ErrReconcileUnbalanced      = kind(ErrValidationFailed, "reconciled lines are not balanced")
	ErrReconcileEmpty           = kind(ErrValidationFailed, "reconciliation needs lines")
	ErrJournalSequence          = kind(ErrValidationFailed, "journal has no sequence")
	ErrPeriodSequence           = kind(ErrValidationFailed, "period has no post move sequence")
	ErrCentralisedAccounts      = kind(ErrValidationFailed, "centralised journal needs default debit and credit accounts")
)

// Modification errors.
var (
	ErrMovePosted          = kind(ErrModificationBlocked, "move is posted")
	ErrLineReconciled      = kind(ErrModificationBlocked, "line is reconciled")
	ErrJournalPeriodClosed = kind(ErrModificationBlocked, "journal period is closed")
	ErrPeriodClosed        = kind(ErrModificationBlocked, "period is closed")
	ErrFiscalYearClosed    = kind(ErrModificationBlocked, "fiscal year is closed")
	ErrUpdatePosted        = kind(ErrModificationBlocked, "journal does not allow cancelling posted moves")
)

// Lookup errors.
var (
	ErrNoFiscalYear   = kind(ErrNotFound, "no fiscal year covers the date")
	ErrNoPeriod       = kind(ErrNotFound, "no period covers the date")
	ErrRecordNotFound = kind(ErrNotFound, "record not found")
)

// Closing errors.
var (
	ErrCloseSameFiscalYear    = kind(ErrPreconditionFailed, "destination fiscal year equals the closed one")
	ErrClosePeriodMismatch    = kind(ErrPreconditionFailed, "destination period belongs to another fiscal year")
	ErrCloseJournalNotCentral = kind(ErrPreconditionFailed, "destination journal must be centralised")
	ErrCloseJournalAccounts   = kind(ErrPreconditionFailed, "destination journal needs default debit and credit accounts")
	ErrCloseTargetState       = kind(ErrPreconditionFailed, "fiscal year is already closed")
	ErrCloseDestinationState  = kind(ErrPreconditionFailed, "destination fiscal year or period is closed")
	ErrCloseInProgress        = kind(ErrPreconditionFailed, "fiscal year close or reopen already running")
)

// NotFound wraps ErrRecordNotFound with the entity and id that were missing.
func NotFound(entity string, id int64) error {
	return fmt.Errorf("%s %d: %w", entity, id, ErrRecordNotFound)
}
