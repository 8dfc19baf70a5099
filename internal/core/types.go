package core

import "seedlot/pkg/domain"

type (
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
	Result             = domain.Result
	Violation          = domain.Violation
	RuleViolationError = domain.RuleViolationError
)
