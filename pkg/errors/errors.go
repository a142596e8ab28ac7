package errors

import "errors"

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrNotAccountOwner    = errors.New("payments can only be made from your own account")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailExists        = errors.New("email already exists")
	ErrInternal           = errors.New("internal error")

	// ErrDuplicateAccountNumber reports a uniqueness violation on the
	// account_number column. A racing allocator lost the insert race and
	// must retry with a fresh batch.
	ErrDuplicateAccountNumber = errors.New("account number already taken")

	// ErrDuplicateReference reports a uniqueness violation on the
	// transaction_ref column.
	ErrDuplicateReference = errors.New("transaction reference already exists")

	// ErrNumberSpaceExhausted is returned when repeated allocation rounds
	// keep losing the insert race. With a 9e9 number space this is not
	// expected to happen in practice.
	ErrNumberSpaceExhausted = errors.New("account number space exhausted")
)
