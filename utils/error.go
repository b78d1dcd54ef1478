package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorReconcileInProgress means another worker holds the reconcile lock for the
// same invoice number. Callers should surface it as a conflict, not a failure.
var ErrorReconcileInProgress = errors.New("reconciliation already in progress for this invoice")

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
