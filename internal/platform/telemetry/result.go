package telemetry

import "github.com/careflow/careflow/internal/platform/apperr"

// ResultOf maps an operation error to a result label.
func ResultOf(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case apperr.Is(err, apperr.Conflict):
		return ResultConflict
	case apperr.KindOf(err) != "":
		return ResultRejected
	default:
		return ResultError
	}
}
