package contract

import "errors"

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrRetrieval       = errors.New("retrieval failed")
	ErrValidation      = errors.New("validation failed")
)
