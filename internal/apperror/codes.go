package apperror

const (
	// Client errors (4xx)
	CodeValidation        = "VALIDATION_ERROR"
	CodeDimensionMismatch = "DIMENSION_MISMATCH"
	CodeInvalidRange      = "INVALID_RANGE"
	CodeNotFound          = "NOT_FOUND"

	// Server errors (5xx)
	CodePersistence = "PERSISTENCE_ERROR"
	CodeInternal    = "INTERNAL_ERROR"
)
