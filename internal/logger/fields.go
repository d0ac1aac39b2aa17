package logger

// Log field names shared across packages.
const (
	FieldRequestID = "requestId"
	FieldOwner     = "owner"
	FieldRepo      = "repo"
	FieldPath      = "path"
	FieldAction    = "action"
	FieldStatus    = "status"
	FieldError     = "error"
)
