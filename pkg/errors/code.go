package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Submission lifecycle errors
// 12000-12999: Executor protocol errors
// 13000-13999: Assignment errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	RequiredFieldEmpty ErrorCode = 10303

	// Token errors (10400-10499)
	TokenExpired ErrorCode = 10400
	TokenInvalid ErrorCode = 10401

	// Storage errors (10500-10599)
	StorageError ErrorCode = 10500

	// ========== Submission Lifecycle Errors (11000-11999) ==========

	SubmissionNotFound   ErrorCode = 11000
	SubmissionLocked     ErrorCode = 11001
	InvalidTransition    ErrorCode = 11002
	ReuploadNotAllowed   ErrorCode = 11003
	DeadlinePassed       ErrorCode = 11004
	SubmissionExists     ErrorCode = 11005
	AssignmentNotOpen    ErrorCode = 11006
	FileNotFound         ErrorCode = 11007
	FileRequired         ErrorCode = 11008
	NoFullTestConfigured ErrorCode = 11009

	// Invariant violations (11900-11999)
	InvariantViolation ErrorCode = 11900

	// ========== Executor Protocol Errors (12000-12999) ==========

	ExecutorSecretInvalid ErrorCode = 12000
	ExecutorUnknown       ErrorCode = 12001
	UnknownTestKind       ErrorCode = 12002
	StuckJobNotFound      ErrorCode = 12003
	PollRateExceeded      ErrorCode = 12004
	MalformedResult       ErrorCode = 12005

	// ========== Assignment Errors (13000-13999) ==========

	AssignmentNotFound ErrorCode = 13000
)

// errorMessages maps error codes to default messages
var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized",
	Forbidden:           "Forbidden",
	TooManyRequests:     "Too many requests",
	ServiceUnavailable:  "Service unavailable",
	Timeout:             "Request timeout",

	DatabaseError:       "Database error",
	RecordNotFound:      "Record not found",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Transaction failed",

	CacheError: "Cache error",
	LockFailed: "Failed to acquire lock",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	RequiredFieldEmpty: "Required field is empty",

	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	StorageError: "Object storage error",

	SubmissionNotFound:   "Submission not found",
	SubmissionLocked:     "Submission cannot be modified now",
	InvalidTransition:    "Action not allowed in the current submission state",
	ReuploadNotAllowed:   "Re-upload not allowed",
	DeadlinePassed:       "Hard deadline has passed",
	SubmissionExists:     "A valid submission already exists for this assignment",
	AssignmentNotOpen:    "Assignment is not published yet",
	FileNotFound:         "Submission file not found",
	FileRequired:         "A file upload is required",
	NoFullTestConfigured: "Assignment has no full test configured",

	InvariantViolation: "Internal consistency violation",

	ExecutorSecretInvalid: "Invalid executor secret",
	ExecutorUnknown:       "Unknown executor machine, register first",
	UnknownTestKind:       "Unknown test kind",
	StuckJobNotFound:      "No stuck job for this file",
	PollRateExceeded:      "Executor is polling too fast",
	MalformedResult:       "Malformed test result",

	AssignmentNotFound: "Assignment not found",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case Success:
		return 200
	case Unauthorized, TokenExpired, TokenInvalid, ExecutorSecretInvalid:
		return 401
	case Forbidden:
		return 403
	case NotFound, RecordNotFound, SubmissionNotFound, FileNotFound, AssignmentNotFound, StuckJobNotFound:
		return 404
	case SubmissionLocked, InvalidTransition, ReuploadNotAllowed, DeadlinePassed, SubmissionExists,
		AssignmentNotOpen, NoFullTestConfigured, RecordAlreadyExists, LockFailed:
		return 409
	case ExecutorUnknown:
		return 412
	case TooManyRequests, PollRateExceeded:
		return 429
	case ServiceUnavailable:
		return 503
	case InvalidParams, UnknownTestKind, MalformedResult, FileRequired:
		return 400
	}
	if c >= 10300 && c < 10400 {
		return 400
	}
	return 500
}
