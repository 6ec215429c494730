package reconcile

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable
// guidance. The Code is what operators quote when asking for help, so it
// must stay stable once published.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive,
// strings.Contains) to user messages. First match wins, so specific
// patterns come before general ones.
var errorPatterns = []errorPattern{
	// File and decode errors (FILE001-FILE004)
	{
		pattern: "no supported encoding matched",
		msg: UserMessage{
			Message: "The file could not be read in any supported encoding",
			Action:  "Re-export the file as Shift_JIS or UTF-8 and upload again",
			Code:    "FILE001",
		},
	},
	{
		pattern: "decode",
		msg: UserMessage{
			Message: "The uploaded file could not be decoded",
			Action:  "Check the file is the unmodified subscription export",
			Code:    "FILE002",
		},
	},
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "The file exceeds the maximum upload size",
			Action:  "Upload the plain CSV export, not a workbook or archive",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Choose the subscription export CSV and try again",
			Code:    "FILE004",
		},
	},

	// Schema errors (VAL001-VAL002)
	{
		pattern: "missing required columns",
		msg: UserMessage{
			Message: "Required columns are missing from the export",
			Action:  "Export all columns from the subscription tool without renaming headers",
			Code:    "VAL001",
		},
	},
	{
		pattern: "unknown applicant pool",
		msg: UserMessage{
			Message: "Unknown applicant pool",
			Action:  "Use \"service\" or \"discount\"",
			Code:    "VAL002",
		},
	},
	{
		pattern: "required field",
		msg: UserMessage{
			Message: "A required field is missing",
			Action:  "Fill in every required field and resubmit",
			Code:    "VAL003",
		},
	},
	{
		pattern: "not verified",
		msg: UserMessage{
			Message: "The applicant has not been verified yet",
			Action:  "Run or complete verification before granting the benefit",
			Code:    "VAL004",
		},
	},

	// Record errors (REC001)
	{
		pattern: "record not found",
		msg: UserMessage{
			Message: "The requested record does not exist",
			Action:  "It may have been deleted. Refresh the list and try again",
			Code:    "REC001",
		},
	},

	// Database errors (DB001-DB003)
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "A record with this value already exists",
			Action:  "Check for an existing record before creating a new one",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the database",
			Action:  "Please try again in a few moments",
			Code:    "DB002",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "The operation timed out",
			Action:  "Try again, or upload a smaller file",
			Code:    "DB003",
		},
	},

	// Request lifecycle (REQ001-REQ002)
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "The request was cancelled",
			Action:  "Please try again",
			Code:    "REQ001",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "The request timed out",
			Action:  "Try again, or check your connection",
			Code:    "REQ002",
		},
	},

	// Throttling (RATE001)
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
	{
		pattern: "upload already in progress",
		msg: UserMessage{
			Message: "Another upload is currently being processed",
			Action:  "Wait for the running upload to finish, then retry",
			Code:    "RATE002",
		},
	},
}

// defaultMessage is the ERR000 fallback. When operators report ERR000,
// check the application logs for the original technical error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message, returning
// the first matching pattern or the ERR000 fallback.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError creates a display string: "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// UserError pairs a technical error with its user-facing message. The
// technical error stays available for logging via Unwrap.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string { return e.User.Message }

func (e *UserError) Unwrap() error { return e.Technical }

// NewUserError wraps a technical error with its mapped user message.
// Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
