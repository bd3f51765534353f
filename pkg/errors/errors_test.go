package errors

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Message != "configuration is invalid" {
			t.Errorf("Message = %q, want %q", err.Message, "configuration is invalid")
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil {
			t.Error("Details map is nil")
		}
		if err.Context == nil {
			t.Error("Context map is nil")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets correct retryable defaults", func(t *testing.T) {
		retryableErr := NewError(ErrCodeMutexContention, "mutex busy")
		if !retryableErr.Retryable {
			t.Error("MutexContention should be retryable by default")
		}

		nonRetryableErr := NewError(ErrCodeInvalidConfig, "config invalid")
		if nonRetryableErr.Retryable {
			t.Error("InvalidConfig should not be retryable by default")
		}
	})

	t.Run("sets correct abort defaults", func(t *testing.T) {
		abortErr := NewError(ErrCodeCommunicationAbort, "peer unreachable")
		if !abortErr.Abort {
			t.Error("CommunicationAbort should abort by default")
		}

		nonAbortErr := NewError(ErrCodeNodeNotFound, "no such node")
		if nonAbortErr.Abort {
			t.Error("NodeNotFound should not abort by default")
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code     ErrorCode
		expected ErrorCategory
	}{
		{ErrCodeNodeNotFound, CategoryLookup},
		{ErrCodeEdgeNotFound, CategoryLookup},
		{ErrCodeRankNotFound, CategoryLookup},
		{ErrCodeBadType, CategorySerialization},
		{ErrCodeBadId, CategorySerialization},
		{ErrCodeDecodeFailed, CategorySerialization},
		{ErrCodeCommunicationAbort, CategoryCommunication},
		{ErrCodeSendFailed, CategoryCommunication},
		{ErrCodeCollectiveFailed, CategoryCommunication},
		{ErrCodeProtocolViolation, CategoryProtocol},
		{ErrCodeEpochMismatch, CategoryProtocol},
		{ErrCodeNotLocal, CategoryGraphState},
		{ErrCodeDanglingEdge, CategoryGraphState},
		{ErrCodeMutexContention, CategorySync},
		{ErrCodeTerminationLost, CategorySync},
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeMissingConfig, CategoryConfiguration},
		{ErrCodeInternalError, CategoryInternal},
		{ErrCodeUnknownError, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			result := GetCategory(tt.code)
			if result != tt.expected {
				t.Errorf("GetCategory(%v) = %v, want %v", tt.code, result, tt.expected)
			}
		})
	}
}

func TestIsRetryableByDefault(t *testing.T) {
	t.Parallel()

	retryableCodes := []ErrorCode{
		ErrCodeMutexContention,
		ErrCodeLockTimeout,
	}

	nonRetryableCodes := []ErrorCode{
		ErrCodeInvalidConfig,
		ErrCodeNodeNotFound,
		ErrCodeCommunicationAbort,
		ErrCodeBadType,
	}

	for _, code := range retryableCodes {
		t.Run(string(code)+" should be retryable", func(t *testing.T) {
			if !IsRetryableByDefault(code) {
				t.Errorf("%v should be retryable by default", code)
			}
		})
	}

	for _, code := range nonRetryableCodes {
		t.Run(string(code)+" should not be retryable", func(t *testing.T) {
			if IsRetryableByDefault(code) {
				t.Errorf("%v should not be retryable by default", code)
			}
		})
	}
}

func TestIsAbortByDefault(t *testing.T) {
	t.Parallel()

	abortCodes := []ErrorCode{
		ErrCodeBadType,
		ErrCodeBadId,
		ErrCodeCommunicationAbort,
		ErrCodeSendFailed,
		ErrCodeRecvFailed,
		ErrCodeCollectiveFailed,
	}

	nonAbortCodes := []ErrorCode{
		ErrCodeNodeNotFound,
		ErrCodeEdgeNotFound,
		ErrCodeMutexContention,
		ErrCodeInvalidConfig,
	}

	for _, code := range abortCodes {
		t.Run(string(code)+" should abort", func(t *testing.T) {
			if !IsAbortByDefault(code) {
				t.Errorf("%v should abort by default", code)
			}
		})
	}

	for _, code := range nonAbortCodes {
		t.Run(string(code)+" should not abort", func(t *testing.T) {
			if IsAbortByDefault(code) {
				t.Errorf("%v should not abort by default", code)
			}
		})
	}
}

func TestGraphError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *GraphError
		want string
	}{
		{
			name: "with component and operation",
			err: &GraphError{
				Code:      ErrCodeNodeNotFound,
				Component: "graph",
				Operation: "get_node",
				Message:   "node does not exist locally",
			},
			want: "[graph:get_node] NODE_NOT_FOUND: node does not exist locally",
		},
		{
			name: "with component only",
			err: &GraphError{
				Code:      ErrCodeInvalidConfig,
				Component: "config",
				Message:   "invalid value",
			},
			want: "[config] INVALID_CONFIG: invalid value",
		},
		{
			name: "minimal error",
			err: &GraphError{
				Code:    ErrCodeUnknownError,
				Message: "something went wrong",
			},
			want: "UNKNOWN_ERROR: something went wrong",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.err.Error()
			if result != tt.want {
				t.Errorf("Error() = %q, want %q", result, tt.want)
			}
		})
	}
}

func TestGraphError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("underlying cause")
	err := &GraphError{
		Code:    ErrCodeInternalError,
		Message: "wrapper",
		Cause:   cause,
	}

	unwrapped := err.Unwrap()
	if unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
}

func TestGraphError_Is(t *testing.T) {
	t.Parallel()

	err1 := &GraphError{Code: ErrCodeNodeNotFound, Message: "not found"}
	err2 := &GraphError{Code: ErrCodeNodeNotFound, Message: "different message"}
	err3 := &GraphError{Code: ErrCodeInvalidConfig, Message: "invalid"}
	stdErr := errors.New("standard error")

	if !err1.Is(err2) {
		t.Error("errors with same code should match with Is()")
	}

	if err1.Is(err3) {
		t.Error("errors with different codes should not match with Is()")
	}

	if err1.Is(stdErr) {
		t.Error("GraphError should not match standard error with Is()")
	}
}

func TestGraphError_String(t *testing.T) {
	t.Parallel()

	err := &GraphError{
		Code:      ErrCodeProtocolViolation,
		Category:  CategoryProtocol,
		Message:   "message carried a stale epoch",
		Component: "hardsync",
		Operation: "acquire",
		Rank:      3,
		Retryable: false,
		Abort:     true,
		Details:   map[string]interface{}{"epoch": 7},
		Cause:     errors.New("epoch mismatch"),
	}

	result := err.String()

	expectedParts := []string{
		"Code=PROTOCOL_VIOLATION",
		"Category=protocol",
		`Message="message carried a stale epoch"`,
		"Component=hardsync",
		"Operation=acquire",
		"Abort=true",
		"Details=",
		"Cause=",
	}

	for _, part := range expectedParts {
		if !strings.Contains(result, part) {
			t.Errorf("String() missing expected part: %q\nGot: %s", part, result)
		}
	}
}

func TestGraphError_JSON(t *testing.T) {
	t.Parallel()

	err := &GraphError{
		Code:      ErrCodeInvalidConfig,
		Category:  CategoryConfiguration,
		Message:   "invalid setting",
		Component: "config",
		Retryable: false,
	}

	jsonStr := err.JSON()

	var parsed map[string]interface{}
	if parseErr := json.Unmarshal([]byte(jsonStr), &parsed); parseErr != nil {
		t.Fatalf("JSON() returned invalid JSON: %v\nJSON: %s", parseErr, jsonStr)
	}

	if parsed["code"] != "INVALID_CONFIG" {
		t.Errorf("JSON code = %v, want INVALID_CONFIG", parsed["code"])
	}
	if parsed["message"] != "invalid setting" {
		t.Errorf("JSON message = %v, want 'invalid setting'", parsed["message"])
	}
	if parsed["retryable"] != false {
		t.Errorf("JSON retryable = %v, want false", parsed["retryable"])
	}
}

func TestCaptureStack(t *testing.T) {
	t.Parallel()

	stack := CaptureStack(0)

	if stack == "" {
		t.Error("CaptureStack() returned empty string")
	}

	if !strings.Contains(stack, ":") {
		t.Error("Stack trace should contain file:line format")
	}

	if strings.Contains(stack, "errors.go") {
		t.Error("Stack trace should not include errors.go frames")
	}
}

func TestErrorCodeCategories(t *testing.T) {
	t.Parallel()

	allCodes := []ErrorCode{
		ErrCodeNodeNotFound, ErrCodeEdgeNotFound, ErrCodeRankNotFound,
		ErrCodeBadType, ErrCodeBadId, ErrCodeEncodeFailed, ErrCodeDecodeFailed, ErrCodeTypeNotBound,
		ErrCodeCommunicationAbort, ErrCodeSendFailed, ErrCodeRecvFailed, ErrCodeCollectiveFailed,
		ErrCodeProtocolViolation, ErrCodeEpochMismatch, ErrCodeDuplicateMessage,
		ErrCodeNotLocal, ErrCodeAlreadyLocal, ErrCodeInvalidLayer, ErrCodeDanglingEdge,
		ErrCodeMutexContention, ErrCodeLockTimeout, ErrCodeTerminationLost,
		ErrCodeInvalidConfig, ErrCodeMissingConfig,
		ErrCodeInternalError, ErrCodePanicRecovered, ErrCodeUnknownError,
	}

	for _, code := range allCodes {
		category := GetCategory(code)
		if category == "" {
			t.Errorf("GetCategory(%v) returned empty category", code)
		}
	}
}
