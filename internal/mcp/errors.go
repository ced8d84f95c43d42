// Package mcp implements the Model Context Protocol server for amankb.
package mcp

import (
	"context"
	"errors"
	"fmt"

	amerrors "github.com/Aman-CERP/amankb/internal/errors"
)

// Custom MCP error codes for amankb.
const (
	// ErrCodeCollectionNotFound indicates the collection has not been indexed.
	ErrCodeCollectionNotFound = -32001

	// ErrCodeProviderFailed indicates the collection's provider could not embed.
	ErrCodeProviderFailed = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// ErrCodeIncompatibleCollection indicates a contract violation such as
	// drift or a dimension mismatch. Rebuilding the collection fixes it.
	ErrCodeIncompatibleCollection = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidParams  = -32602
	ErrCodeMethodNotFound = -32601
	ErrCodeInternalError  = -32603
)

// ErrToolNotFound indicates the requested tool does not exist.
var ErrToolNotFound = errors.New("tool not found")

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}
	if ae, ok := amerrors.As(err); ok {
		return mapAmanError(ae)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Tool not found."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

// mapAmanError converts an AmanError to an MCPError. Specific codes win
// over the category mapping.
func mapAmanError(ae *amerrors.AmanError) *MCPError {
	message := ae.Message
	if ae.Suggestion != "" {
		message = fmt.Sprintf("%s %s", ae.Message, ae.Suggestion)
	}

	switch ae.Code {
	case amerrors.ErrCodeCollectionNotFound:
		return &MCPError{Code: ErrCodeCollectionNotFound, Message: message}
	case amerrors.ErrCodeDimensionMismatch, amerrors.ErrCodeConfigDrift,
		amerrors.ErrCodeUnversionedCollection, amerrors.ErrCodeCorruptIndex:
		return &MCPError{Code: ErrCodeIncompatibleCollection, Message: message}
	case amerrors.ErrCodeProviderUnavailable, amerrors.ErrCodeCredentialMissing,
		amerrors.ErrCodeModelUnavailable, amerrors.ErrCodeInvalidResponse,
		amerrors.ErrCodeCircuitOpen, amerrors.ErrCodeRateLimited:
		return &MCPError{Code: ErrCodeProviderFailed, Message: message}
	}

	switch ae.Category {
	case amerrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	case amerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
