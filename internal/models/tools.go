// Package models defines tool structures for the assistant function-calling protocol.
package models

import (
	"encoding/json"
	"fmt"
)

// ToolType defines the type of tool the assistant may request.
type ToolType string

const (
	// ToolTypeSaveBooking persists a booking collected by the assistant.
	ToolTypeSaveBooking ToolType = "save_booking_data"
)

// BookingToolParams defines the declared argument schema of the
// save_booking_data function call. Field names match the assistant-side
// function definition, not the spreadsheet columns.
type BookingToolParams struct {
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	Service        string `json:"service"`
	DateTime       string `json:"datetime"`
	MasterCategory string `json:"master_category"`
	Comments       string `json:"comments,omitempty"`
}

// ToolCall represents one function call requested by a paused assistant run.
type ToolCall struct {
	ID       string       `json:"id"`       // Tool call ID from OpenAI
	Type     string       `json:"type"`     // Always "function" for OpenAI
	Function FunctionCall `json:"function"` // Function details
}

// FunctionCall represents the function details within a tool call.
type FunctionCall struct {
	Name      string          `json:"name"`      // Function name (e.g., "save_booking_data")
	Arguments json.RawMessage `json:"arguments"` // JSON arguments as raw message
}

// ParseBookingParams parses the arguments as BookingToolParams.
// The assistant-side schema is permissive: any field may be empty, matching
// the scripted form which accepts fields verbatim.
func (fc *FunctionCall) ParseBookingParams() (*BookingToolParams, error) {
	if fc.Name != string(ToolTypeSaveBooking) {
		return nil, fmt.Errorf("function name %s is not a booking function", fc.Name)
	}

	var params BookingToolParams
	if err := json.Unmarshal(fc.Arguments, &params); err != nil {
		return nil, fmt.Errorf("failed to parse booking parameters: %w", err)
	}

	return &params, nil
}

// ToolResult represents the result of executing a tool.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`    // ID of the tool call this responds to
	Success    bool   `json:"success"`         // Whether the tool execution succeeded
	Output     string `json:"output"`          // Output text submitted back to the run
	Error      string `json:"error,omitempty"` // Error message if success is false
}
