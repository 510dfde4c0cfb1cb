// Package models defines the core data structures for ClubAssist.
//
// It includes the booking record, the widget chat payloads, and the standard
// API response envelope shared across modules.
package models

import (
	"errors"
	"time"
)

// Error variables for better error handling and testability
var (
	ErrEmptyMessage  = errors.New("message cannot be empty")
	ErrNoRequestData = errors.New("no data provided")
)

// Booking represents a structured service-appointment request. A booking is
// persisted once (append-only) and never mutated thereafter.
type Booking struct {
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Service   string    `json:"service"`
	Date      string    `json:"date"`
	Master    string    `json:"master"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

// BookingSource identifies which entry surface produced a booking.
type BookingSource string

const (
	// BookingSourceTelegram marks bookings collected through the Telegram bot.
	BookingSourceTelegram BookingSource = "Telegram бота"
	// BookingSourceWidget marks bookings collected through the website widget.
	BookingSourceWidget BookingSource = "веб-виджет"
	// BookingSourceAssistant marks bookings collected by the AI assistant
	// through the save_booking_data function call.
	BookingSourceAssistant BookingSource = "ИИ-ассистента"
)

// WidgetChatRequest is the request body of POST /website-chat.
type WidgetChatRequest struct {
	Message   string `json:"message"`
	UserID    string `json:"user_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// WidgetChatResponse is the success body of POST /website-chat.
type WidgetChatResponse struct {
	Status    string `json:"status"`
	Response  string `json:"response"`
	MessageID string `json:"message_id"`
	Timestamp string `json:"timestamp"`
}

// WidgetChatError is the error body of the widget endpoints.
type WidgetChatError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ChatRequest is the request body of the alternate POST /chat endpoint.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the body of the alternate POST /chat endpoint.
type ChatResponse struct {
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusSuccess indicates a widget chat request produced a reply.
	APIStatusSuccess APIStatus = "success"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
