package rest

import "github.com/vovakirdan/dropify-sdk/dropify-sdk-go/dropify/model"

// Session types

// SessionInfo is returned by create, join and lookup.
type SessionInfo struct {
	Code      string  `json:"code"`
	ExpiresAt *string `json:"expires_at,omitempty"`
}

// JoinRequest is the request body for joining a session.
type JoinRequest struct {
	Code string `json:"code"`
}

// Drop types

// TextDropRequest is the request body for text and code drops.
type TextDropRequest struct {
	Content       string         `json:"content"`
	DropType      model.DropKind `json:"drop_type"`
	BurnAfterRead bool           `json:"burn_after_read,omitempty"`
}

// TextDropResponse echoes the stored drop.
type TextDropResponse struct {
	ID            int64          `json:"id"`
	Type          model.DropKind `json:"type"`
	Content       string         `json:"content"`
	BurnAfterRead bool           `json:"burn_after_read"`
}

// FileDropResponse describes an uploaded file.
type FileDropResponse struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
}

// ConsumeResponse reports whether a burn-after-read drop was consumed by this call.
type ConsumeResponse struct {
	Consumed bool `json:"consumed"`
}

// ExpireResponse is returned by the force-expire endpoint.
type ExpireResponse struct {
	Expired bool `json:"expired"`
}

// ErrorResponse represents an API error body.
type ErrorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}
