package core

import (
	"time"

	"go.uber.org/zap"
)

// API is everything an HTTP adapter needs to mount kasal's routes.
type API struct {
	Auth       AuthHandler
	Profiles   ProfileHandler
	Endpoints  []*Endpoint
	BasePath   string
	SessionTTL time.Duration
	Logger     *zap.Logger
}

// Endpoint is a framework-agnostic route description. Adapters bind their
// own handler to each OperationID.
type Endpoint struct {
	Path     string
	Method   string
	Metadata EndpointMetadata
}

// Access levels of an endpoint.
const (
	AccessPublic  = "public"
	AccessSession = "session"
	AccessOwner   = "owner"
	AccessAdmin   = "admin"
)

type EndpointMetadata struct {
	OperationID string
	Description string
	Access      string
}

// ErrorResponse represents an error response structure
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
