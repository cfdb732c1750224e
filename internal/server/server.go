package server

import (
	"net/http"
)

// Middleware decorates every route a [BasicRouter] serves.
type Middleware func(http.Handler) http.Handler

// Handler is an [http.Handler] that declares its own "METHOD /path" patterns, so one value can be
// mounted on several routes at once.
type Handler interface {
	http.Handler
	Routes() []string
}

var _ Handler = (*StatusServer)(nil)
