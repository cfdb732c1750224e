// Package server provides HTTP routing, middleware, and the status server started by "ncx migrate --listen".
//
// # Router Infrastructure
//
// [BasicRouter] registers "METHOD /path" patterns on an [http.ServeMux]. [Middleware] added with Use
// wraps in reverse order, so the first one added runs outermost.
//
// # Status Server
//
// [StatusServer] is a [Handler] exposing liveness, the latest progress update, Prometheus metrics, and a
// server-sent event stream fed by a tasks.Broadcaster. Request contexts derive from the serving context,
// so open event streams end when the run does.
package server
