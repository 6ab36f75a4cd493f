// Package api hosts the HTTP server, middleware, and REST handlers for
// submitting scam checks and retrieving their reports and progress streams.
package api
