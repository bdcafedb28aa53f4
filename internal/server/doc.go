// Package server assembles the HTTP API.
//
// Routing is chi with the stock middleware stack (request ID, real IP,
// panic recovery, timeout) plus CORS. Everything under /api/v1 and /ws
// sits behind JWT authentication; /health is public.
//
// Handlers stay thin: decode the request, pull the authenticated user ID
// from context, call the store or chat service, and map domain errors to
// statuses in one place (respondDomainError). Handlers never branch on
// error text, only on sentinel errors.
package server
