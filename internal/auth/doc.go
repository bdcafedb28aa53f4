// Package auth handles request authentication.
//
// Identity is carried by HS256-signed JWTs whose "sub" claim is the user
// ID. The HTTP middleware accepts the token as a bearer Authorization
// header, or as a "token" query parameter for websocket upgrades, and
// stashes the verified user ID in the request context for handlers to
// read with UserIDFromContext.
//
// There is no user database. The token itself is the account: any valid
// signature names a user, and all storage is scoped by that ID.
package auth
