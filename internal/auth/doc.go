// Package auth resolves connection credentials into relay users.
//
// # Credentials
//
// Clients authenticate with HS256 JWTs issued by the external login service.
// The "sub" claim carries the user ID. The relay only verifies tokens; it
// never issues them except through the development "token" CLI command.
//
// A credential is read from the Authorization header ("Bearer <jwt>") or,
// for browser websockets, from the "token" query parameter.
//
// # Resolver
//
//	resolver := auth.NewResolver(verifier, store, logger)
//	user, err := resolver.Resolve(ctx, credential)
//
// Errors:
//
//   - ErrMissingCredential: nothing was supplied
//   - ErrInvalidCredential: bad signature, expired token, missing sub, unknown user
//
// ErrExpiredToken and ErrMissingClaim wrap ErrInvalidCredential, so callers
// can match on the family with errors.Is.
//
// # HTTP
//
// HTTPAuthMiddleware attaches the resolved *store.User to the request
// context; handlers read it back with FromContext.
package auth
