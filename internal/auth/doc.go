// Package auth provides request authentication for zenbridge.
//
// # Authentication
//
// API clients and websocket clients authenticate with JWT tokens signed
// with HS256 using the configured jwt_secret. The token's "sub" claim is
// the user ID; it scopes which connections can receive events.
//
// When no jwt_secret is configured the server runs in anonymous mode:
// no middleware is installed and websocket clients identify themselves
// with a user_id query parameter. Anonymous mode is for development only.
//
// # Identity Propagation
//
// The HTTP middleware verifies the token and attaches an Identity to the
// request context:
//
//	handler := auth.Middleware(verifier)(mux)
//
// Handlers retrieve it with FromContext:
//
//	if id := auth.FromContext(r.Context()); id != nil {
//	    // id.UserID is the verified subject
//	}
//
// # Token Management
//
// Tokens are generated and verified through JWTVerifier:
//
//	verifier := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate("user_42", 24*time.Hour)
//	userID, err := verifier.Verify(token)
//
// Claims: sub (user ID), iat, exp.
package auth
