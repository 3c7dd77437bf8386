// Package auth issues and verifies the bearer tokens that identify callers
// of rbacd's HTTP surface.
//
// Tokens are HS256 JWTs whose subject is the numeric user id. They carry no
// roles or permissions: authorization always reads the current role
// assignment from the store, so revoking a role or banning an account takes
// effect on the next request.
//
//	issuer, err := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TTL)
//	token, _, err := issuer.Issue(user.ID, user.Email)
//
//	ident, err := issuer.Verify(token)
//	ctx = auth.WithIdentity(ctx, ident)
package auth
