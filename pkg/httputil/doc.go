// Package httputil holds the small HTTP helpers shared by the admin API and
// the authorization middleware.
//
// Errors from the engine are written with WriteError, which maps the error
// kind onto a status code (not_found 404, bad_request 400, forbidden 403,
// conflict 409, anything else 500) and only ever exposes the caller-safe
// message:
//
//	user, err := svc.Ban(ctx, actorID, targetID, req)
//	if err != nil {
//		httputil.WriteError(w, r, err)
//		return
//	}
//	httputil.WriteSuccess(w, user)
//
// The standard middleware chain is
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.LoggingMiddleware,
//	)
package httputil
