// Package httputil provides HTTP helpers shared by the admin panel handlers.
//
// # Responses
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteUnauthorized(w, "authentication required")
//	httputil.WriteForbidden(w, "permission denied")
//
// # Requests
//
//	var req LoginRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.RecoveryMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
//
// # Client address
//
// ClientIPMiddleware resolves the caller address once per request. Forwarding
// headers are read only when the direct peer is listed in TrustedProxies;
// otherwise ClientIP is the RemoteAddr host.
//
//	trusted, err := httputil.ParseTrustedProxies([]string{"10.0.0.0/8"})
//	router.Use(httputil.ClientIPMiddleware(trusted))
package httputil
