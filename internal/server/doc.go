// Package server exposes the now-playing core over HTTP.
//
// # Router
//
// [NewRouter] builds a chi router with request ids, real client addresses, panic recovery and
// request logging through charmbracelet/log. [Middleware] wraps handlers in the standard Go way.
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
// [Register] mounts them on a router.
//
// # API
//
// [API] serves the browser widget:
//
//	GET  /login              {"url": consent page}; the state is remembered for the callback
//	GET  /callback           state check, code exchange, credential saved, coordinator notified
//	GET  /api/now-playing    latest coordinator update
//	POST /api/refresh-token  {"access_token", "expires_in"} through the shared refresher
//	POST /api/retry          poll now
//	POST /api/logout         clear the credential
//	POST /api/activity       user interaction, keeps the fast poll cadence
//	GET  /health             {"status": "ok", "state": ...}
//
// The browser never sees the refresh token; the token store owns it.
//
// # OAuth Callback Handler
//
// [OAuthHandler] implements a one-shot authorization code callback for the CLI login flow.
//
// The handler validates the state parameter (CSRF protection), exchanges the authorization code for a credential,
// and sends the result through a channel.
//
// It only processes one callback to prevent replay attacks.
package server
