// Package api exposes the gateway's HTTP surface.
//
// # Overview
//
// Public routes cover provider discovery and the two login flows; everything
// else sits behind the session gate. Handlers translate collaborator errors
// into the gateway's response taxonomy: a backend rejection is 401 or 403, an
// unreachable backend or cache is 503, and a malformed request body is 400.
//
// Routes:
//
//	GET  /auth/getOidc       provider configuration (public)
//	POST /auth/authenticate  authorization-code login (public)
//	POST /auth/supervisor    username/password login (public)
//	GET  /auth/online        live session count (public)
//	GET  /auth/whoami        profile, operations and menu
//	GET  /auth/profile       alias of whoami
//	GET  /auth/permissions   resolved operation set
//	POST /auth/logout        drop the session cache entry
//	POST /auth/refresh       extend the session cache TTL
package api
