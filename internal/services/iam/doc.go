// Package iam turns credentials and bearer tokens into principals for the
// clinical API gateway.
//
// Architecture:
//
//   - TokenVerifier interface: LegacyTokenVerifier (opaque UUID sessions) and
//     ExternalJWTVerifier (identity provider JWTs), routed by TokenDispatcher
//   - KeyCache: atomic snapshot of the provider's signing keys, refreshed
//     synchronously on expiry with concurrent refreshes collapsed
//   - CredentialDispatcher: login over the WebFormDetails / MapDetails union
//   - AuthorizationCache: permission views keyed by auth.CacheKeyFor
//   - Service interface: facade constructed once by NewIAMService
//
// Request Flow:
//
//	Bearer token → TokenDispatcher → Principal
//	       ↓
//	   Service.Begin → SecurityContext (authorization resolved on first use)
//	       ↓
//	   Handler guards → Service.End
//
// Nothing in this package starts a goroutine.
package iam
