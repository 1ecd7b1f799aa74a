// Package authkit is an embeddable authentication and credential
// lifecycle engine for multi-tenant storefront backends.
//
// The engine owns registration, password login with an optional emailed
// second-factor challenge, signed access/refresh token issuance with
// rotation and reuse detection, email verification, password reset and
// federated (link-or-create) login. Identity records live behind the
// IdentityStore interface supplied by the caller; ephemeral state
// (sessions, challenges, proof tokens) lives in Redis.
//
// Construct an Engine through the Builder:
//
//	engine, err := authkit.New().
//		WithConfig(cfg).
//		WithRedis(redisClient).
//		WithIdentityStore(store).
//		WithMailSink(mailer).
//		Build()
package authkit
