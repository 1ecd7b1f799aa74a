// Package password provides argon2id hashing for stored credentials.
//
// Hashes are encoded in PHC string format so parameters travel with the
// hash and can be upgraded over time without a migration step.
package password
