// Package session verifies fintrack access tokens.
//
// Access tokens are JWTs issued by the accounts service: "sub" carries the
// numeric user id as a string and "type" must be "access". Refresh tokens
// share the signing key and are rejected here.
//
// The verifier is algorithm-pinned: RS*/ES*/EdDSA need a PEM public key,
// HS* a shared secret. Token issuance lives elsewhere; Signer exists for tests
// and local tooling.
package session
