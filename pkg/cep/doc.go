// Package cep defines the shared vocabulary of the Credit Envelope Protocol:
// the entity types that move through the Intent → Offer → Envelope → Settlement
// lifecycle, the error taxonomy every protocol operation returns, canonical
// request fingerprinting, and the hash-addressed receipt discipline.
//
// All monetary amounts are integer satoshis (or millisatoshis where named so),
// fee rates are integer basis points, and timestamps are UTC unix seconds.
// Entity IDs are deterministic: a prefixed truncation of the SHA-256 fingerprint
// of the canonical JSON form of the request that created the entity. Two
// logically identical requests therefore always resolve to the same entity,
// which is the protocol's sole concurrency-safety mechanism.
package cep
