// Package bundle implements the on-disk bundle container and the
// platform dependency manifest.
//
// A bundle file is an 8-byte header followed by a uvarint payload
// length and the (optionally compressed) payload:
//
//	offset 0  "BSB1"
//	offset 4  flags  (bit 0: scene-only container)
//	offset 5  codec  (0 none, 1 lz4 block, 2 zstd)
//	offset 6  reserved, zero
//
// The payload is CBOR with Core Deterministic Encoding, so the same
// assets always produce the same bytes and therefore the same index
// hash.
package bundle
