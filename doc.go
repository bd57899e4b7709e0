// Package pagecodec implements transparent page-level authenticated
// encryption for SQLite database files.
//
// The package provides the cipher core of an encryption extension: the host
// database engine keeps ownership of the pager, B-tree, journal and VFS
// layers, and calls into a Codec to transform fixed-size pages as they move
// between memory and disk. Seven cipher schemes are supported, each preserving
// the on-disk format of an existing SQLite encryption product:
//
//   - aes128cbc  AES-128-CBC, wxSQLite3 version 1 format
//   - aes256cbc  AES-256-CBC, wxSQLite3 version 2 format
//   - chacha20   ChaCha20-Poly1305, sqleet format
//   - sqlcipher  AES-256-CBC + HMAC, SQLCipher versions 1 through 4
//   - rc4        RC4, System.Data.SQLite legacy format
//   - ascon128   Ascon-128 AEAD
//   - aegis      AEGIS-128L/128X2/128X4/256/256X2/256X4 AEAD
//
// # Page layout
//
// Every encrypted database carries a random 16-byte salt in place of the
// "SQLite format 3\x00" magic at the start of page 1. Schemes that
// authenticate pages reserve a tail region on every page:
//
//	page 1:  salt[16] || ciphertext || MAC || NONCE
//	page n:  ciphertext || MAC || NONCE
//
// sqlcipher keeps the SQLCipher order instead: ciphertext || IV || HMAC,
// zero-padded to a multiple of 16 bytes.
//
// After a successful decrypt the in-memory page 1 again begins with the
// SQLite magic, so the host's header parser is unaffected.
//
// # Usage
//
// A Connection owns one Codec per attached database. Keys are set with
// CodecAttach, pages are transformed with Codec.PageTransform, and the key of
// an encrypted database is changed (or removed) with RekeyBegin, which
// drives a host-executed VACUUM while the codec holds separate read and
// write ciphers.
//
// The cipher registry, the master PRNG and the CPU feature flags are
// process-wide; Initialize installs the built-in schemes and is safe to call
// more than once.
package pagecodec
