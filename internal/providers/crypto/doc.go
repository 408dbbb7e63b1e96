// Package crypto implements the crypto host module: hex digests
// (md5, sha1, sha256, sha512, sha3), HMACs, base64, hex, AES in ECB and
// CBC modes with PKCS#7 padding, and random UUIDs.
package crypto
