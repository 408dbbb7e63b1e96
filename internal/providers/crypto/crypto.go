package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

var ErrPadding = errors.New("invalid PKCS#7 padding")

// Digest names accepted by Hash and HMAC
var digests = map[string]func() hash.Hash{
	"md5":      md5.New,
	"sha1":     sha1.New,
	"sha256":   sha256.New,
	"sha512":   sha512.New,
	"sha3_256": sha3.New256,
	"sha3_512": sha3.New512,
}

// Hash returns the lowercase hex digest of data
func Hash(algorithm string, data []byte) (string, error) {
	newHash, ok := digests[algorithm]
	if !ok {
		return "", fmt.Errorf("unknown digest %q", algorithm)
	}
	h := newHash()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HMAC returns the lowercase hex HMAC of data under key
func HMAC(algorithm string, key, data []byte) (string, error) {
	newHash, ok := digests[algorithm]
	if !ok {
		return "", fmt.Errorf("unknown digest %q", algorithm)
	}
	m := hmac.New(newHash, key)
	m.Write(data)
	return hex.EncodeToString(m.Sum(nil)), nil
}

// MD5Short returns the middle 16 hex chars of the MD5 digest
func MD5Short(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])[8:24]
}

// UUID returns a random version 4 UUID
func UUID() string {
	return uuid.NewString()
}

// fitKey zero-pads or truncates key to the nearest AES key size
func fitKey(key []byte) []byte {
	size := 32
	switch {
	case len(key) <= 16:
		size = 16
	case len(key) <= 24:
		size = 24
	}
	out := make([]byte, size)
	copy(out, key)
	return out
}

func fitIV(iv []byte) []byte {
	out := make([]byte, aes.BlockSize)
	copy(out, iv)
	return out
}

func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, ErrPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, ErrPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrPadding
		}
	}
	return data[:len(data)-n], nil
}

// AESEncrypt encrypts with PKCS#7 padding and returns standard base64.
// An empty iv selects ECB mode, anything else CBC.
func AESEncrypt(plain, key, iv []byte) (string, error) {
	block, err := aes.NewCipher(fitKey(key))
	if err != nil {
		return "", err
	}
	data := pad(plain)
	out := make([]byte, len(data))
	if iv == nil {
		for i := 0; i < len(data); i += aes.BlockSize {
			block.Encrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
		}
	} else {
		cipher.NewCBCEncrypter(block, fitIV(iv)).CryptBlocks(out, data)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// AESDecrypt reverses AESEncrypt
func AESDecrypt(encoded string, key, iv []byte) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("ciphertext is not base64: %w", err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of %d", len(data), aes.BlockSize)
	}
	block, err := aes.NewCipher(fitKey(key))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	if iv == nil {
		for i := 0; i < len(data); i += aes.BlockSize {
			block.Decrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
		}
	} else {
		cipher.NewCBCDecrypter(block, fitIV(iv)).CryptBlocks(out, data)
	}
	return unpad(out)
}
