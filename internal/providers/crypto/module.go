package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/sandbox/host"
)

// ModuleName is the name plugins load this module by
const ModuleName = "crypto"

// Module exposes digests, encodings and AES to plugins
func Module() host.Module {
	exports := host.Object{
		"md5_16": func(args ...any) (any, error) {
			data, err := host.Args(args).Bytes(0, "data")
			if err != nil {
				return nil, err
			}
			return MD5Short(data), nil
		},
		"base64Encode": func(args ...any) (any, error) {
			data, err := host.Args(args).Bytes(0, "data")
			if err != nil {
				return nil, err
			}
			return base64.StdEncoding.EncodeToString(data), nil
		},
		"base64Decode": func(args ...any) (any, error) {
			b, err := decodeBase64(args, base64.StdEncoding)
			return string(b), err
		},
		"base64DecodeBytes": func(args ...any) (any, error) {
			return decodeBase64(args, base64.StdEncoding)
		},
		"base64UrlEncode": func(args ...any) (any, error) {
			data, err := host.Args(args).Bytes(0, "data")
			if err != nil {
				return nil, err
			}
			return base64.RawURLEncoding.EncodeToString(data), nil
		},
		"base64UrlDecode": func(args ...any) (any, error) {
			b, err := decodeBase64(args, base64.RawURLEncoding)
			return string(b), err
		},
		"bytesToHex": func(args ...any) (any, error) {
			data, err := host.Args(args).Bytes(0, "data")
			if err != nil {
				return nil, err
			}
			return hex.EncodeToString(data), nil
		},
		"hexToBytes": func(args ...any) (any, error) {
			s, err := host.Args(args).String(0, "hex")
			if err != nil {
				return nil, err
			}
			return hex.DecodeString(s)
		},
		"uuid": func(...any) (any, error) {
			return UUID(), nil
		},
		"aesEncryptEcb": aesEncrypt(false),
		"aesEncryptCbc": aesEncrypt(true),
		"aesDecryptEcb": aesDecrypt(false),
		"aesDecryptCbc": aesDecrypt(true),
	}

	for name := range digests {
		algorithm := name
		exports[algorithm] = func(args ...any) (any, error) {
			data, err := host.Args(args).Bytes(0, "data")
			if err != nil {
				return nil, err
			}
			return Hash(algorithm, data)
		}
		exports["hmac"+hmacSuffix(algorithm)] = func(args ...any) (any, error) {
			a := host.Args(args)
			data, err := a.Bytes(0, "data")
			if err != nil {
				return nil, err
			}
			key, err := a.Bytes(1, "key")
			if err != nil {
				return nil, err
			}
			return HMAC(algorithm, key, data)
		}
	}

	return host.Module{Name: ModuleName, Exports: exports}
}

// hmacSuffix turns "sha256" into "Sha256" and "sha3_256" into "Sha3_256"
func hmacSuffix(algorithm string) string {
	return strings.ToUpper(algorithm[:1]) + algorithm[1:]
}

func decodeBase64(args []any, enc *base64.Encoding) ([]byte, error) {
	s, err := host.Args(args).String(0, "data")
	if err != nil {
		return nil, err
	}
	// accept padded input for the unpadded URL alphabet
	if enc == base64.RawURLEncoding {
		s = strings.TrimRight(s, "=")
	}
	return enc.DecodeString(s)
}

func aesEncrypt(cbc bool) host.Func {
	return func(args ...any) (any, error) {
		a := host.Args(args)
		data, err := a.Bytes(0, "data")
		if err != nil {
			return nil, err
		}
		key, iv, err := keyAndIV(a, cbc)
		if err != nil {
			return nil, err
		}
		return AESEncrypt(data, key, iv)
	}
}

func aesDecrypt(cbc bool) host.Func {
	return func(args ...any) (any, error) {
		a := host.Args(args)
		data, err := a.String(0, "data")
		if err != nil {
			return nil, err
		}
		key, iv, err := keyAndIV(a, cbc)
		if err != nil {
			return nil, err
		}
		plain, err := AESDecrypt(data, key, iv)
		return string(plain), err
	}
}

func keyAndIV(a host.Args, cbc bool) (key, iv []byte, err error) {
	if key, err = a.Bytes(1, "key"); err != nil {
		return nil, nil, err
	}
	if cbc {
		if iv, err = a.Bytes(2, "iv"); err != nil {
			return nil, nil, err
		}
	}
	return key, iv, nil
}
