// services/payment-gateway/internal/tradecrypto/codec.go
package tradecrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"globalpay/services/payment-gateway/internal/config"
)

var (
	ErrInvalidCredentials = errors.New("invalid gateway credentials")
	ErrDecrypt            = errors.New("decrypt payload")
)

// Codec encrypts and signs payloads exchanged with the gateway using one
// environment's key and IV.
type Codec struct {
	key []byte
	iv  []byte
}

func NewCodec(env config.Environment) (*Codec, error) {
	if env.HashKey == "" || env.HashIV == "" {
		return nil, fmt.Errorf("%w for %s environment", config.ErrMissingCredentials, env.Name)
	}
	switch len(env.HashKey) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: key must be 16, 24 or 32 bytes, got %d", ErrInvalidCredentials, len(env.HashKey))
	}
	if len(env.HashIV) != aes.BlockSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrInvalidCredentials, aes.BlockSize, len(env.HashIV))
	}

	return &Codec{key: []byte(env.HashKey), iv: []byte(env.HashIV)}, nil
}

// Encrypt URL-encodes fields in key order and returns the hex AES-CBC ciphertext.
func (c *Codec) Encrypt(fields map[string]any) (string, error) {
	if len(fields) == 0 {
		return "", errors.New("no fields to encrypt")
	}

	values := url.Values{}
	for k, v := range fields {
		values.Set(k, formatValue(v))
	}
	return c.seal([]byte(values.Encode()))
}

func (c *Codec) seal(plain []byte) (string, error) {
	padded := pkcs7Pad(plain, aes.BlockSize)

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(out, padded)

	return hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. It also accepts the gateway's JSON plaintext.
// Every failure returns ErrDecrypt and a nil map.
func (c *Codec) Decrypt(ciphertext string) (map[string]any, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return nil, fmt.Errorf("%w: hex: %v", ErrDecrypt, err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a positive multiple of the block size", ErrDecrypt, len(raw))
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(plain, raw)

	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if !printable(plain) {
		return nil, fmt.Errorf("%w: plaintext is not printable text", ErrDecrypt)
	}

	fields, err := parsePlaintext(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return fields, nil
}

// Sign returns the uppercase hex SHA-256 of the payload wrapped in the key and IV.
func (c *Codec) Sign(payload []byte) []byte {
	h := sha256.New()
	h.Write([]byte("HashKey="))
	h.Write(c.key)
	h.Write([]byte("&"))
	h.Write(payload)
	h.Write([]byte("&HashIV="))
	h.Write(c.iv)

	sum := h.Sum(nil)
	return []byte(strings.ToUpper(hex.EncodeToString(sum)))
}

// VerifySignature compares in constant time. Hex case is ignored.
func (c *Codec) VerifySignature(payload, signature []byte) bool {
	expected := c.Sign(payload)
	got := bytes.ToUpper(bytes.TrimSpace(signature))
	return subtle.ConstantTimeCompare(expected, got) == 1
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(t)
	}
}

func parsePlaintext(plain []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(plain)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var fields map[string]any
		if err := dec.Decode(&fields); err != nil {
			return nil, fmt.Errorf("json: %w", err)
		}
		if dec.More() {
			return nil, errors.New("json: trailing data")
		}
		return fields, nil
	}

	values, err := url.ParseQuery(string(trimmed))
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if len(values) == 0 {
		return nil, errors.New("empty payload")
	}
	fields := make(map[string]any, len(values))
	for k, v := range values {
		if k == "" {
			return nil, errors.New("query: empty key")
		}
		fields[k] = v[0]
	}
	return fields, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data), len(data)+n)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}

func printable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return false
		}
	}
	return true
}
