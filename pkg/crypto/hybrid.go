package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

const (
	aesKeySize = 32
	ivSize     = aes.BlockSize
)

var (
	// ErrKeyUnwrap means the RSA-wrapped key blob could not be recovered. With
	// a correct key pair this is what a padding mismatch looks like.
	ErrKeyUnwrap = errors.New("failed to unwrap envelope key")
	// ErrMalformed means the key was recovered but the payload was not valid.
	ErrMalformed = errors.New("malformed envelope payload")
	// ErrInvalidKey means PEM key material could not be parsed.
	ErrInvalidKey = errors.New("invalid key material")
)

// Padding selects the RSA padding used to wrap the AES key blob.
type Padding int

const (
	PaddingPKCS1 Padding = iota
	PaddingOAEP
)

// DefaultPaddings is the negotiation order used with the gateway.
var DefaultPaddings = []Padding{PaddingPKCS1, PaddingOAEP}

func (p Padding) String() string {
	switch p {
	case PaddingPKCS1:
		return "pkcs1"
	case PaddingOAEP:
		return "oaep"
	default:
		return fmt.Sprintf("padding(%d)", int(p))
	}
}

// ParsePadding parses "pkcs1" or "oaep".
func ParsePadding(s string) (Padding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pkcs1", "pkcs1v15":
		return PaddingPKCS1, nil
	case "oaep":
		return PaddingOAEP, nil
	}
	return 0, fmt.Errorf("unknown padding %q", s)
}

// Sealed is the transport form of an encrypted payload: the base64 AES
// ciphertext and the base64 RSA-wrapped "key.iv" blob.
type Sealed struct {
	Data string
	Key  string
}

// Seal JSON-encodes payload, encrypts it with a fresh AES-256-CBC key and IV
// and wraps base64(key) + "." + base64(iv) under pub.
func Seal(payload any, pub *rsa.PublicKey, padding Padding) (*Sealed, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: missing public key", ErrInvalidKey)
	}
	plain, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	key := make([]byte, aesKeySize)
	iv := make([]byte, ivSize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	padded := pkcs7Pad(plain, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	blob := base64.StdEncoding.EncodeToString(key) + "." + base64.StdEncoding.EncodeToString(iv)
	wrapped, err := wrapKey([]byte(blob), pub, padding)
	if err != nil {
		return nil, err
	}

	return &Sealed{
		Data: base64.StdEncoding.EncodeToString(ct),
		Key:  base64.StdEncoding.EncodeToString(wrapped),
	}, nil
}

// Open unwraps the key blob with priv, decrypts the data and decodes the JSON
// into out.
func Open(sealed Sealed, priv *rsa.PrivateKey, padding Padding, out any) error {
	if priv == nil {
		return fmt.Errorf("%w: missing private key", ErrInvalidKey)
	}
	wrapped, err := base64.StdEncoding.DecodeString(sealed.Key)
	if err != nil {
		return fmt.Errorf("%w: key is not base64: %v", ErrMalformed, err)
	}

	key, iv, err := unwrapKey(wrapped, priv, padding)
	if err != nil {
		return err
	}

	ct, err := base64.StdEncoding.DecodeString(sealed.Data)
	if err != nil {
		return fmt.Errorf("%w: data is not base64: %v", ErrMalformed, err)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return fmt.Errorf("%w: ciphertext length %d", ErrMalformed, len(ct))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(plain, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// OpenNegotiated tries each padding in order until the key blob unwraps.
func OpenNegotiated(sealed Sealed, priv *rsa.PrivateKey, order []Padding, out any) (Padding, error) {
	return Negotiate(order, func(p Padding) (Result, error) {
		err := Open(sealed, priv, p, out)
		switch {
		case err == nil:
			return Done, nil
		case errors.Is(err, ErrKeyUnwrap):
			return TryNext, err
		default:
			return Abort, err
		}
	})
}

func wrapKey(blob []byte, pub *rsa.PublicKey, padding Padding) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch padding {
	case PaddingPKCS1:
		out, err = rsa.EncryptPKCS1v15(rand.Reader, pub, blob)
	case PaddingOAEP:
		out, err = rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, blob, nil)
	default:
		return nil, fmt.Errorf("unsupported padding %s", padding)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to wrap key with %s: %w", padding, err)
	}
	return out, nil
}

func unwrapKey(wrapped []byte, priv *rsa.PrivateKey, padding Padding) (key, iv []byte, err error) {
	var blob []byte
	switch padding {
	case PaddingPKCS1:
		blob, err = rsa.DecryptPKCS1v15(rand.Reader, priv, wrapped)
	case PaddingOAEP:
		blob, err = rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	default:
		return nil, nil, fmt.Errorf("unsupported padding %s", padding)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w (%s): %v", ErrKeyUnwrap, padding, err)
	}

	// A wrong padding can occasionally "succeed" and yield garbage, so the
	// blob shape is checked as part of unwrapping.
	parts := strings.Split(string(blob), ".")
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("%w (%s): blob has %d parts", ErrKeyUnwrap, padding, len(parts))
	}
	key, err = base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(key) != aesKeySize {
		return nil, nil, fmt.Errorf("%w (%s): bad aes key", ErrKeyUnwrap, padding)
	}
	iv, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(iv) != ivSize {
		return nil, nil, fmt.Errorf("%w (%s): bad iv", ErrKeyUnwrap, padding)
	}
	return key, iv, nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, fmt.Errorf("%w: bad padded length", ErrMalformed)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrMalformed)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrMalformed)
		}
	}
	return b[:len(b)-n], nil
}

// ParsePublicKey parses a PEM-encoded PKIX or PKCS#1 RSA public key.
func ParsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidKey)
	}
	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA public key", ErrInvalidKey)
		}
		return rsaPub, nil
	}
	pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pub, nil
}

// ParsePrivateKey parses a PEM-encoded PKCS#1 or PKCS#8 RSA private key.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidKey)
	}
	if priv, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return priv, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA private key", ErrInvalidKey)
	}
	return priv, nil
}
