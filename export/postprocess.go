package export

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Compress gzips data.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

const (
	saltSize = 16
	keySize  = chacha20poly1305.KeySize
)

// argon2id parameters
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
)

var (
	errEmptyPassword = errors.New("encryption password is empty")
	errCiphertext    = errors.New("ciphertext too short")
)

// Encrypt seals data with XChaCha20-Poly1305 under a key derived from
// password with Argon2id. Output layout: salt | nonce | ciphertext.
func Encrypt(data []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errEmptyPassword
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(data)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, data, nil), nil
}

// Decrypt reverses Encrypt.
func Decrypt(data []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errEmptyPassword
	}
	if len(data) < saltSize+chacha20poly1305.NonceSizeX {
		return nil, errCiphertext
	}
	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	aead, err := chacha20poly1305.NewX(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, data[saltSize+chacha20poly1305.NonceSizeX:], nil)
}

func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, kdfTime, kdfMemory, kdfThreads, keySize)
}
