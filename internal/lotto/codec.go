package lotto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Payload codec for the game host's encrypted q= exchange. The counterparty
// derives an AES-128 key with PBKDF2-SHA256 (1000 iterations) from the
// first 32 bytes of the JSESSIONID, salted per message, and runs CBC with
// PKCS#7 padding. Wire format: hex(salt 32B) + hex(iv 16B) +
// base64(ciphertext).
const (
	codecSaltLen    = 32
	codecIVLen      = aes.BlockSize
	codecKeyLen     = 16
	codecIterations = 1000
	passphraseLen   = 32
)

var (
	// ErrDecrypt marks a blob that could not be decrypted or unpadded.
	// Treated as a corrupted or protocol-version-mismatched response,
	// never as a business failure.
	ErrDecrypt = errors.New("payload decryption failed")

	// ErrKeyDerivation marks a session value unusable as key material.
	ErrKeyDerivation = errors.New("payload key derivation failed")
)

func derivePayloadKey(sessionID string, salt []byte) ([]byte, error) {
	if sessionID == "" {
		return nil, ErrKeyDerivation
	}
	passphrase := sessionID
	if len(passphrase) > passphraseLen {
		passphrase = passphrase[:passphraseLen]
	}
	return pbkdf2.Key([]byte(passphrase), salt, codecIterations, codecKeyLen, sha256.New), nil
}

// EncryptPayload encrypts plaintext for the session identified by
// sessionID. Safe for concurrent use; every call draws a fresh salt and IV.
func EncryptPayload(plaintext, sessionID string) (string, error) {
	salt := make([]byte, codecSaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	iv := make([]byte, codecIVLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	key, err := derivePayloadKey(sessionID, salt)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(salt) + hex.EncodeToString(iv) +
		base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptPayload reverses EncryptPayload for a blob produced by the remote
// side under the same session.
func DecryptPayload(blob, sessionID string) (string, error) {
	if len(blob) < codecSaltLen*2+codecIVLen*2 {
		return "", fmt.Errorf("%w: blob too short", ErrDecrypt)
	}

	salt, err := hex.DecodeString(blob[:codecSaltLen*2])
	if err != nil {
		return "", fmt.Errorf("%w: bad salt: %v", ErrDecrypt, err)
	}
	iv, err := hex.DecodeString(blob[codecSaltLen*2 : codecSaltLen*2+codecIVLen*2])
	if err != nil {
		return "", fmt.Errorf("%w: bad iv: %v", ErrDecrypt, err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob[codecSaltLen*2+codecIVLen*2:])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext: %v", ErrDecrypt, err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext not block aligned", ErrDecrypt)
	}

	key, err := derivePayloadKey(sessionID, salt)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padding)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padding)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: invalid padded length", ErrDecrypt)
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("%w: invalid padding", ErrDecrypt)
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("%w: invalid padding", ErrDecrypt)
		}
	}
	return data[:len(data)-padding], nil
}
