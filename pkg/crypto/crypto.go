package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"
)

// PMKLen is the required length of the pairwise master key used for
// encrypted peers
const PMKLen = 16

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// VerifyPassword verifies a password against a hash
func VerifyPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// SealFrame encrypts a frame payload with AES-GCM under the 16-byte PMK.
// The nonce is prepended to the ciphertext.
func SealFrame(pmk, plaintext []byte) ([]byte, error) {
	if len(pmk) != PMKLen {
		return nil, fmt.Errorf("pmk must be %d bytes, got %d", PMKLen, len(pmk))
	}

	block, err := aes.NewCipher(pmk)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// OpenFrame decrypts a frame payload produced by SealFrame
func OpenFrame(pmk, ciphertext []byte) ([]byte, error) {
	if len(pmk) != PMKLen {
		return nil, fmt.Errorf("pmk must be %d bytes, got %d", PMKLen, len(pmk))
	}

	block, err := aes.NewCipher(pmk)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
