package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"

	"golang.org/x/crypto/pbkdf2"

	"github.com/podnet/podnet/model"
)

const DefaultKeySize = 3072

const encryptedKeyPemType = "ENCRYPTED PRIVATE KEY"

// Parameters for deriving the key-encryption key from the passphrase.
const (
	pbkdf2Iterations = 120000
	saltSize         = 16
	derivedKeySize   = 32
)

// Generate creates a new RSA key pair for a secret.
func Generate(keySize int) (key *rsa.PrivateKey, httpErr model.HttpError) {
	if keySize == 0 {
		keySize = DefaultKeySize
	}
	logger.Debugf("Generating a private key with key size %d.", keySize)
	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return key, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to generate a private key.", RootError: err}
	}
	return key, httpErr
}

// WritePrivateKey persists the key as an encrypted PKCS8 PEM block. The
// PKCS8 bytes are sealed with AES-256-GCM under a PBKDF2 derived key, the
// PEM payload carries salt, nonce and ciphertext. Existing files are never
// overwritten through this path.
func WritePrivateKey(storage Storage, path string, key *rsa.PrivateKey, password string) (httpErr model.HttpError) {
	if storage.Exists(path) {
		return model.HttpError{Status: http.StatusConflict, Message: fmt.Sprintf("Can not save the private key because the key already exists at %s.", path)}
	}

	pkcs8Bytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to encode the private key.", RootError: err}
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to generate a salt.", RootError: err}
	}

	aead, httpErr := passphraseCipher(password, salt)
	if httpErr != (model.HttpError{}) {
		return httpErr
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to generate a nonce.", RootError: err}
	}

	payload := append(salt, nonce...)
	payload = append(payload, aead.Seal(nil, nonce, pkcs8Bytes, nil)...)

	pemBytes := pem.EncodeToMemory(&pem.Block{Type: encryptedKeyPemType, Bytes: payload})

	logger.Debugf("Saving private key to %s.", path)
	return storage.Write(path, pemBytes)
}

// ReadPrivateKey loads and decrypts a private key persisted by
// WritePrivateKey. A wrong passphrase fails without exposing any key
// material.
func ReadPrivateKey(storage Storage, path string, password string) (key *rsa.PrivateKey, httpErr model.HttpError) {
	pemBytes, httpErr := storage.Read(path)
	if httpErr != (model.HttpError{}) {
		return key, httpErr
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != encryptedKeyPemType {
		return key, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("No encrypted private key found in %s.", path)}
	}

	if len(block.Bytes) < saltSize {
		return key, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Private key at %s is truncated.", path)}
	}
	salt := block.Bytes[:saltSize]

	aead, httpErr := passphraseCipher(password, salt)
	if httpErr != (model.HttpError{}) {
		return key, httpErr
	}

	if len(block.Bytes) < saltSize+aead.NonceSize() {
		return key, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Private key at %s is truncated.", path)}
	}
	nonce := block.Bytes[saltSize : saltSize+aead.NonceSize()]
	ciphertext := block.Bytes[saltSize+aead.NonceSize():]

	pkcs8Bytes, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return key, model.HttpError{Status: http.StatusUnauthorized, Message: fmt.Sprintf("Was not able to decrypt the private key at %s.", path), RootError: err}
	}

	parsedKey, err := x509.ParsePKCS8PrivateKey(pkcs8Bytes)
	if err != nil {
		return key, model.HttpError{Status: http.StatusInternalServerError, Message: fmt.Sprintf("Was not able to parse the private key at %s.", path), RootError: err}
	}
	rsaKey, ok := parsedKey.(*rsa.PrivateKey)
	if !ok {
		return key, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Private key at %s is not an RSA key.", path)}
	}
	return rsaKey, httpErr
}

func passphraseCipher(password string, salt []byte) (aead cipher.AEAD, httpErr model.HttpError) {
	derivedKey := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, derivedKeySize, sha256.New)
	blockCipher, err := aes.NewCipher(derivedKey)
	if err != nil {
		return aead, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to initialize the key cipher.", RootError: err}
	}
	aead, err = cipher.NewGCM(blockCipher)
	if err != nil {
		return aead, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to initialize the key cipher.", RootError: err}
	}
	return aead, httpErr
}
