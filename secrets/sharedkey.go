package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"net/http"

	"github.com/podnet/podnet/model"
)

const sharedKeySize = 32

// SharedKey returns the unwrapped symmetric key, nil when none was created
// or loaded.
func (s *Secret) SharedKey() []byte {
	return append([]byte{}, s.sharedKey...)
}

// CreateSharedKey generates a fresh symmetric key and wraps it with
// RSA-OAEP under the public key of the target secret, so only the target
// can unwrap it. The plaintext key is kept for local use, the wrapped key
// for transmission. An existing shared key is replaced.
func (s *Secret) CreateSharedKey(target *Secret) (httpErr model.HttpError) {
	if target == nil || target.cert == nil {
		return model.HttpError{Status: http.StatusBadRequest, Message: "Target secret has no certificate to protect the shared key with."}
	}

	logger.Debugf("Creating a shared key protected with cert %s.", target.commonName)
	if s.sharedKey != nil {
		logger.Debug("Replacing existing shared key.")
	}

	sharedKey := make([]byte, sharedKeySize)
	if _, err := rand.Read(sharedKey); err != nil {
		return model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to generate a shared key.", RootError: err}
	}

	publicKey, httpErr := target.PublicKey()
	if httpErr != (model.HttpError{}) {
		return httpErr
	}

	protected, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, publicKey, sharedKey, nil)
	if err != nil {
		return model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to protect the shared key.", RootError: err}
	}

	s.sharedKey = sharedKey
	s.protectedSharedKey = protected
	return httpErr
}

// LoadSharedKey unwraps a shared key that was protected with the public key
// of this secret.
func (s *Secret) LoadSharedKey(protectedSharedKey []byte) (httpErr model.HttpError) {
	if s.privateKey == nil {
		return model.HttpError{Status: http.StatusBadRequest, Message: "Secret has no private key to load the shared key with."}
	}

	logger.Debugf("Decrypting protected shared key with cert %s.", s.commonName)
	sharedKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, s.privateKey, protectedSharedKey, nil)
	if err != nil {
		return model.HttpError{Status: http.StatusBadRequest, Message: "Was not able to decrypt the protected shared key.", RootError: err}
	}

	s.sharedKey = sharedKey
	s.protectedSharedKey = append([]byte{}, protectedSharedKey...)
	return httpErr
}

// Encrypt seals data with the shared key using authenticated encryption.
func (s *Secret) Encrypt(data []byte) (ciphertext []byte, httpErr model.HttpError) {
	aead, httpErr := s.sharedKeyCipher("encrypt")
	if httpErr != (model.HttpError{}) {
		return ciphertext, httpErr
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return ciphertext, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to generate a nonce.", RootError: err}
	}

	logger.Debugf("Encrypting data with %d bytes.", len(data))
	return aead.Seal(nonce, nonce, data, nil), httpErr
}

// Decrypt opens ciphertext produced by Encrypt with the same shared key.
func (s *Secret) Decrypt(ciphertext []byte) (data []byte, httpErr model.HttpError) {
	aead, httpErr := s.sharedKeyCipher("decrypt")
	if httpErr != (model.HttpError{}) {
		return data, httpErr
	}

	if len(ciphertext) < aead.NonceSize() {
		return data, model.HttpError{Status: http.StatusBadRequest, Message: "Ciphertext is truncated."}
	}
	nonce := ciphertext[:aead.NonceSize()]

	data, err := aead.Open(nil, nonce, ciphertext[aead.NonceSize():], nil)
	if err != nil {
		return data, model.HttpError{Status: http.StatusBadRequest, Message: "Was not able to decrypt the ciphertext.", RootError: err}
	}
	logger.Debugf("Decrypted data with %d bytes.", len(data))
	return data, httpErr
}

func (s *Secret) sharedKeyCipher(action string) (aead cipher.AEAD, httpErr model.HttpError) {
	if s.sharedKey == nil {
		return aead, model.HttpError{Status: http.StatusBadRequest, Message: "No shared secret available to " + action + "."}
	}
	blockCipher, err := aes.NewCipher(s.sharedKey)
	if err != nil {
		return aead, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to initialize the shared key cipher.", RootError: err}
	}
	aead, err = cipher.NewGCM(blockCipher)
	if err != nil {
		return aead, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to initialize the shared key cipher.", RootError: err}
	}
	return aead, httpErr
}
