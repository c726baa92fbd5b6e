package secrets

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"

	"github.com/podnet/podnet/keystore"
	"github.com/podnet/podnet/logging"
	"github.com/podnet/podnet/model"
)

var logger = logging.Log()

// CertChain is a signed cert plus the certs of the issuing CAs that signed
// it. The chain never includes the network root cert. Certs higher in the
// chain come before the certs they signed.
type CertChain struct {
	SignedCert *x509.Certificate
	Chain      []*x509.Certificate
}

// AsBytes serializes the chain plus the signed cert to the persisted chain
// format.
func (cc CertChain) AsBytes() []byte {
	return keystore.EncodeCertChain(append(append([]*x509.Certificate{}, cc.Chain...), cc.SignedCert))
}

// Secret is an identity in the network: a certificate, optionally the
// matching private key when this process can sign and decrypt for the
// identity, and optionally a symmetric shared key for payload encryption.
//
// A Secret is populated exactly once, through one of the factories or
// through CreateCSR followed by AddSignedCert. Attempts to re-populate fail.
type Secret struct {
	commonName string
	network    string

	cert       *x509.Certificate
	certChain  []*x509.Certificate
	privateKey *rsa.PrivateKey

	isRoot bool
	ca     bool

	sharedKey          []byte
	protectedSharedKey []byte
}

// New returns an empty secret for the given network, ready to be populated
// by CreateCSR/AddSignedCert or Load.
func New(network string) *Secret {
	return &Secret{network: network}
}

func (s *Secret) CommonName() string {
	return s.commonName
}

func (s *Secret) Network() string {
	return s.network
}

func (s *Secret) Cert() *x509.Certificate {
	return s.cert
}

// CertChain returns the chain of issuing CA certs, root excluded, highest
// authority first.
func (s *Secret) CertChain() []*x509.Certificate {
	return append([]*x509.Certificate{}, s.certChain...)
}

func (s *Secret) PrivateKey() *rsa.PrivateKey {
	return s.privateKey
}

func (s *Secret) PublicKey() (publicKey *rsa.PublicKey, httpErr model.HttpError) {
	if s.cert == nil {
		return publicKey, model.HttpError{Status: http.StatusBadRequest, Message: "Secret has no certificate."}
	}
	publicKey, ok := s.cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return publicKey, model.HttpError{Status: http.StatusBadRequest, Message: "Certificate does not hold an RSA public key."}
	}
	return publicKey, httpErr
}

func (s *Secret) IsRoot() bool {
	return s.isRoot
}

func (s *Secret) IsCA() bool {
	return s.ca
}

func (s *Secret) ProtectedSharedKey() []byte {
	return append([]byte{}, s.protectedSharedKey...)
}

// CertAsPem returns the PEM encoding of the leaf certificate only.
func (s *Secret) CertAsPem() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: s.cert.Raw})
}

// CertChainAsPem returns the persisted chain format: provenance comments,
// chain certs first, leaf last, root never included.
func (s *Secret) CertChainAsPem() []byte {
	return keystore.EncodeCertChain(append(append([]*x509.Certificate{}, s.certChain...), s.cert))
}

// AddSignedCert populates the secret with the cert signed by an issuing CA
// and the chain of that CA.
func (s *Secret) AddSignedCert(certChain CertChain) (httpErr model.HttpError) {
	if s.cert != nil {
		return model.HttpError{Status: http.StatusConflict, Message: "Secret already has a certificate."}
	}
	s.cert = certChain.SignedCert
	s.certChain = certChain.Chain
	s.commonName = certChain.SignedCert.Subject.CommonName
	s.ca = certChain.SignedCert.IsCA
	return httpErr
}

// Load populates an empty secret from storage. The certificate file can
// include a cert chain, ordered from the highest cert in the chain to the
// leaf cert.
func Load(storage keystore.Storage, certFile string, keyFile string, network string, password string, withPrivateKey bool) (secret *Secret, httpErr model.HttpError) {
	secret = New(network)

	cert, certChain, httpErr := keystore.ReadCertChain(storage, certFile)
	if httpErr != (model.HttpError{}) {
		return secret, httpErr
	}
	secret.cert = cert
	secret.certChain = certChain
	secret.commonName = cert.Subject.CommonName
	secret.ca = cert.IsCA
	// A self-issued cert without a chain is the trust root of its network.
	secret.isRoot = len(certChain) == 0 && bytes.Equal(cert.RawIssuer, cert.RawSubject)

	if withPrivateKey {
		key, httpErr := keystore.ReadPrivateKey(storage, keyFile, password)
		if httpErr != (model.HttpError{}) {
			return secret, httpErr
		}
		secret.privateKey = key
	}
	logger.Debugf("Loaded secret %s with %d chain certs.", secret.commonName, len(secret.certChain))
	return secret, httpErr
}

// Save persists the cert chain and, when present, the encrypted private
// key. Existing files are never overwritten.
func (s *Secret) Save(storage keystore.Storage, certFile string, keyFile string, password string) (httpErr model.HttpError) {
	if s.cert == nil {
		return model.HttpError{Status: http.StatusBadRequest, Message: "Secret has no certificate to save."}
	}
	certs := append(append([]*x509.Certificate{}, s.certChain...), s.cert)
	httpErr = keystore.WriteCertChain(storage, certFile, certs)
	if httpErr != (model.HttpError{}) {
		return httpErr
	}
	if s.privateKey != nil {
		return keystore.WritePrivateKey(storage, keyFile, s.privateKey, password)
	}
	return httpErr
}

// FromCertPem builds a key-less secret from PEM data, for example a signer
// certificate fetched from a remote pod. The data may include a chain.
func FromCertPem(pemData []byte, network string) (secret *Secret, httpErr model.HttpError) {
	secret = New(network)
	cert, certChain, httpErr := keystore.ParseCertChain(pemData)
	if httpErr != (model.HttpError{}) {
		return secret, httpErr
	}
	secret.cert = cert
	secret.certChain = certChain
	secret.commonName = cert.Subject.CommonName
	secret.ca = cert.IsCA
	secret.isRoot = len(certChain) == 0 && bytes.Equal(cert.RawIssuer, cert.RawSubject)
	return secret, httpErr
}

// ParseCSR converts PEM text to an X.509 certificate signing request.
func ParseCSR(pemData []byte) (csr *x509.CertificateRequest, httpErr model.HttpError) {
	block, _ := pem.Decode(pemData)
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return csr, model.HttpError{Status: http.StatusBadRequest, Message: "No certificate request found."}
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return csr, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Was not able to parse the certificate request. Error: %v", err), RootError: err}
	}
	return csr, httpErr
}

// CsrAsPem returns the PEM encoding of a CSR for the wire exchange with a
// signing service.
func CsrAsPem(csr *x509.CertificateRequest) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csr.Raw})
}
