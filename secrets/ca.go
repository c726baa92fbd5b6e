package secrets

import (
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/podnet/podnet/keystore"
	"github.com/podnet/podnet/model"
)

// The trust chain is kept homogeneous and auditable: exactly one signature
// algorithm family is accepted for CSRs and used for issued certs.
const validSignatureAlgorithm = x509.SHA256WithRSA

var (
	oidCommonName       = asn1.ObjectIdentifier{2, 5, 4, 3}
	oidBasicConstraints = asn1.ObjectIdentifier{2, 5, 29, 19}

	// Boilerplate subject attributes that are accepted but carry no
	// meaning for the review policy.
	ignoredSubjectOids = []asn1.ObjectIdentifier{
		{2, 5, 4, 6},  // C
		{2, 5, 4, 8},  // ST
		{2, 5, 4, 7},  // L
		{2, 5, 4, 10}, // O
	}
)

type basicConstraints struct {
	IsCA       bool `asn1:"optional"`
	MaxPathLen int  `asn1:"optional,default:-1"`
}

// CreateSelfSigned generates a key pair and a self-signed certificate,
// marking the secret as the trust root of the network.
func CreateSelfSigned(commonName string, network string, expireDays int, keySize int, ca bool) (secret *Secret, httpErr model.HttpError) {
	secret = New(network)

	key, httpErr := keystore.Generate(keySize)
	if httpErr != (model.HttpError{}) {
		return secret, httpErr
	}

	serial, httpErr := randomSerial()
	if httpErr != (model.HttpError{}) {
		return secret, httpErr
	}

	subject := certName(commonName)
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		Issuer:                subject,
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(0, 0, expireDays),
		BasicConstraintsValid: true,
		IsCA:                  ca,
		SignatureAlgorithm:    validSignatureAlgorithm,
		KeyUsage:              keyUsageFor(ca),
	}

	logger.Debugf("Creating self-signed cert for %s with CA %v.", commonName, ca)
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return secret, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to create the self-signed certificate.", RootError: err}
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return secret, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to parse the created certificate.", RootError: err}
	}

	secret.commonName = commonName
	secret.privateKey = key
	secret.cert = cert
	secret.ca = ca
	secret.isRoot = true
	return secret, httpErr
}

// CreateCSR generates a key pair for the secret and returns a certificate
// signing request for it. One-shot: fails when the secret already holds key
// or cert.
func (s *Secret) CreateCSR(commonName string, keySize int, ca bool) (csr *x509.CertificateRequest, httpErr model.HttpError) {
	if s.privateKey != nil || s.cert != nil {
		return csr, model.HttpError{Status: http.StatusConflict, Message: "Secret already has a cert or private key."}
	}

	key, httpErr := keystore.Generate(keySize)
	if httpErr != (model.HttpError{}) {
		return csr, httpErr
	}

	bcBytes, err := asn1.Marshal(basicConstraints{IsCA: ca})
	if err != nil {
		return csr, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to encode the basic constraints.", RootError: err}
	}

	logger.Debugf("Generating a CSR for %s.", commonName)
	template := &x509.CertificateRequest{
		Subject:            certName(commonName),
		SignatureAlgorithm: validSignatureAlgorithm,
		ExtraExtensions: []pkix.Extension{
			{Id: oidBasicConstraints, Critical: true, Value: bcBytes},
		},
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return csr, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to create the CSR.", RootError: err}
	}
	csr, err = x509.ParseCertificateRequest(der)
	if err != nil {
		return csr, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to parse the created CSR.", RootError: err}
	}

	// The secret is only populated once the CSR exists, a failed attempt
	// must leave it empty for a retry.
	s.privateKey = key
	s.commonName = commonName
	return csr, httpErr
}

// ReviewCSR checks a CSR against the issuing policy of the network: a valid
// self-signature, the single accepted signature algorithm, a subject that
// consists of a common name plus ignorable boilerplate only, and a common
// name under the network domain. The common name is returned with the
// network suffix stripped.
func (s *Secret) ReviewCSR(csr *x509.CertificateRequest) (commonName string, httpErr model.HttpError) {
	logger.Debug("Reviewing cert sign request.")

	if !s.ca {
		return commonName, model.HttpError{Status: http.StatusBadRequest, Message: "Only CAs review CSRs."}
	}

	if err := csr.CheckSignature(); err != nil {
		return commonName, model.HttpError{Status: http.StatusBadRequest, Message: "CSR with invalid signature.", RootError: err}
	}

	if csr.SignatureAlgorithm != validSignatureAlgorithm {
		return commonName, model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Invalid algorithm: %s.", csr.SignatureAlgorithm)}
	}

	for _, attribute := range csr.Subject.Names {
		if attribute.Type.Equal(oidCommonName) {
			commonName = fmt.Sprintf("%v", attribute.Value)
			continue
		}
		if isIgnoredSubjectOid(attribute.Type) {
			continue
		}
		return "", model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Unknown distinguished name: %s.", attribute.Type)}
	}

	if commonName == "" {
		return commonName, model.HttpError{Status: http.StatusBadRequest, Message: "Did not find a commonname in the subject."}
	}

	postfix := "." + s.network
	if !strings.HasSuffix(commonName, postfix) {
		return "", model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Commonname %s is not under domain %s.", commonName, s.network)}
	}

	return strings.TrimSuffix(commonName, postfix), httpErr
}

// SignCSR issues a certificate for the CSR with the private key of this CA.
// The CA flag requested through the basic-constraints extension of the CSR
// is preserved, defaulting to a non-CA cert when absent. The returned chain
// is the chain of this CA plus, unless this CA is the root, its own cert.
func (s *Secret) SignCSR(csr *x509.CertificateRequest, expireDays int) (certChain CertChain, httpErr model.HttpError) {
	if !s.ca {
		return certChain, model.HttpError{Status: http.StatusBadRequest, Message: "Only CAs sign CSRs."}
	}
	if s.privateKey == nil {
		return certChain, model.HttpError{Status: http.StatusBadRequest, Message: "CA has no private key to sign with."}
	}

	isCA := csrRequestsCA(csr)

	serial, httpErr := randomSerial()
	if httpErr != (model.HttpError{}) {
		return certChain, httpErr
	}

	logger.Debugf("Signing cert with cert %s.", s.commonName)
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               csr.Subject,
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(0, 0, expireDays),
		BasicConstraintsValid: true,
		IsCA:                  isCA,
		SignatureAlgorithm:    validSignatureAlgorithm,
		KeyUsage:              keyUsageFor(isCA),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, s.cert, csr.PublicKey, s.privateKey)
	if err != nil {
		return certChain, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to sign the certificate.", RootError: err}
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return certChain, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to parse the signed certificate.", RootError: err}
	}

	chain := append([]*x509.Certificate{}, s.certChain...)
	if !s.isRoot {
		chain = append(chain, s.cert)
	}
	return CertChain{SignedCert: cert, Chain: chain}, httpErr
}

// Validate checks that the cert and its chain are anchored to the given
// root. Certificate revocation and OCSP are not checked.
func (s *Secret) Validate(root *Secret) (httpErr model.HttpError) {
	if s.cert == nil {
		return model.HttpError{Status: http.StatusBadRequest, Message: "Secret has no certificate to validate."}
	}
	if root == nil || root.cert == nil {
		return model.HttpError{Status: http.StatusBadRequest, Message: "No root to validate against."}
	}

	rootPool := x509.NewCertPool()
	rootPool.AddCert(root.cert)
	intermediatePool := x509.NewCertPool()
	for _, cert := range s.certChain {
		intermediatePool.AddCert(cert)
	}

	opts := x509.VerifyOptions{
		Roots:         rootPool,
		Intermediates: intermediatePool,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := s.cert.Verify(opts); err != nil {
		logger.Warnf("Certchain failed validation: %v.", err)
		return model.HttpError{Status: http.StatusBadRequest, Message: fmt.Sprintf("Certchain failed validation: %v.", err), RootError: err}
	}
	return httpErr
}

func csrRequestsCA(csr *x509.CertificateRequest) bool {
	extensions := append(append([]pkix.Extension{}, csr.Extensions...), csr.ExtraExtensions...)
	for _, extension := range extensions {
		if !extension.Id.Equal(oidBasicConstraints) {
			continue
		}
		constraints := basicConstraints{}
		if _, err := asn1.Unmarshal(extension.Value, &constraints); err != nil {
			logger.Warnf("Was not able to parse the basic constraints of the CSR: %v.", err)
			return false
		}
		return constraints.IsCA
	}
	return false
}

func certName(commonName string) pkix.Name {
	return pkix.Name{
		Country:      []string{"SW"},
		Province:     []string{"SW"},
		Locality:     []string{"local"},
		Organization: []string{"memyselfandi"},
		CommonName:   commonName,
	}
}

func keyUsageFor(ca bool) x509.KeyUsage {
	if ca {
		return x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
	}
	return x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
}

func isIgnoredSubjectOid(oid asn1.ObjectIdentifier) bool {
	for _, ignored := range ignoredSubjectOids {
		if oid.Equal(ignored) {
			return true
		}
	}
	return false
}

func randomSerial() (serial *big.Int, httpErr model.HttpError) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return serial, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to generate a serial number.", RootError: err}
	}
	return serial, httpErr
}
