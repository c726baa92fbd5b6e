package registry

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"time"

	"github.com/podnet/podnet/logging"
	"github.com/podnet/podnet/model"
)

var logger = logging.Log()

// CertRepository keeps the registry of certificates issued by the network
// CAs, so the signer of a token can be resolved later.
type CertRepository interface {
	RegisterCert(issuedCert model.IssuedCert) model.HttpError
	GetCert(commonName string) (model.IssuedCert, model.HttpError)
	GetCerts(limit int, offset int) ([]model.IssuedCert, model.HttpError)
	DeleteExpired(now time.Time) (int64, model.HttpError)
}

// IssuedCertFor builds the registry record for a signed certificate.
func IssuedCertFor(cert *x509.Certificate, certPem []byte) model.IssuedCert {
	return model.IssuedCert{
		CommonName:  cert.Subject.CommonName,
		Serial:      cert.SerialNumber.Text(16),
		Fingerprint: BuildCertificateFingerprint(cert),
		CertPem:     string(certPem),
		NotAfter:    cert.NotAfter,
	}
}

func BuildCertificateFingerprint(certificate *x509.Certificate) string {
	fingerprintBytes := sha256.Sum256(certificate.Raw)
	return hex.EncodeToString(fingerprintBytes[:])
}
