package keystore

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"

	"github.com/podnet/podnet/model"
)

const certificatePemType = "CERTIFICATE"

// EncodeCertChain serializes the certs to the persisted chain format: each
// cert preceded by a human-readable provenance comment naming issuer,
// subject and validity window. The comments are non-authoritative and are
// ignored on read. Certs must be passed in chain order with the leaf last,
// the root is never written.
func EncodeCertChain(certs []*x509.Certificate) []byte {
	buffer := bytes.Buffer{}
	for _, cert := range certs {
		buffer.WriteString(fmt.Sprintf("# Issuer %s\n", cert.Issuer))
		buffer.WriteString(fmt.Sprintf("# Subject %s\n", cert.Subject))
		buffer.WriteString(fmt.Sprintf("# Valid from %s to %s\n", cert.NotBefore, cert.NotAfter))
		buffer.Write(pem.EncodeToMemory(&pem.Block{Type: certificatePemType, Bytes: cert.Raw}))
		buffer.WriteString("\n")
	}
	return buffer.Bytes()
}

// ParseCertChain extracts all CERTIFICATE PEM blocks from the persisted
// format. The last block is the leaf, everything before it is the chain of
// issuing CAs in order from the highest CA down.
func ParseCertChain(data []byte) (cert *x509.Certificate, certChain []*x509.Certificate, httpErr model.HttpError) {
	certs := []*x509.Certificate{}
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != certificatePemType {
			continue
		}
		parsedCert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return cert, certChain, model.HttpError{Status: http.StatusBadRequest, Message: "Was not able to parse a certificate from the chain.", RootError: err}
		}
		certs = append(certs, parsedCert)
	}

	if len(certs) == 0 {
		return cert, certChain, model.HttpError{Status: http.StatusBadRequest, Message: "No certificate found."}
	}
	return certs[len(certs)-1], certs[:len(certs)-1], httpErr
}

// WriteCertChain persists the chain plus leaf, refusing to overwrite.
func WriteCertChain(storage Storage, path string, certs []*x509.Certificate) (httpErr model.HttpError) {
	if storage.Exists(path) {
		return model.HttpError{Status: http.StatusConflict, Message: fmt.Sprintf("Can not save cert because the certificate already exists at %s.", path)}
	}
	logger.Debugf("Saving cert to %s.", path)
	return storage.Write(path, EncodeCertChain(certs))
}

// ReadCertChain loads leaf and chain from the persisted chain format.
func ReadCertChain(storage Storage, path string) (cert *x509.Certificate, certChain []*x509.Certificate, httpErr model.HttpError) {
	data, httpErr := storage.Read(path)
	if httpErr != (model.HttpError{}) {
		return cert, certChain, httpErr
	}
	logger.Debugf("Loading cert from %s.", path)
	return ParseCertChain(data)
}
