package http

import (
	"bytes"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/podnet/podnet/logging"
	"github.com/podnet/podnet/model"
	"github.com/podnet/podnet/secrets"
)

var logger = logging.Log()

// CsrRequest is the wire format for submitting a CSR to a signing service.
type CsrRequest struct {
	Csr string `json:"csr"`
}

// SignedCertResponse is the wire format a signing service answers with.
type SignedCertResponse struct {
	SignedCert string `json:"signed_cert"`
	CertChain  string `json:"cert_chain"`
}

// SubmitCsr posts a CSR to a remote signing endpoint and returns the
// signed cert with the chain of the issuing CA. Only a 201 response is a
// success, anything else is a hard failure - retries belong to the caller.
func SubmitCsr(signingUrl string, csr *x509.CertificateRequest, network string) (certChain secrets.CertChain, httpErr model.HttpError) {
	payload, err := json.Marshal(CsrRequest{Csr: string(secrets.CsrAsPem(csr))})
	if err != nil {
		return certChain, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to serialize the CSR.", RootError: err}
	}

	request, err := http.NewRequest("POST", signingUrl, bytes.NewReader(payload))
	if err != nil {
		return certChain, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to create the signing request.", RootError: err}
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := globalHttpClient.Do(request)
	if err != nil || response == nil {
		logger.Warnf("Was not able to submit the CSR to %s.", signingUrl)
		return certChain, model.HttpError{Status: http.StatusBadGateway, Message: "Was not able to submit the CSR.", RootError: err}
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusCreated {
		logger.Warnf("CSR was not signed. Status: %s.", response.Status)
		return certChain, model.HttpError{Status: http.StatusBadGateway, Message: fmt.Sprintf("CSR was not signed. Status: %s.", response.Status)}
	}

	signedCertResponse := SignedCertResponse{}
	if err := json.NewDecoder(response.Body).Decode(&signedCertResponse); err != nil {
		return certChain, model.HttpError{Status: http.StatusBadGateway, Message: "Received an invalid body from the signing service.", RootError: err}
	}

	signerSecret, httpErr := secrets.FromCertPem([]byte(signedCertResponse.SignedCert), network)
	if httpErr != (model.HttpError{}) {
		return certChain, httpErr
	}
	certChain.SignedCert = signerSecret.Cert()

	if signedCertResponse.CertChain != "" {
		chainSecret, httpErr := secrets.FromCertPem([]byte(signedCertResponse.CertChain), network)
		if httpErr != (model.HttpError{}) {
			return certChain, httpErr
		}
		certChain.Chain = append(chainSecret.CertChain(), chainSecret.Cert())
	}
	return certChain, httpErr
}
