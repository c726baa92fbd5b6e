package http

import (
	"fmt"
	"io"
	"net/http"

	"github.com/podnet/podnet/model"
	"github.com/podnet/podnet/registry"
	"github.com/podnet/podnet/secrets"
	"github.com/podnet/podnet/token"
)

// RemoteSecretFetcher resolves the issuer of a not-yet-verified token to
// its signing certificate: first from the local cert registry, otherwise by
// downloading the cert from the directory (trust on first use) and
// registering what was fetched.
//
// It only ever consumes the claimed issuer of the token, nothing else - the
// token is unverified at this point.
type RemoteSecretFetcher struct {
	directoryUrl string
	network      string
	certRepo     registry.CertRepository
}

func NewRemoteSecretFetcher(directoryUrl string, network string, certRepo registry.CertRepository) *RemoteSecretFetcher {
	return &RemoteSecretFetcher{directoryUrl: directoryUrl, network: network, certRepo: certRepo}
}

func (f *RemoteSecretFetcher) ResolveSigner(unverified *token.JWT) (signer *secrets.Secret, httpErr model.HttpError) {
	commonName := fmt.Sprintf("%s.%ss.%s", unverified.IssuerId, unverified.IssuerType, f.network)

	if f.certRepo != nil {
		issuedCert, httpErr := f.certRepo.GetCert(commonName)
		if httpErr == (model.HttpError{}) {
			logger.Debugf("Resolved signer %s from the local registry.", commonName)
			return secrets.FromCertPem([]byte(issuedCert.CertPem), f.network)
		}
	}

	if f.directoryUrl == "" {
		return signer, model.HttpError{Status: http.StatusBadGateway, Message: "No directory configured to fetch the signer cert from."}
	}

	certUrl := fmt.Sprintf("%s/api/v1/cert/%s/%s", f.directoryUrl, unverified.IssuerType, unverified.IssuerId)
	request, err := http.NewRequest("GET", certUrl, nil)
	if err != nil {
		return signer, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to create the cert request.", RootError: err}
	}

	response, err := globalHttpClient.Do(request)
	if err != nil || response == nil {
		logger.Warnf("Was not able to fetch the signer cert from %s.", certUrl)
		return signer, model.HttpError{Status: http.StatusBadGateway, Message: "Was not able to fetch the signer cert.", RootError: err}
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		logger.Warnf("Signer cert was not returned. Status: %s.", response.Status)
		return signer, model.HttpError{Status: http.StatusBadGateway, Message: fmt.Sprintf("Signer cert was not returned. Status: %s.", response.Status)}
	}

	pemData, err := io.ReadAll(response.Body)
	if err != nil {
		return signer, model.HttpError{Status: http.StatusBadGateway, Message: "Was not able to read the signer cert.", RootError: err}
	}

	signer, httpErr = secrets.FromCertPem(pemData, f.network)
	if httpErr != (model.HttpError{}) {
		return signer, httpErr
	}

	if f.certRepo != nil {
		registerErr := f.certRepo.RegisterCert(registry.IssuedCertFor(signer.Cert(), signer.CertAsPem()))
		if registerErr != (model.HttpError{}) {
			logger.Debugf("Was not able to register the fetched cert: %s.", registerErr.Message)
		}
	}
	return signer, model.HttpError{}
}
