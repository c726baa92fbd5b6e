package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/podnet/podnet/logging"
	"github.com/podnet/podnet/model"
	"github.com/podnet/podnet/registry"
	"github.com/podnet/podnet/secrets"
	"github.com/podnet/podnet/token"
)

const testNetwork = "podnet.net"
const testKeySize = 2048

var testIssuerId = uuid.MustParse("7a04d6f9-817e-4154-b5ea-5798f1da6fe8")

type mockHttpClient struct {
	mockDoResponse map[string]*http.Response
	mockError      map[string]error
}

func (mhc *mockHttpClient) Do(req *http.Request) (*http.Response, error) {
	address := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
	return mhc.mockDoResponse[address], mhc.mockError[address]
}

type mockCertRepo struct {
	certs      map[string]model.IssuedCert
	registered []model.IssuedCert
}

func (mcr *mockCertRepo) RegisterCert(issuedCert model.IssuedCert) model.HttpError {
	mcr.registered = append(mcr.registered, issuedCert)
	return model.HttpError{}
}

func (mcr *mockCertRepo) GetCert(commonName string) (model.IssuedCert, model.HttpError) {
	issuedCert, ok := mcr.certs[commonName]
	if !ok {
		return issuedCert, model.HttpError{Status: http.StatusNotFound, Message: "Cert not found."}
	}
	return issuedCert, model.HttpError{}
}

func (mcr *mockCertRepo) GetCerts(limit int, offset int) ([]model.IssuedCert, model.HttpError) {
	// not needed in the test
	return []model.IssuedCert{}, model.HttpError{}
}

func (mcr *mockCertRepo) DeleteExpired(now time.Time) (int64, model.HttpError) {
	// not needed in the test
	return 0, model.HttpError{}
}

func createSignerPem(t *testing.T) (commonName string, certPem string) {
	commonName = fmt.Sprintf("%s.members.%s", testIssuerId, testNetwork)
	signer, httpErr := secrets.CreateSelfSigned(commonName, testNetwork, 365, testKeySize, false)
	if httpErr != (model.HttpError{}) {
		t.Fatalf("Signer could not be created: %v.", httpErr)
	}
	return commonName, string(signer.CertAsPem())
}

func unverifiedToken() *token.JWT {
	return &token.JWT{IssuerId: testIssuerId, IssuerType: model.IdTypeMember}
}

func TestResolveSigner(t *testing.T) {
	logging.Log().SetLevel(log.DebugLevel)

	commonName, certPem := createSignerPem(t)
	certAddress := "https://dir.podnet.net/api/v1/cert/member/" + testIssuerId.String()

	type test struct {
		testName           string
		directoryUrl       string
		registryCerts      map[string]model.IssuedCert
		mockDoResponse     map[string]*http.Response
		mockError          map[string]error
		expectedStatus     int
		expectedRegistered int
	}

	tests := []test{
		{"Resolve the signer from the local registry.", "https://dir.podnet.net", map[string]model.IssuedCert{commonName: {CommonName: commonName, CertPem: certPem}}, map[string]*http.Response{}, map[string]error{}, 0, 0},
		{"Fetch and register the signer cert from the directory.", "https://dir.podnet.net", map[string]model.IssuedCert{}, map[string]*http.Response{certAddress: {StatusCode: 200, Body: io.NopCloser(strings.NewReader(certPem))}}, map[string]error{}, 0, 1},
		{"Fail when no directory is configured.", "", map[string]model.IssuedCert{}, map[string]*http.Response{}, map[string]error{}, http.StatusBadGateway, 0},
		{"Fail when the directory is unresponsive.", "https://dir.podnet.net", map[string]model.IssuedCert{}, map[string]*http.Response{}, map[string]error{certAddress: errors.New("request_timeout")}, http.StatusBadGateway, 0},
		{"Fail when the directory does not return the cert.", "https://dir.podnet.net", map[string]model.IssuedCert{}, map[string]*http.Response{certAddress: {StatusCode: 404, Status: "404 Not Found", Body: io.NopCloser(strings.NewReader(""))}}, map[string]error{}, http.StatusBadGateway, 0},
		{"Fail when the directory returns garbage.", "https://dir.podnet.net", map[string]model.IssuedCert{}, map[string]*http.Response{certAddress: {StatusCode: 200, Body: io.NopCloser(strings.NewReader("no pem here"))}}, map[string]error{}, http.StatusBadRequest, 0},
	}

	for _, tc := range tests {
		t.Run(tc.testName, func(t *testing.T) {
			log.Infof("TestResolveSigner +++++++++++++++++ Running test: %s", tc.testName)
			globalHttpClient = &mockHttpClient{tc.mockDoResponse, tc.mockError}
			certRepo := &mockCertRepo{certs: tc.registryCerts}
			fetcher := NewRemoteSecretFetcher(tc.directoryUrl, testNetwork, certRepo)

			signer, httpErr := fetcher.ResolveSigner(unverifiedToken())
			if httpErr.Status != tc.expectedStatus {
				t.Errorf("%s: Expected status %d, but was %v.", tc.testName, tc.expectedStatus, httpErr)
			}
			if len(certRepo.registered) != tc.expectedRegistered {
				t.Errorf("%s: Expected %d registered certs, but was %d.", tc.testName, tc.expectedRegistered, len(certRepo.registered))
			}
			if tc.expectedStatus != 0 {
				return
			}
			if signer.CommonName() != commonName {
				t.Errorf("%s: Expected signer %s, but was %s.", tc.testName, commonName, signer.CommonName())
			}
			if _, httpErr := signer.PublicKey(); httpErr != (model.HttpError{}) {
				t.Errorf("%s: The resolved signer should hold a public key: %v.", tc.testName, httpErr)
			}
		})
	}
}

func TestResolveSignerFingerprint(t *testing.T) {
	logging.Log().SetLevel(log.DebugLevel)

	commonName, certPem := createSignerPem(t)
	certAddress := "https://dir.podnet.net/api/v1/cert/member/" + testIssuerId.String()

	globalHttpClient = &mockHttpClient{map[string]*http.Response{certAddress: {StatusCode: 200, Body: io.NopCloser(strings.NewReader(certPem))}}, map[string]error{}}
	certRepo := &mockCertRepo{certs: map[string]model.IssuedCert{}}
	fetcher := NewRemoteSecretFetcher("https://dir.podnet.net", testNetwork, certRepo)

	signer, httpErr := fetcher.ResolveSigner(unverifiedToken())
	if httpErr != (model.HttpError{}) {
		t.Fatalf("Signer could not be resolved: %v.", httpErr)
	}

	expectedRecord := registry.IssuedCertFor(signer.Cert(), signer.CertAsPem())
	if len(certRepo.registered) != 1 || certRepo.registered[0].Fingerprint != expectedRecord.Fingerprint {
		t.Errorf("The fetched cert should be registered with its fingerprint, but was %v.", certRepo.registered)
	}
	if certRepo.registered[0].CommonName != commonName {
		t.Errorf("Expected registered commonname %s, but was %s.", commonName, certRepo.registered[0].CommonName)
	}
}
