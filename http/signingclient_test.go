package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/podnet/podnet/logging"
	"github.com/podnet/podnet/model"
	"github.com/podnet/podnet/secrets"
)

const signingAddress = "https://ca.podnet.net/api/v1/csr"

func signedCertBody(t *testing.T) string {
	root, httpErr := secrets.CreateSelfSigned("network-"+testNetwork, testNetwork, 365, testKeySize, true)
	if httpErr != (model.HttpError{}) {
		t.Fatalf("Root could not be created: %v.", httpErr)
	}
	memberSecret := secrets.New(testNetwork)
	csr, httpErr := memberSecret.CreateCSR("member.members."+testNetwork, testKeySize, false)
	if httpErr != (model.HttpError{}) {
		t.Fatalf("CSR could not be created: %v.", httpErr)
	}
	certChain, httpErr := root.SignCSR(csr, 365)
	if httpErr != (model.HttpError{}) {
		t.Fatalf("CSR could not be signed: %v.", httpErr)
	}
	memberSecret.AddSignedCert(certChain)

	body, err := json.Marshal(SignedCertResponse{SignedCert: string(memberSecret.CertAsPem()), CertChain: string(root.CertAsPem())})
	if err != nil {
		t.Fatalf("Response body could not be built: %v.", err)
	}
	return string(body)
}

func TestSubmitCsr(t *testing.T) {
	logging.Log().SetLevel(log.DebugLevel)

	requestSecret := secrets.New(testNetwork)
	csr, httpErr := requestSecret.CreateCSR("account.accounts."+testNetwork, testKeySize, false)
	if httpErr != (model.HttpError{}) {
		t.Fatalf("CSR could not be created: %v.", httpErr)
	}

	type test struct {
		testName       string
		mockDoResponse map[string]*http.Response
		mockError      map[string]error
		expectedStatus int
	}

	tests := []test{
		{"Accept a signed cert with its chain.", map[string]*http.Response{signingAddress: {StatusCode: 201, Body: io.NopCloser(strings.NewReader(signedCertBody(t)))}}, map[string]error{}, 0},
		{"Fail when the signing service is unresponsive.", map[string]*http.Response{}, map[string]error{signingAddress: errors.New("request_timeout")}, http.StatusBadGateway},
		{"Fail when the CSR is rejected.", map[string]*http.Response{signingAddress: {StatusCode: 400, Status: "400 Bad Request", Body: io.NopCloser(strings.NewReader(""))}}, map[string]error{}, http.StatusBadGateway},
		{"Fail on anything but a created response.", map[string]*http.Response{signingAddress: {StatusCode: 200, Status: "200 OK", Body: io.NopCloser(strings.NewReader(signedCertBody(t)))}}, map[string]error{}, http.StatusBadGateway},
		{"Fail when the response body is not parsable.", map[string]*http.Response{signingAddress: {StatusCode: 201, Body: io.NopCloser(strings.NewReader("something_unexpected"))}}, map[string]error{}, http.StatusBadGateway},
		{"Fail when the response holds no cert.", map[string]*http.Response{signingAddress: {StatusCode: 201, Body: io.NopCloser(strings.NewReader("{\"signed_cert\": \"no pem\", \"cert_chain\": \"\"}"))}}, map[string]error{}, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.testName, func(t *testing.T) {
			log.Infof("TestSubmitCsr +++++++++++++++++ Running test: %s", tc.testName)
			globalHttpClient = &mockHttpClient{tc.mockDoResponse, tc.mockError}

			certChain, httpErr := SubmitCsr(signingAddress, csr, testNetwork)
			if httpErr.Status != tc.expectedStatus {
				t.Errorf("%s: Expected status %d, but was %v.", tc.testName, tc.expectedStatus, httpErr)
			}
			if tc.expectedStatus != 0 {
				return
			}
			if certChain.SignedCert == nil || certChain.SignedCert.Subject.CommonName != "member.members."+testNetwork {
				t.Errorf("%s: The signed cert was not returned as expected: %v.", tc.testName, certChain.SignedCert)
			}
			if len(certChain.Chain) != 1 {
				t.Errorf("%s: The chain of the issuing CA should be returned, but was %v.", tc.testName, certChain.Chain)
			}
		})
	}
}
