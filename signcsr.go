package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	podhttp "github.com/podnet/podnet/http"
	"github.com/podnet/podnet/keystore"
	"github.com/podnet/podnet/model"
	"github.com/podnet/podnet/registry"
	"github.com/podnet/podnet/secrets"
)

/**
* Handles CSR signing requests. The CSR is reviewed against the issuing
* policy of the network before anything is signed, and every issued cert is
* registered so its signer can be resolved later.
 */
func signCsr(c *gin.Context) {
	csrRequest := podhttp.CsrRequest{}
	if err := c.ShouldBindJSON(&csrRequest); err != nil {
		logger.Warnf("Was not able to bind the csr request. Err: %v", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, model.HttpError{Status: http.StatusBadRequest, Message: "Was not able to bind the request body."})
		return
	}

	csr, httpErr := secrets.ParseCSR([]byte(csrRequest.Csr))
	if httpErr != (model.HttpError{}) {
		logger.Warnf("CSR could not be parsed: %s.", httpErr.Message)
		c.AbortWithStatusJSON(httpErr.Status, httpErr)
		return
	}

	commonName, httpErr := caSecret.ReviewCSR(csr)
	if httpErr != (model.HttpError{}) {
		logger.Warnf("CSR was rejected by the review: %s.", httpErr.Message)
		c.AbortWithStatusJSON(httpErr.Status, httpErr)
		return
	}
	logger.Debugf("CSR for %s passed review.", commonName)

	certChain, httpErr := caSecret.SignCSR(csr, certExpireDays)
	if httpErr != (model.HttpError{}) {
		logger.Warnf("CSR could not be signed: %s.", httpErr.Message)
		c.AbortWithStatusJSON(httpErr.Status, httpErr)
		return
	}

	signedSecret := secrets.New(envConfig.NetworkName())
	if httpErr := signedSecret.AddSignedCert(certChain); httpErr != (model.HttpError{}) {
		c.AbortWithStatusJSON(httpErr.Status, httpErr)
		return
	}

	if httpErr := certRepo.RegisterCert(registry.IssuedCertFor(certChain.SignedCert, signedSecret.CertAsPem())); httpErr != (model.HttpError{}) {
		logger.Warnf("Was not able to register the issued cert: %s.", httpErr.Message)
		c.AbortWithStatusJSON(httpErr.Status, httpErr)
		return
	}

	c.JSON(http.StatusCreated, podhttp.SignedCertResponse{
		SignedCert: string(signedSecret.CertAsPem()),
		CertChain:  string(keystore.EncodeCertChain(certChain.Chain)),
	})
}
