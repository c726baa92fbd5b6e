package registry

import (
	"net/http"
	"sync"
	"time"

	"github.com/podnet/podnet/model"
)

/**
* Quick in-memory implementation of the cert repository. Should only be used for dev and testing, does not have any persistence.
 */
type InMemoryRepo struct{}

var certMap = map[string]model.IssuedCert{}
var certMapLock sync.RWMutex

func (InMemoryRepo) RegisterCert(issuedCert model.IssuedCert) (httpErr model.HttpError) {
	certMapLock.Lock()
	defer certMapLock.Unlock()

	if _, exists := certMap[issuedCert.CommonName]; exists {
		logger.Warnf("Cert for %s already exists.", issuedCert.CommonName)
		return model.HttpError{Status: http.StatusConflict, Message: "Cert already exists."}
	}
	certMap[issuedCert.CommonName] = issuedCert
	return httpErr
}

func (InMemoryRepo) GetCert(commonName string) (issuedCert model.IssuedCert, httpErr model.HttpError) {
	certMapLock.RLock()
	defer certMapLock.RUnlock()

	issuedCert, exists := certMap[commonName]
	if !exists {
		logger.Warnf("No cert for %s exists.", commonName)
		return issuedCert, model.HttpError{Status: http.StatusNotFound, Message: "Cert not found."}
	}
	return issuedCert, httpErr
}

func (InMemoryRepo) GetCerts(limit int, offset int) (issuedCerts []model.IssuedCert, httpErr model.HttpError) {
	certMapLock.RLock()
	defer certMapLock.RUnlock()

	counter := 0
	for _, issuedCert := range certMap {
		if counter >= offset {
			issuedCerts = append(issuedCerts, issuedCert)
		}
		counter++
		if len(issuedCerts) == limit {
			return issuedCerts, httpErr
		}
	}
	return issuedCerts, httpErr
}

func (InMemoryRepo) DeleteExpired(now time.Time) (deleted int64, httpErr model.HttpError) {
	certMapLock.Lock()
	defer certMapLock.Unlock()

	for commonName, issuedCert := range certMap {
		if issuedCert.NotAfter.Before(now) {
			delete(certMap, commonName)
			deleted++
		}
	}
	return deleted, httpErr
}
