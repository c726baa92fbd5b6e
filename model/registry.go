package model

import "time"

// IssuedCert is the registry record kept for every certificate signed by one
// of the network CAs, so that signers of tokens can be resolved later on.
type IssuedCert struct {
	CommonName  string    `json:"commonName"`
	Serial      string    `json:"serial"`
	Fingerprint string    `json:"fingerprint"`
	CertPem     string    `json:"certPem"`
	NotAfter    time.Time `json:"notAfter"`
}
