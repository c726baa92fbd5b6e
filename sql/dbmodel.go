package sql

import "time"

type IssuedCert struct {
	ID          int
	CommonName  string
	Serial      string
	Fingerprint string
	CertPem     string
	NotAfter    time.Time
}
