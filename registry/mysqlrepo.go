package registry

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-rel/mysql"
	"github.com/go-rel/rel"
	"github.com/go-rel/rel/where"
	_ "github.com/go-sql-driver/mysql"

	"github.com/podnet/podnet/model"
	dbModel "github.com/podnet/podnet/sql"
)

type MySqlRepo struct {
	repo rel.Repository
}

func NewMySqlRepo(repo rel.Repository) *MySqlRepo {
	return &MySqlRepo{repo: repo}
}

// NewMySqlRepoFromEnv connects to the database configured through the
// MYSQL_* env vars. Returns nil when no database is configured.
func NewMySqlRepoFromEnv() *MySqlRepo {
	mysqlHost := os.Getenv("MYSQL_HOST")
	if mysqlHost == "" {
		logger.Info("No mysql host configured, mysql repo not available.")
		return nil
	}
	mySqlPort := 3306
	mysqlPortEnv := os.Getenv("MYSQL_PORT")
	if mysqlPortEnv != "" {
		port, err := strconv.Atoi(mysqlPortEnv)
		if err != nil {
			logger.Fatalf("Invalid mysql port configured: %s", mysqlPortEnv)
			return nil
		}
		mySqlPort = port
	}
	mysqlDb := os.Getenv("MYSQL_DATABASE")
	if mysqlDb == "" {
		logger.Info("No mysql db configured, mysql repo not available.")
		return nil
	}

	mysqlUser := os.Getenv("MYSQL_USERNAME")
	mysqlPassword := os.Getenv("MYSQL_PASSWORD")
	if mysqlUser == "" {
		logger.Infof("No user configured for mySql, will try to connect as root.")
		mysqlUser = "root"
	}

	var connectionString string
	if mysqlPassword != "" {
		connectionString = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", mysqlUser, mysqlPassword, mysqlHost, mySqlPort, mysqlDb)
	} else {
		logger.Infof("No password configured for mySql, will try to connect without credentials.")
		connectionString = fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true", mysqlUser, mysqlHost, mySqlPort, mysqlDb)
	}

	adapter, err := mysql.Open(connectionString)
	if err != nil {
		logger.Fatalf("Was not able to connect to db: %s:%d/%s as user %s. Err: %v", mysqlHost, mySqlPort, mysqlDb, mysqlUser, err)
		return nil
	}
	return NewMySqlRepo(rel.New(adapter))
}

func (m *MySqlRepo) RegisterCert(issuedCert model.IssuedCert) (httpErr model.HttpError) {
	err := m.repo.Find(context.TODO(), &dbModel.IssuedCert{}, where.Eq("common_name", issuedCert.CommonName))
	if err == nil {
		return model.HttpError{Status: http.StatusConflict, Message: "Cert already exists."}
	}

	sqlCert := toSqlCert(issuedCert)
	if err := m.repo.Insert(context.TODO(), &sqlCert); err != nil {
		return model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to store the cert.", RootError: err}
	}
	return httpErr
}

func (m *MySqlRepo) GetCert(commonName string) (issuedCert model.IssuedCert, httpErr model.HttpError) {
	sqlCert := dbModel.IssuedCert{}
	err := m.repo.Find(context.TODO(), &sqlCert, where.Eq("common_name", commonName))
	if err != nil {
		return issuedCert, model.HttpError{Status: http.StatusNotFound, Message: "Cert not found.", RootError: err}
	}
	return fromSqlCert(sqlCert), httpErr
}

func (m *MySqlRepo) GetCerts(limit int, offset int) (issuedCerts []model.IssuedCert, httpErr model.HttpError) {
	sqlCerts := []dbModel.IssuedCert{}
	err := m.repo.FindAll(context.TODO(), &sqlCerts, rel.Limit(limit), rel.Offset(offset))
	if err != nil {
		return issuedCerts, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to read the certs.", RootError: err}
	}
	for _, sqlCert := range sqlCerts {
		issuedCerts = append(issuedCerts, fromSqlCert(sqlCert))
	}
	return issuedCerts, httpErr
}

func (m *MySqlRepo) DeleteExpired(now time.Time) (deleted int64, httpErr model.HttpError) {
	deletedCount, err := m.repo.DeleteAny(context.TODO(), rel.From("issued_certs").Where(where.Lt("not_after", now)))
	if err != nil {
		return 0, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to delete expired certs.", RootError: err}
	}
	logger.Debugf("Deleted %d expired certs.", deletedCount)
	return int64(deletedCount), httpErr
}

func toSqlCert(issuedCert model.IssuedCert) dbModel.IssuedCert {
	return dbModel.IssuedCert{
		CommonName:  issuedCert.CommonName,
		Serial:      issuedCert.Serial,
		Fingerprint: issuedCert.Fingerprint,
		CertPem:     issuedCert.CertPem,
		NotAfter:    issuedCert.NotAfter,
	}
}

func fromSqlCert(sqlCert dbModel.IssuedCert) model.IssuedCert {
	return model.IssuedCert{
		CommonName:  sqlCert.CommonName,
		Serial:      sqlCert.Serial,
		Fingerprint: sqlCert.Fingerprint,
		CertPem:     sqlCert.CertPem,
		NotAfter:    sqlCert.NotAfter,
	}
}
