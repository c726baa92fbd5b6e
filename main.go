package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/penglongli/gin-metrics/ginmetrics"
	"github.com/procyon-projects/chrono"
	"github.com/sirupsen/logrus"

	"github.com/podnet/podnet/config"
	podhttp "github.com/podnet/podnet/http"
	"github.com/podnet/podnet/keystore"
	"github.com/podnet/podnet/logging"
	"github.com/podnet/podnet/model"
	"github.com/podnet/podnet/registry"
	"github.com/podnet/podnet/schema"
	"github.com/podnet/podnet/secrets"
	"github.com/podnet/podnet/token"
)

/**
* Global logger
 */
var logger = logging.Log()

/**
* Port to run the server at. Default is 8080.
 */
var serverPort int = 8080

/**
* How many days certs signed by this server are valid.
 */
var certExpireDays int = 365

var envConfig config.Config = config.EnvConfig{}

/**
* Repository used to store the certs issued by this server
 */
var certRepo registry.CertRepository

/**
* The CA secret used to review and sign CSRs
 */
var caSecret *secrets.Secret

/**
* Resolver for the signing certs of tokens issued by remote identities
 */
var signerResolver token.SignerResolver

/**
* The data schema that access requests are authorized against
 */
var dataSchema *schema.Schema

func init() {
	mysqlRepo := registry.NewMySqlRepoFromEnv()
	if mysqlRepo != nil {
		certRepo = mysqlRepo
	} else {
		logger.Warn("Cert registry is kept in-memory. No persistence will be applied, do NEVER use this for anything but development or testing!")
		certRepo = registry.InMemoryRepo{}
	}
}

func init() {
	serverPortEnvVar := os.Getenv("SERVER_PORT")
	if serverPortEnvVar != "" {
		port, err := strconv.Atoi(serverPortEnvVar)
		if err != nil {
			logger.Fatalf("Invalid server port configured: %s.", serverPortEnvVar)
		}
		serverPort = port
	}

	certExpireDaysEnvVar := os.Getenv("CERT_EXPIRE_DAYS")
	if certExpireDaysEnvVar != "" {
		expireDays, err := strconv.Atoi(certExpireDaysEnvVar)
		if err != nil {
			logger.Fatalf("Invalid cert expiration configured: %s.", certExpireDaysEnvVar)
		}
		certExpireDays = expireDays
	}
}

/**
* Startup method to run the gin-server.
 */
func main() {
	loadCaSecret()
	loadSchema()

	signerResolver = podhttp.NewRemoteSecretFetcher(envConfig.DirectoryUrl(), envConfig.NetworkName(), certRepo)

	scheduleExpirySweep()

	router := gin.New()
	router.Use(logging.GinHandlerFunc(), gin.Recovery())

	metricsMonitor := ginmetrics.GetMonitor()
	metricsMonitor.SetMetricPath("/metrics")
	metricsMonitor.Use(router)

	// csr signing
	router.POST("/api/v1/csr", signCsr)

	// data access authorization
	router.POST("/api/v1/authz", authorize)

	// health
	router.GET("/health", podhttp.HealthReq)

	logger.Infof("Starting router at %v.", serverPort)
	router.Run(fmt.Sprintf("0.0.0.0:%v", serverPort))
}

/**
* Loads the CA secret from storage, bootstrapping a self-signed network
* root when nothing is persisted yet.
 */
func loadCaSecret() {
	storage := keystore.LocalFileStorage{Root: envConfig.StorageRoot()}
	networkName := envConfig.NetworkName()

	certFile := getEnvOrDefault("CA_CERT_FILE", "network-ca-cert.pem")
	keyFile := getEnvOrDefault("CA_KEY_FILE", "network-ca-key.pem")
	keyPassword := os.Getenv("CA_KEY_PASSWORD")
	if keyPassword == "" {
		logger.Fatal("No CA key password configured.")
		return
	}

	if storage.Exists(certFile) {
		loadedSecret, httpErr := secrets.Load(storage, certFile, keyFile, networkName, keyPassword, true)
		if httpErr != (model.HttpError{}) {
			logger.Fatalf("Was not able to load the CA secret: %s.", httpErr.Message)
			return
		}
		caSecret = loadedSecret
		logger.Infof("Loaded CA secret %s.", caSecret.CommonName())
		return
	}

	logger.Warnf("No CA secret found, creating a self-signed root for network %s.", networkName)
	createdSecret, httpErr := secrets.CreateSelfSigned("network-"+networkName, networkName, certExpireDays, keystore.DefaultKeySize, true)
	if httpErr != (model.HttpError{}) {
		logger.Fatalf("Was not able to create the CA secret: %s.", httpErr.Message)
		return
	}
	if httpErr := createdSecret.Save(storage, certFile, keyFile, keyPassword); httpErr != (model.HttpError{}) {
		logger.Fatalf("Was not able to save the CA secret: %s.", httpErr.Message)
		return
	}
	caSecret = createdSecret
}

/**
* Loads the data schema that authorization requests are evaluated against.
 */
func loadSchema() {
	schemaFile := os.Getenv("SCHEMA_FILE")
	if schemaFile == "" {
		logger.Warn("No schema configured, the authz api will reject all requests.")
		return
	}

	schemaData, err := os.ReadFile(schemaFile)
	if err != nil {
		logger.Fatalf("Was not able to read the schema file %s. Err: %v", schemaFile, err)
		return
	}

	memberId := uuid.Nil
	memberIdEnvVar := os.Getenv("MEMBER_ID")
	if memberIdEnvVar != "" {
		parsedMemberId, err := uuid.Parse(memberIdEnvVar)
		if err != nil {
			logger.Fatalf("Invalid member id configured: %s.", memberIdEnvVar)
			return
		}
		memberId = parsedMemberId
	}

	loadedSchema, httpErr := schema.Load(schemaData, memberId, func(className string) schema.Publisher {
		return schema.NoopPublisher{}
	})
	if httpErr != (model.HttpError{}) {
		logger.Fatalf("Was not able to load the schema: %s.", httpErr.Message)
		return
	}
	dataSchema = loadedSchema
}

/**
* Schedules the periodic sweep of expired certs from the registry.
 */
func scheduleExpirySweep() {
	taskScheduler := chrono.NewDefaultTaskScheduler()
	_, err := taskScheduler.ScheduleWithFixedDelay(func(ctx context.Context) {
		deleted, httpErr := certRepo.DeleteExpired(time.Now())
		if httpErr != (model.HttpError{}) {
			logger.Warnf("Expiry sweep failed: %s.", httpErr.Message)
			return
		}
		if deleted > 0 {
			logger.Infof("Expiry sweep removed %d certs.", deleted)
		}
	}, time.Hour)
	if err != nil {
		logger.Warnf("Was not able to schedule the expiry sweep. Err: %v", err)
	}
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func init() {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "DEBUG" {
		logger.SetLevel(logrus.DebugLevel)
	}
}
