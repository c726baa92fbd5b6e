package config

import (
	"os"
	"strconv"

	"github.com/podnet/podnet/logging"
)

var logger = logging.Log()

// Config provides the process-wide settings every component receives
// explicitly, instead of reading global state.
type Config interface {
	NetworkName() string
	ServiceId() int
	StorageRoot() string
	DirectoryUrl() string
}

type EnvConfig struct{}

func (EnvConfig) NetworkName() string {
	networkName := os.Getenv("NETWORK_NAME")
	if networkName == "" {
		logger.Warn("No network name configured, secrets and tokens can not be validated against a network domain.")
	}
	return networkName
}

func (EnvConfig) ServiceId() int {
	serviceIdEnv := os.Getenv("SERVICE_ID")
	if serviceIdEnv == "" {
		return 0
	}
	serviceId, err := strconv.Atoi(serviceIdEnv)
	if err != nil {
		logger.Warnf("Invalid service id configured: %s.", serviceIdEnv)
		return 0
	}
	return serviceId
}

func (EnvConfig) StorageRoot() string {
	storageRoot := os.Getenv("STORAGE_ROOT")
	if storageRoot == "" {
		logger.Warn("No storage root configured, will use the current working directory.")
		return "."
	}
	return storageRoot
}

func (EnvConfig) DirectoryUrl() string {
	directoryUrl := os.Getenv("DIRECTORY_URL")
	if directoryUrl == "" {
		logger.Warn("No directory url configured, remote signer resolution is not available.")
	}
	return directoryUrl
}
