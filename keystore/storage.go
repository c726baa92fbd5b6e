package keystore

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/podnet/podnet/logging"
	"github.com/podnet/podnet/model"
)

var logger = logging.Log()

// Storage abstracts the backend that key material and certificates are
// persisted to. Cloud-bucket or in-memory backends can be plugged in for
// the pod, the local filesystem is the default.
type Storage interface {
	Read(path string) ([]byte, model.HttpError)
	Write(path string, data []byte) model.HttpError
	Exists(path string) bool
	Delete(path string) model.HttpError
}

/**
* Filesystem-backed storage, rooted at a directory.
 */
type LocalFileStorage struct {
	Root string
}

func (l LocalFileStorage) fullPath(path string) string {
	return filepath.Join(l.Root, path)
}

func (l LocalFileStorage) Read(path string) (data []byte, httpErr model.HttpError) {
	data, err := os.ReadFile(l.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return data, model.HttpError{Status: http.StatusNotFound, Message: "File " + path + " does not exist.", RootError: err}
		}
		return data, model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to read " + path + ".", RootError: err}
	}
	return data, httpErr
}

func (l LocalFileStorage) Write(path string, data []byte) (httpErr model.HttpError) {
	fullPath := l.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0700); err != nil {
		return model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to create the directory for " + path + ".", RootError: err}
	}
	if err := os.WriteFile(fullPath, data, 0600); err != nil {
		return model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to write " + path + ".", RootError: err}
	}
	logger.Debugf("Wrote %d bytes to %s.", len(data), path)
	return httpErr
}

func (l LocalFileStorage) Exists(path string) bool {
	_, err := os.Stat(l.fullPath(path))
	return err == nil
}

func (l LocalFileStorage) Delete(path string) (httpErr model.HttpError) {
	if err := os.Remove(l.fullPath(path)); err != nil {
		if os.IsNotExist(err) {
			return model.HttpError{Status: http.StatusNotFound, Message: "File " + path + " does not exist.", RootError: err}
		}
		return model.HttpError{Status: http.StatusInternalServerError, Message: "Was not able to delete " + path + ".", RootError: err}
	}
	return httpErr
}
