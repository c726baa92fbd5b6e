package http

import (
	"net/http"
)

/**
* Global http client
 */
var globalHttpClient httpClient = &http.Client{}

func HttpClient() httpClient {
	return globalHttpClient
}

// Interface to the http-client
type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}
