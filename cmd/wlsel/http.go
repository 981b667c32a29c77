package main

import (
	"net/http"
	"time"

	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

// newHTTPGateway returns the HTTP server for the gateway mux. It accepts
// HTTP/1.1 and prior-knowledge HTTP/2; TLS is terminated before cmux.
func newHTTPGateway(mux *gwruntime.ServeMux) *http.Server {
	var protocols http.Protocols
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	return &http.Server{
		Handler:           mux,
		Protocols:         &protocols,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
