// Package proxy is the harness's HTTP surface: the runner control endpoints
// under /runner/ and a catch-all forwarder that relays every other request
// to the utility server, advancing the test procedure on the way through.
//
// Request bodies are relayed opaquely. The procedure engine only ever sees
// the method and path; IEEE 2030.5 XML payloads are the utility server's
// business.
package proxy
