package natsx

import (
	"github.com/nats-io/nats.go"
)

// ClientName is the connection name reported to the NATS server.
const ClientName = "toolstream"

// NewClient connects to the NATS server at url. When no options are given the
// connection is named after the process and compression is enabled. An empty url
// connects to nats.DefaultURL.
func NewClient(url string, opts ...nats.Option) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if len(opts) == 0 {
		opts = append(opts, nats.Name(ClientName), nats.Compression(true))
	}
	return nats.Connect(url, opts...)
}
