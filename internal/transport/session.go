package transport

import (
	"io"
	"net"
	"net/http"
	"sync"
)

// session is the connection state owned by one Execute call.
type session struct {
	transport *http.Transport
	client    *http.Client
}

func newSession(cfg Config) *session {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.Timeout}).DialContext,
		TLSHandshakeTimeout:   cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
		MaxIdleConns:          1,
		ForceAttemptHTTP2:     true,
	}
	return &session{
		transport: tr,
		client:    &http.Client{Transport: tr},
	}
}

func (s *session) close() {
	s.transport.CloseIdleConnections()
}

// sessionBody closes the session together with the response body.
type sessionBody struct {
	io.ReadCloser
	sess *session
	once sync.Once
}

func (b *sessionBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.sess.close)
	return err
}
