package client

import "strconv"

// Destination is the (host, port, tls) triple that selects a pool. It is an
// immutable, comparable key so it can be used directly as a map key in the
// registry.
type Destination struct {
	Host string
	Port int
	TLS  bool
}

// String renders the destination the way it appears in logs and in the
// human-readable stats dump ("host:port" or "host:port (tls)").
func (d Destination) String() string {
	s := d.Host + ":" + strconv.Itoa(d.Port)
	if d.TLS {
		s += " (tls)"
	}
	return s
}

// defaultPort returns the conventional port for the scheme (443 with TLS, 80
// without); hostHeader uses it to decide whether the port can be omitted.
func defaultPort(tls bool) int {
	if tls {
		return 443
	}
	return 80
}

// hostHeader renders the value to send as the request's Host header: the
// port is omitted when it's the scheme's conventional one.
func (d Destination) hostHeader() string {
	if d.Port == defaultPort(d.TLS) {
		return d.Host
	}
	return d.Host + ":" + strconv.Itoa(d.Port)
}
