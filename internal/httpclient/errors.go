package httpclient

import (
	"context"
	"crypto/x509"
	"errors"
	"net"

	"github.com/jafechang/atlas/internal/domain"
)

// classifyTransportError maps a transport-level error from http.Client.Do
// into one of the domain sentinels named by spec §4.2's failure semantics.
// Non-retryable (fatal) errors — certificate verification failure and DNS
// NXDOMAIN — are reported via the returned retryable flag.
func classifyTransportError(err error) (mapped error, retryable bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrTimeout, true
	}
	if errors.Is(err, context.Canceled) {
		return domain.ErrCancelled, false
	}

	var certErr x509.CertificateInvalidError
	var unknownAuthErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuthErr) || errors.As(err, &hostnameErr) {
		return domain.ErrTLS, false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return domain.ErrDNS, false
		}
		return domain.ErrDNS, true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return domain.ErrConnect, true
	}

	return domain.ErrConnect, true
}
