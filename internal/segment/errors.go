package segment

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

type ErrorKind string

const (
	ConnectionFailed  ErrorKind = "connection_failed"
	TimeoutExceeded   ErrorKind = "timeout_exceeded"
	TLSFailure        ErrorKind = "tls_failure"
	DNSFailure        ErrorKind = "dns_failure"
	UnexpectedStatus  ErrorKind = "unexpected_status"
	ByteCountMismatch ErrorKind = "byte_count_mismatch"
	IOFailure         ErrorKind = "io_failure"
)

// Error is the terminal error of one segment worker. Workers never retry;
// the manager decides what a failed segment means for the job.
type Error struct {
	Kind   ErrorKind
	Index  int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("segment %d %s: %v", e.Index, e.Kind, e.Err)
	}
	return fmt.Sprintf("segment %d %s: %s", e.Index, e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ClassifyTransportError maps a transport-level failure to an error kind.
// DNS is checked before the generic timeout test because a DNS timeout still
// reports as a name-resolution problem.
func ClassifyTransportError(err error) ErrorKind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return DNSFailure
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimeoutExceeded
	}
	msg := err.Error()
	if strings.Contains(msg, "tls:") || strings.Contains(msg, "certificate") || strings.Contains(msg, "x509:") {
		return TLSFailure
	}
	if strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout") {
		return TimeoutExceeded
	}
	return ConnectionFailed
}
