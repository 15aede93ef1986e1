package entities

import (
	"errors"
	"fmt"
	"net"
)

// RouteError represents an error raised while reading, classifying or mutating the routing table
type RouteError struct {
	Kind        ErrorKind
	Destination net.IP // The destination involved, if any
	Gateway     net.IP // The gateway involved, if any
	Message     string
	Cause       error // Underlying error
}

// ErrorKind represents the category of a routing error
type ErrorKind int

// Error kind constants
const (
	// ErrBadArguments indicates a malformed command line
	ErrBadArguments ErrorKind = iota
	// ErrAddressParse indicates an address that is not a usable IPv4 dotted quad
	ErrAddressParse
	// ErrTableFetch indicates the forwarding table could not be read
	ErrTableFetch
	// ErrInterfaceLookup indicates the OS could not pick an interface or its metric
	ErrInterfaceLookup
	// ErrAmbiguousGateway indicates more than one candidate default route
	ErrAmbiguousGateway
	// ErrDuplicateRoute indicates more than one host route to a bypassed address
	ErrDuplicateRoute
	// ErrNoGatewayFound indicates there is no default route to replace
	ErrNoGatewayFound
	// ErrRouteMutation indicates the OS rejected a create or delete
	ErrRouteMutation
	// ErrUnsafePlan indicates a plan that would leave the host without a default route
	ErrUnsafePlan
)

// String returns a string representation of the error kind
func (k ErrorKind) String() string {
	switch k {
	case ErrBadArguments:
		return "BadArguments"
	case ErrAddressParse:
		return "AddressParseFailure"
	case ErrTableFetch:
		return "TableFetchFailure"
	case ErrInterfaceLookup:
		return "InterfaceLookupFailure"
	case ErrAmbiguousGateway:
		return "AmbiguousGateway"
	case ErrDuplicateRoute:
		return "DuplicateRoute"
	case ErrNoGatewayFound:
		return "NoGatewayFound"
	case ErrRouteMutation:
		return "RouteMutationFailure"
	case ErrUnsafePlan:
		return "UnsafePlan"
	default:
		return "UnknownError"
	}
}

// Error implements the error interface for RouteError
func (e *RouteError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *RouteError) Unwrap() error {
	return e.Cause
}

// NewError creates a RouteError of the given kind
func NewError(kind ErrorKind, cause error, format string, args ...any) *RouteError {
	return &RouteError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// IsKind reports whether err, or anything it wraps, is a RouteError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var re *RouteError
	if !errors.As(err, &re) {
		return false
	}
	return re.Kind == kind
}

// IsMutationError returns true if the error happened after the table may already have changed
func (e *RouteError) IsMutationError() bool {
	return e.Kind == ErrRouteMutation
}
