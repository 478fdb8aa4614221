package delivery

import "fmt"

// ErrorKind is the stable failure classification returned by every
// transaction function. Fabric flattens chaincode errors to strings on
// the way to the client, so the kind is encoded as a "KIND: message"
// prefix that the gateway parses back into its error taxonomy.
type ErrorKind string

const (
	KindNotAuthorized   ErrorKind = "NOT_AUTHORIZED"
	KindNotFound        ErrorKind = "NOT_FOUND"
	KindInvalidState    ErrorKind = "INVALID_STATE"
	KindInvalidArgument ErrorKind = "INVALID_ARGUMENT"
	KindConflict        ErrorKind = "CONFLICT"
)

// Errorf builds a kind-prefixed contract error.
func Errorf(kind ErrorKind, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %s", kind, fmt.Sprintf(format, args...))
}
