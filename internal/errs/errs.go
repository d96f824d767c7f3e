// Package errs defines the runtime's typed error taxonomy. Each error
// carries a Description suitable for host-level display, using small
// named error structs rather than bare fmt.Errorf strings for anything
// a caller might need to discriminate on.
package errs

import "fmt"

// RecordNotFound is raised when a query targets a record absent from
// the store (or, for a remote adapter, absent on the server).
type RecordNotFound struct {
	Type string
	ID   string
}

func (e *RecordNotFound) Error() string { return e.Description() }

// Description renders a host-displayable message.
func (e *RecordNotFound) Description() string {
	return fmt.Sprintf("record not found: %s:%s", e.Type, e.ID)
}

// RelatedRecordNotFound is raised when a relationship link points to a
// record that no longer exists.
type RelatedRecordNotFound struct {
	Type string
	ID   string
}

func (e *RelatedRecordNotFound) Error() string { return e.Description() }

func (e *RelatedRecordNotFound) Description() string {
	return fmt.Sprintf("related record not found: %s:%s", e.Type, e.ID)
}

// RecordAlreadyExists is raised when addRecord targets an id already
// present in the store.
type RecordAlreadyExists struct {
	Type string
	ID   string
}

func (e *RecordAlreadyExists) Error() string { return e.Description() }

func (e *RecordAlreadyExists) Description() string {
	return fmt.Sprintf("record already exists: %s:%s", e.Type, e.ID)
}

// SchemaError is raised when the schema doesn't define a referenced
// type, attribute, or relationship.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string { return e.Description() }

func (e *SchemaError) Description() string { return "schema error: " + e.Reason }

// ModelNotDefined is a specialization of SchemaError for an undeclared
// model type.
type ModelNotDefined struct {
	Type string
}

func (e *ModelNotDefined) Error() string { return e.Description() }

func (e *ModelNotDefined) Description() string {
	return fmt.Sprintf("model not defined: %s", e.Type)
}

// OperationNotAllowed is raised for a malformed or unsupported operation.
type OperationNotAllowed struct {
	Reason string
}

func (e *OperationNotAllowed) Error() string { return e.Description() }

func (e *OperationNotAllowed) Description() string { return "operation not allowed: " + e.Reason }

// QueryExpressionParseError is raised when builder input can't be
// normalized into a canonical Query.
type QueryExpressionParseError struct {
	Reason string
}

func (e *QueryExpressionParseError) Error() string { return e.Description() }

func (e *QueryExpressionParseError) Description() string {
	return "query expression parse error: " + e.Reason
}

// TransformNotAllowed is raised when builder input can't be normalized
// into a canonical Transform.
type TransformNotAllowed struct {
	Reason string
}

func (e *TransformNotAllowed) Error() string { return e.Description() }

func (e *TransformNotAllowed) Description() string { return "transform not allowed: " + e.Reason }

// NetworkError wraps a transport-level failure (timeout, connection
// refused, rejected fetch).
type NetworkError struct {
	Description_ string
}

func (e *NetworkError) Error() string      { return e.Description() }
func (e *NetworkError) Description() string { return e.Description_ }

// ClientError wraps a 4xx response.
type ClientError struct {
	Status int
	Body   string
}

func (e *ClientError) Error() string { return e.Description() }

func (e *ClientError) Description() string {
	return fmt.Sprintf("client error: status %d: %s", e.Status, e.Body)
}

// ServerError wraps a 5xx response.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string { return e.Description() }

func (e *ServerError) Description() string {
	return fmt.Sprintf("server error: status %d: %s", e.Status, e.Body)
}

// QueueEmpty is raised by shift/skip/retry on an empty queue.
type QueueEmpty struct{ Queue string }

func (e *QueueEmpty) Error() string       { return e.Description() }
func (e *QueueEmpty) Description() string { return fmt.Sprintf("queue %q is empty", e.Queue) }

// QueueBusy is raised by skip/retry when the queue's head has not been
// rejected (the queue is not parked), so there is nothing to skip past
// or re-run.
type QueueBusy struct{ Queue string }

func (e *QueueBusy) Error() string       { return e.Description() }
func (e *QueueBusy) Description() string { return fmt.Sprintf("queue %q is busy", e.Queue) }
