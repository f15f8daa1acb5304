package chain

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// =============================================================================
// JSON-RPC envelope
// =============================================================================

// RPCRequest represents a JSON-RPC request.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      uint64        `json:"id"`
}

// RPCResponse represents a JSON-RPC response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// =============================================================================
// Objects
// =============================================================================

// ObjectRef identifies one version of a ledger object.
type ObjectRef struct {
	ObjectID string `json:"objectId"`
	Version  string `json:"version"`
	Digest   string `json:"digest"`
}

// Object is a fetched ledger object. Fields holds the raw Move struct fields.
type Object struct {
	ID      string
	Version string
	Type    string
	Owner   gjson.Result
	Fields  gjson.Result
}

// Field returns a named Move field.
func (o *Object) Field(name string) gjson.Result {
	return o.Fields.Get(gjson.Escape(name))
}

// FieldsMap returns the Move fields as plain Go values.
func (o *Object) FieldsMap() map[string]interface{} {
	out, _ := o.Fields.Value().(map[string]interface{})
	if out == nil {
		out = map[string]interface{}{}
	}
	return out
}

// ObjectChange is one entry of a transaction's objectChanges list.
type ObjectChange struct {
	Type       string `json:"type"`
	ObjectType string `json:"objectType"`
	ObjectID   string `json:"objectId"`
	Sender     string `json:"sender"`
}

// =============================================================================
// Transactions
// =============================================================================

// Execution status values reported by the ledger.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// ExecutionResult is the normalized result of a submitted transaction.
type ExecutionResult struct {
	Digest        string
	Status        string
	Error         string
	Created       []ObjectRef
	ObjectChanges []ObjectChange
	Events        []RawEvent
	Effects       json.RawMessage
}

// Success reports whether the ledger executed the transaction successfully.
func (r *ExecutionResult) Success() bool {
	return r.Status == StatusSuccess
}

// CreatedTypes maps created object ids to their type, when objectChanges
// carried it.
func (r *ExecutionResult) CreatedTypes() map[string]string {
	types := make(map[string]string)
	for _, ch := range r.ObjectChanges {
		if ch.Type == "created" && ch.ObjectID != "" && ch.ObjectType != "" {
			types[ch.ObjectID] = ch.ObjectType
		}
	}
	return types
}

// MoveCallRequest describes a node-built move call.
type MoveCallRequest struct {
	Signer    string
	Package   string
	Module    string
	Function  string
	TypeArgs  []string
	Args      []interface{}
	GasBudget uint64
}

// =============================================================================
// Events
// =============================================================================

// EventID identifies an event by the transaction that emitted it and its
// sequence number within that transaction.
type EventID struct {
	TxDigest string `json:"txDigest"`
	EventSeq string `json:"eventSeq"`
}

// String renders the id as digest:seq.
func (id EventID) String() string {
	return id.TxDigest + ":" + id.EventSeq
}

// RawEvent is an event as returned by the node, before schema validation.
type RawEvent struct {
	ID          EventID
	Type        string
	Sender      string
	TimestampMs int64
	ParsedJSON  gjson.Result
}

// EventPage is one page of an event query.
type EventPage struct {
	Events      []RawEvent
	NextCursor  *EventID
	HasNextPage bool
}
