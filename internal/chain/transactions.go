package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

const requestTypeWaitForLocalExecution = "WaitForLocalExecution"

var transactionOptions = map[string]bool{
	"showEffects":       true,
	"showEvents":        true,
	"showObjectChanges": true,
}

// =============================================================================
// Transaction Submission
// =============================================================================

// ExecuteTransaction submits base64 transaction bytes with the given
// serialized signatures and waits for local execution.
func (c *Client) ExecuteTransaction(ctx context.Context, txBytesB64 string, signatures []string) (*ExecutionResult, error) {
	if txBytesB64 == "" {
		return nil, fmt.Errorf("transaction bytes required")
	}
	if len(signatures) == 0 {
		return nil, fmt.Errorf("at least one signature required")
	}

	result, err := c.Call(ctx, "sui_executeTransactionBlock", []interface{}{
		txBytesB64,
		signatures,
		transactionOptions,
		requestTypeWaitForLocalExecution,
	})
	if err != nil {
		return nil, err
	}
	return parseExecutionResult(result)
}

// GetTransaction fetches an executed transaction by digest.
func (c *Client) GetTransaction(ctx context.Context, digest string) (*ExecutionResult, error) {
	if digest == "" {
		return nil, fmt.Errorf("digest required")
	}
	result, err := c.Call(ctx, "sui_getTransactionBlock", []interface{}{digest, transactionOptions})
	if err != nil {
		return nil, err
	}
	return parseExecutionResult(result)
}

func parseExecutionResult(raw json.RawMessage) (*ExecutionResult, error) {
	res := gjson.ParseBytes(raw)
	digest := res.Get("digest").String()
	if digest == "" {
		return nil, fmt.Errorf("transaction response missing digest")
	}

	effects := res.Get("effects")
	out := &ExecutionResult{
		Digest: digest,
		Status: effects.Get("status.status").String(),
		Error:  effects.Get("status.error").String(),
	}
	if effects.Exists() {
		out.Effects = json.RawMessage(effects.Raw)
	}

	effects.Get("created").ForEach(func(_, v gjson.Result) bool {
		ref := v.Get("reference")
		if id := ref.Get("objectId").String(); id != "" {
			out.Created = append(out.Created, ObjectRef{
				ObjectID: id,
				Version:  ref.Get("version").String(),
				Digest:   ref.Get("digest").String(),
			})
		}
		return true
	})

	res.Get("objectChanges").ForEach(func(_, v gjson.Result) bool {
		out.ObjectChanges = append(out.ObjectChanges, ObjectChange{
			Type:       v.Get("type").String(),
			ObjectType: v.Get("objectType").String(),
			ObjectID:   v.Get("objectId").String(),
			Sender:     v.Get("sender").String(),
		})
		return true
	})

	res.Get("events").ForEach(func(_, v gjson.Result) bool {
		out.Events = append(out.Events, parseRawEvent(v))
		return true
	})

	return out, nil
}

// =============================================================================
// Node-built transactions
// =============================================================================

// MoveCall asks the node to build an unsigned move-call transaction with the
// signer as gas owner. Returns base64 transaction bytes.
func (c *Client) MoveCall(ctx context.Context, req MoveCallRequest) (string, error) {
	if req.Signer == "" || req.Package == "" || req.Module == "" || req.Function == "" {
		return "", fmt.Errorf("move call requires signer, package, module and function")
	}
	typeArgs := req.TypeArgs
	if typeArgs == nil {
		typeArgs = []string{}
	}
	args := req.Args
	if args == nil {
		args = []interface{}{}
	}

	result, err := c.Call(ctx, "unsafe_moveCall", []interface{}{
		req.Signer,
		req.Package,
		req.Module,
		req.Function,
		typeArgs,
		args,
		nil,
		strconv.FormatUint(req.GasBudget, 10),
	})
	if err != nil {
		return "", err
	}

	txBytes := gjson.GetBytes(result, "txBytes").String()
	if txBytes == "" {
		return "", fmt.Errorf("unsafe_moveCall: missing txBytes")
	}
	return txBytes, nil
}
