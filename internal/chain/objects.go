package chain

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/savings_layer/internal/units"
)

// ErrObjectNotFound is returned when the ledger reports an object as absent or deleted.
var ErrObjectNotFound = stderrors.New("object not found")

var objectOptions = map[string]bool{
	"showType":    true,
	"showContent": true,
	"showOwner":   true,
}

// =============================================================================
// Object Reads
// =============================================================================

// GetObject fetches an object with its type and Move fields.
func (c *Client) GetObject(ctx context.Context, id string) (*Object, error) {
	if id == "" {
		return nil, fmt.Errorf("object id required")
	}
	result, err := c.Call(ctx, "sui_getObject", []interface{}{id, objectOptions})
	if err != nil {
		return nil, err
	}
	return parseObjectResponse(id, gjson.ParseBytes(result))
}

// MultiGetObjects fetches several objects in one call. Missing objects are
// returned as nil entries at their position.
func (c *Client) MultiGetObjects(ctx context.Context, ids []string) ([]*Object, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	result, err := c.Call(ctx, "sui_multiGetObjects", []interface{}{ids, objectOptions})
	if err != nil {
		return nil, err
	}

	items := gjson.ParseBytes(result).Array()
	if len(items) != len(ids) {
		return nil, fmt.Errorf("sui_multiGetObjects returned %d entries for %d ids", len(items), len(ids))
	}
	out := make([]*Object, len(ids))
	for i, item := range items {
		obj, err := parseObjectResponse(ids[i], item)
		if stderrors.Is(err, ErrObjectNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[i] = obj
	}
	return out, nil
}

func parseObjectResponse(id string, res gjson.Result) (*Object, error) {
	if errCode := res.Get("error.code"); errCode.Exists() {
		switch errCode.String() {
		case "notExists", "deleted":
			return nil, fmt.Errorf("%s: %w", id, ErrObjectNotFound)
		default:
			return nil, fmt.Errorf("object %s: %s", id, errCode.String())
		}
	}

	data := res.Get("data")
	if !data.Exists() || data.Type == gjson.Null {
		return nil, fmt.Errorf("%s: %w", id, ErrObjectNotFound)
	}

	typ := data.Get("type").String()
	if typ == "" {
		typ = data.Get("content.type").String()
	}

	return &Object{
		ID:      data.Get("objectId").String(),
		Version: data.Get("version").String(),
		Type:    typ,
		Owner:   data.Get("owner"),
		Fields:  data.Get("content.fields"),
	}, nil
}

// =============================================================================
// Balances
// =============================================================================

// GetBalance returns the total base-unit balance of coinType held by owner.
func (c *Client) GetBalance(ctx context.Context, owner, coinType string) (decimal.Decimal, error) {
	params := []interface{}{owner}
	if coinType != "" {
		params = append(params, coinType)
	}
	result, err := c.Call(ctx, "suix_getBalance", params)
	if err != nil {
		return decimal.Zero, err
	}
	total := gjson.GetBytes(result, "totalBalance")
	if !total.Exists() {
		return decimal.Zero, fmt.Errorf("suix_getBalance: missing totalBalance")
	}
	return units.ParseBaseUnits(total.String())
}

// BalanceField reads a Balance<T> Move field, which the node renders either
// as a bare integer string or as a nested {fields: {value}} struct.
func BalanceField(v gjson.Result) decimal.Decimal {
	if !v.Exists() {
		return decimal.Zero
	}
	if v.IsObject() {
		if nested := v.Get("fields.value"); nested.Exists() {
			v = nested
		} else {
			v = v.Get("value")
		}
	}
	d, err := units.ParseBaseUnits(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}
