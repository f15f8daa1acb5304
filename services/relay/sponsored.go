package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	svcerrors "github.com/R3E-Network/savings_layer/internal/errors"
)

// SponsoredRequest is a client-built, client-signed transaction.
type SponsoredRequest struct {
	TxBytes       string `json:"txBytes"`
	UserSignature string `json:"userSignature"`
}

// Join relays a user-signed join.
func (s *Service) Join(ctx context.Context, req SponsoredRequest) (*Result, error) {
	return s.ExecuteSponsored(ctx, ActionJoin, req.TxBytes, req.UserSignature)
}

// Deposit relays a user-signed deposit.
func (s *Service) Deposit(ctx context.Context, req SponsoredRequest) (*Result, error) {
	return s.ExecuteSponsored(ctx, ActionDeposit, req.TxBytes, req.UserSignature)
}

// Claim relays a user-signed claim.
func (s *Service) Claim(ctx context.Context, req SponsoredRequest) (*Result, error) {
	return s.ExecuteSponsored(ctx, ActionClaim, req.TxBytes, req.UserSignature)
}

// ExecuteSponsored co-signs txBytesB64 with the sponsor key and submits it
// alongside the user's signature. When userSignature is a JSON list, the
// client already assembled every signature and the list is submitted as-is.
func (s *Service) ExecuteSponsored(ctx context.Context, action Action, txBytesB64, userSignature string) (*Result, error) {
	txBytesB64 = strings.TrimSpace(txBytesB64)
	userSignature = strings.TrimSpace(userSignature)
	if txBytesB64 == "" {
		return nil, svcerrors.InvalidField("txBytes", "required")
	}
	if userSignature == "" {
		return nil, svcerrors.InvalidField("userSignature", "required")
	}
	txBytes, err := base64.StdEncoding.DecodeString(txBytesB64)
	if err != nil || len(txBytes) == 0 {
		return nil, svcerrors.InvalidField("txBytes", "must be base64 transaction bytes")
	}

	signatures, err := s.signatureSet(txBytes, userSignature)
	if err != nil {
		return nil, err
	}

	res, err := s.submit(ctx, action, txBytesB64, signatures)
	if err != nil {
		return nil, err
	}
	return resultOf(res), nil
}

// signatureSet returns the signatures to submit. A JSON array of strings is
// taken verbatim and no sponsor signature is added; a single signature gets
// the sponsor signature appended.
func (s *Service) signatureSet(txBytes []byte, userSignature string) ([]string, error) {
	if list, ok, err := parseSignatureList(userSignature); ok {
		if err != nil {
			return nil, err
		}
		return list, nil
	}
	return []string{userSignature, s.sponsor.SignTransaction(txBytes)}, nil
}

// parseSignatureList reports ok when raw is shaped like a JSON list. A list
// that does not decode to non-empty strings is a validation error.
func parseSignatureList(raw string) ([]string, bool, error) {
	if !strings.HasPrefix(raw, "[") {
		return nil, false, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, true, svcerrors.InvalidField("userSignature", "malformed signature list")
	}
	if len(list) == 0 {
		return nil, true, svcerrors.InvalidField("userSignature", "empty signature list")
	}
	for _, sig := range list {
		if strings.TrimSpace(sig) == "" {
			return nil, true, svcerrors.InvalidField("userSignature", "empty signature in list")
		}
	}
	return list, true, nil
}
