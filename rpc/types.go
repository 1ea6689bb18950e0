package rpc

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// SendRequest carries a signed group as canonical transaction encodings.
type SendRequest struct {
	Txns [][]byte `json:"txns"`
}

// SendResponse names the first transaction of an accepted group.
type SendResponse struct {
	TxID string `json:"txId"`
}

// SimulateRequest is SendRequest plus simulation knobs.
type SimulateRequest struct {
	Txns                 [][]byte `json:"txns"`
	AllowEmptySignatures bool     `json:"allow-empty-signatures,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData carries the rejected transaction and the logs it emitted before
// failing.
type ErrorData struct {
	TxID       string   `json:"txid,omitempty"`
	GroupIndex int      `json:"group-index"`
	Logs       [][]byte `json:"logs,omitempty"`
}

// BoxNamesResponse lists the sub-record names of an application.
type BoxNamesResponse struct {
	Names [][]byte `json:"names"`
}

// EncodeBoxName renders a sub-record name for the box query parameter.
func EncodeBoxName(name []byte) string {
	return "b64:" + base64.StdEncoding.EncodeToString(name)
}

// DecodeBoxName parses "b64:<base64>" or "str:<text>".
func DecodeBoxName(raw string) ([]byte, error) {
	switch {
	case strings.HasPrefix(raw, "b64:"):
		name, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(raw, "b64:"))
		if err != nil {
			return nil, fmt.Errorf("invalid box name: %w", err)
		}
		return name, nil
	case strings.HasPrefix(raw, "str:"):
		return []byte(strings.TrimPrefix(raw, "str:")), nil
	default:
		return nil, fmt.Errorf("box name must start with b64: or str:")
	}
}
