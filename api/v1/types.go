// Package v1 defines the JSON bodies of the HTTP API.
package v1

// SetRequest is the body of POST /kv/{key}.
type SetRequest struct {
	Value string `json:"value"`
}

// SetResponse reports the version a write was stored under.
type SetResponse struct {
	Key     string `json:"key"`
	Version int    `json:"version"`
}

// HistoryResponse is the body of GET /history/{key}, oldest version first.
type HistoryResponse struct {
	Key      string   `json:"key"`
	Versions []string `json:"versions"`
}

// KeysResponse is the body of GET /keys.
type KeysResponse struct {
	Keys []string `json:"keys"`
}

// JoinRequest is the body of POST /join.
type JoinRequest struct {
	NodeID string `json:"node_id"`
	Addr   string `json:"addr"`
}
