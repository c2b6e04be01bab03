package models

import "time"

/**
 * TunnelRecord is the persisted state of one supervised tunnel
 * @property {string} key - Identity key (one record per key)
 * @property {TunnelSpec} spec - Validated parameters the tunnel was built from
 * @property {string} unitName - systemd unit name (persistent mode)
 * @property {int} pid - Detached process id (ephemeral mode)
 * @property {string} logPath - Append-only client log (ephemeral mode)
 */
type TunnelRecord struct {
	Key         string     `json:"key"`
	Spec        TunnelSpec `json:"spec"`
	UnitName    string     `json:"unitName,omitempty"`
	Pid         int        `json:"pid,omitempty"`
	LogPath     string     `json:"logPath,omitempty"`
	Status      RunStatus  `json:"status"`
	CreatedTime time.Time  `json:"createdTime"`
}

// EndpointInfo is the externally reachable address of a tunnel. It is
// recomputed on demand, never persisted: the relay may reassign it on
// every reconnect.
type EndpointInfo struct {
	URL string `json:"url"`
}

// ErrorResponse defines API error response format
type ErrorResponse struct {
	Error string `json:"error"`
}

// TunnelResponse defines tunnel operation success response format
type TunnelResponse struct {
	Key     string `json:"key"`     // identity key
	Status  string `json:"status"`  // operation status
	Message string `json:"message"` // response message
}

// CreateTunnelRequest is the POST body of the tunnel creation API.
type CreateTunnelRequest struct {
	Mode       TunnelMode `json:"mode"`
	Server     string     `json:"server,omitempty"`
	LocalPort  int        `json:"localPort"`
	RemotePort int        `json:"remotePort,omitempty"`
	Username   string     `json:"username,omitempty"`
}

// EnsureResult reports what a single check-and-repair pass did for one key.
type EnsureResult struct {
	Key      string `json:"key"`
	Healthy  bool   `json:"healthy"`
	Repaired bool   `json:"repaired"`
	Error    string `json:"error,omitempty"`
}
