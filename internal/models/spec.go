package models

import "fmt"

type TunnelMode string

const (
	// 持久模式：隧道由systemd守护，端点由配置的中继服务器固定
	ModePersistent TunnelMode = "persistent"
	// 临时模式：隧道连接公共中继，端点由中继动态分配
	ModeEphemeral TunnelMode = "ephemeral"
)

// DefaultUsername is the tunnel account used when none is given.
const DefaultUsername = "tunnel"

// EphemeralKey identifies the single system-wide ephemeral tunnel. The
// public relay exposes one remote port globally, so at most one ephemeral
// tunnel process may exist per host.
const EphemeralKey = "serveo"

/**
 * TunnelSpec describes one tunnel's identity and parameters
 * @property {string} serverAddress - Relay hostname/IP
 * @property {int} localPort - Local service port being exposed
 * @property {int} remotePort - Relay-side port (persistent mode only; the
 *   public relay fixes it in ephemeral mode)
 * @property {string} username - Relay account, defaults to "tunnel"
 * @property {TunnelMode} mode - persistent or ephemeral
 */
type TunnelSpec struct {
	ServerAddress string     `json:"serverAddress"`
	LocalPort     int        `json:"localPort"`
	RemotePort    int        `json:"remotePort,omitempty"`
	Username      string     `json:"username"`
	Mode          TunnelMode `json:"mode"`
}

/**
 * Build a validated tunnel spec from raw inputs
 * @param {TunnelMode} mode - Tunnel mode
 * @param {string} server - Relay address, required
 * @param {int} localPort - Local port, required, in [1,65535]
 * @param {int} remotePort - Remote port, required for persistent mode
 * @param {string} username - Relay account, falls back to "tunnel"
 * @returns {(*TunnelSpec, error)} Returns spec or InvalidSpecError naming the bad field
 * @description
 * - Pure validation, no network or filesystem access
 * - A spec that fails validation is never handed to any supervisor
 */
func NewTunnelSpec(mode TunnelMode, server string, localPort, remotePort int, username string) (*TunnelSpec, error) {
	switch mode {
	case ModePersistent, ModeEphemeral:
	default:
		return nil, &InvalidSpecError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", mode)}
	}
	if server == "" {
		return nil, &InvalidSpecError{Field: "serverAddress", Reason: "must not be empty"}
	}
	if localPort < 1 || localPort > 65535 {
		return nil, &InvalidSpecError{Field: "localPort", Reason: fmt.Sprintf("port %d out of range [1,65535]", localPort)}
	}
	if mode == ModePersistent {
		if remotePort < 1 || remotePort > 65535 {
			return nil, &InvalidSpecError{Field: "remotePort", Reason: fmt.Sprintf("port %d out of range [1,65535]", remotePort)}
		}
	} else {
		// The public relay assigns the remote side; a caller-chosen value
		// would be silently ignored, reject it instead.
		if remotePort != 0 {
			return nil, &InvalidSpecError{Field: "remotePort", Reason: "not user-selectable in ephemeral mode"}
		}
	}
	if username == "" {
		username = DefaultUsername
	}
	return &TunnelSpec{
		ServerAddress: server,
		LocalPort:     localPort,
		RemotePort:    remotePort,
		Username:      username,
		Mode:          mode,
	}, nil
}

/**
 * Identity key used to deduplicate tunnels
 * @returns {string} Returns deterministic key
 * @description
 * - Persistent mode: one tunnel per remote port ("tunnel-r<port>")
 * - Ephemeral mode: the single system-wide key
 */
func (s *TunnelSpec) Key() string {
	if s.Mode == ModeEphemeral {
		return EphemeralKey
	}
	return fmt.Sprintf("tunnel-r%d", s.RemotePort)
}

// Target is the ssh destination argument ("user@host").
func (s *TunnelSpec) Target() string {
	return fmt.Sprintf("%s@%s", s.Username, s.ServerAddress)
}
