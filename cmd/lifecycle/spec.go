package lifecycle

import (
	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/rpc"

	"github.com/spf13/cobra"
)

// specFlags 隧道生命周期命令共用的身份参数
type specFlags struct {
	ephemeral  bool
	server     string
	localPort  int
	remotePort int
	username   string
}

func (f *specFlags) register(cmd *cobra.Command) {
	cmd.Flags().SortFlags = false
	cmd.Flags().BoolVarP(&f.ephemeral, "ephemeral", "e", false, "Use ephemeral mode (dynamic endpoint relay)")
	cmd.Flags().StringVarP(&f.server, "server", "s", "", "Relay server address")
	cmd.Flags().IntVarP(&f.localPort, "local-port", "l", 0, "Local port to expose")
	cmd.Flags().IntVarP(&f.remotePort, "remote-port", "r", 0, "Remote port on the relay (persistent mode)")
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "SSH username on the relay")
}

/**
 * 由命令行参数构造经过验证的隧道参数
 * @returns {(*models.TunnelSpec, error)} 参数非法时返回ErrInvalidSpec
 * @description
 * - 临时模式下中继地址和本地端口缺省取自配置
 * - 用户名缺省取自配置
 */
func (f *specFlags) buildSpec() (*models.TunnelSpec, error) {
	cfg := config.Get()
	mode := models.ModePersistent
	server := f.server
	localPort := f.localPort
	if f.ephemeral {
		mode = models.ModeEphemeral
		if server == "" {
			server = cfg.Ephemeral.RelayHost
		}
		if localPort == 0 {
			localPort = cfg.Ephemeral.LocalPort
		}
	}
	username := f.username
	if username == "" {
		username = cfg.Relay.Username
	}
	return models.NewTunnelSpec(mode, server, localPort, f.remotePort, username)
}

// callKeeper 尝试通过RPC调用常驻keeper，连接失败时返回nil让调用者回退本地逻辑
func callKeeper(call func(client rpc.HTTPClient) (*rpc.HTTPResponse, error)) *rpc.HTTPResponse {
	client := rpc.NewHTTPClient(nil)
	defer client.Close()

	resp, err := call(client)
	if err != nil {
		logger.Debugf("Failed to reach resident keeper: %v", err)
		return nil
	}
	return resp
}
