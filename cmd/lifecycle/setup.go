package lifecycle

import (
	"context"
	"fmt"
	"log"
	"os"

	"tunnel-keeper/cmd/root"
	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/rpc"
	"tunnel-keeper/services"

	"github.com/spf13/cobra"
)

var setupFlags specFlags

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Establish a reverse tunnel and ensure it is running",
	Long: `Establish a reverse tunnel from the given parameters. The operation is
idempotent: a tunnel that is already running is reported as success
without being restarted.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		spec, err := setupFlags.buildSpec()
		if err != nil {
			log.Fatalf("Invalid tunnel parameters: %v", err)
		}
		if trySetupViaRPC(spec) {
			return
		}
		setupLocal(spec)
	},
}

// trySetupViaRPC 尝试通过常驻keeper建立隧道
func trySetupViaRPC(spec *models.TunnelSpec) bool {
	req := models.CreateTunnelRequest{
		Mode:       spec.Mode,
		Server:     spec.ServerAddress,
		LocalPort:  spec.LocalPort,
		RemotePort: spec.RemotePort,
		Username:   spec.Username,
	}
	resp := callKeeper(func(client rpc.HTTPClient) (*rpc.HTTPResponse, error) {
		return client.Post("/tunnel-keeper/api/v1/tunnels", req)
	})
	if resp == nil {
		return false
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		fmt.Printf("Successfully set up tunnel [%s] via resident keeper\n", spec.Key())
		return true
	}
	// keeper收到请求但建立失败，不再回退本地重试
	log.Fatalf("Failed to set up tunnel [%s]: %s", spec.Key(), resp.Error)
	return true
}

func setupLocal(spec *models.TunnelSpec) {
	tun, err := services.GetTunnelManager().Setup(context.Background(), spec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up tunnel [%s]: %v\n", spec.Key(), err)
		os.Exit(1)
	}
	fmt.Printf("Tunnel [%s] is %s\n", tun.Key, tun.Status)
}

func init() {
	setupFlags.register(setupCmd)
	root.RootCmd.AddCommand(setupCmd)

	setupCmd.Example = `  # expose local port 8080 on relay port 30080
  tunnel-keeper setup --server relay.example.com --local-port 8080 --remote-port 30080

  # ephemeral tunnel with relay-assigned endpoint
  tunnel-keeper setup --ephemeral`
}
