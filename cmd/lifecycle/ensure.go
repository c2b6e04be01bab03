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

var ensureFlags specFlags

var ensureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Check the tunnel and repair it if it is down",
	Long: `Check the tunnel identified by the given parameters and perform one
repair attempt if it is not running. The command makes exactly one
attempt; retries are the caller's scheduler's job (cron etc.), so the
exit code is 0 even when the repair attempt fails.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		spec, err := ensureFlags.buildSpec()
		if err != nil {
			log.Fatalf("Invalid tunnel parameters: %v", err)
		}
		if tryEnsureViaRPC(spec) {
			return
		}
		ensureLocal(spec)
	},
}

// tryEnsureViaRPC 常驻keeper的POST /tunnels本身就是幂等的check-and-repair
func tryEnsureViaRPC(spec *models.TunnelSpec) bool {
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
		fmt.Printf("Tunnel [%s] is running\n", spec.Key())
	} else {
		fmt.Printf("Repair of tunnel [%s] failed: %s\n", spec.Key(), resp.Error)
	}
	return true
}

func ensureLocal(spec *models.TunnelSpec) {
	result, err := services.GetTunnelManager().Ensure(context.Background(), spec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to ensure tunnel [%s]: %v\n", spec.Key(), err)
		os.Exit(1)
	}
	switch {
	case result.Repaired:
		fmt.Printf("Tunnel [%s] was down and has been repaired\n", result.Key)
	case result.Healthy:
		fmt.Printf("Tunnel [%s] is running\n", result.Key)
	default:
		fmt.Printf("Repair of tunnel [%s] failed: %s\n", result.Key, result.Error)
	}
}

func init() {
	ensureFlags.register(ensureCmd)
	root.RootCmd.AddCommand(ensureCmd)

	ensureCmd.Example = `  # from cron, every minute
  tunnel-keeper ensure --ephemeral`
}
