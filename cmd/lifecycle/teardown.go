package lifecycle

import (
	"errors"
	"fmt"
	"log"

	"tunnel-keeper/cmd/root"
	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/rpc"
	"tunnel-keeper/services"

	"github.com/spf13/cobra"
)

var teardownFlags specFlags

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Tear down the tunnel",
	Long: `Tear down the tunnel identified by the given parameters. In persistent
mode the systemd unit is disabled and removed; in ephemeral mode the
client process is terminated.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		spec, err := teardownFlags.buildSpec()
		if err != nil {
			log.Fatalf("Invalid tunnel parameters: %v", err)
		}
		if tryTeardownViaRPC(spec.Key()) {
			return
		}
		teardownLocal(spec.Key())
	},
}

func tryTeardownViaRPC(key string) bool {
	resp := callKeeper(func(client rpc.HTTPClient) (*rpc.HTTPResponse, error) {
		return client.Delete("/tunnel-keeper/api/v1/tunnels/"+key, nil)
	})
	if resp == nil {
		return false
	}
	if resp.StatusCode == 404 {
		log.Fatalf("No tunnel [%s] to tear down", key)
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		fmt.Printf("Successfully tore down tunnel [%s]\n", key)
		return true
	}
	log.Fatalf("Failed to tear down tunnel [%s]: %s", key, resp.Error)
	return true
}

func teardownLocal(key string) {
	if err := services.GetTunnelManager().Teardown(key); err != nil {
		if errors.Is(err, models.ErrTunnelNotFound) {
			log.Fatalf("No tunnel [%s] to tear down", key)
		}
		log.Fatalf("Failed to tear down tunnel [%s]: %v", key, err)
	}
	fmt.Printf("Successfully tore down tunnel [%s]\n", key)
}

func init() {
	teardownFlags.register(teardownCmd)
	root.RootCmd.AddCommand(teardownCmd)

	teardownCmd.Example = `  tunnel-keeper teardown --server relay.example.com --local-port 8080 --remote-port 30080`
}
