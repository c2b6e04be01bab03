package lifecycle

import (
	"encoding/json"
	"fmt"
	"log"

	"tunnel-keeper/cmd/root"
	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/rpc"
	"tunnel-keeper/services"

	"github.com/spf13/cobra"
)

var statusFlags specFlags

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the tunnel is running",
	Long: `Report the run state of the tunnel identified by the given parameters.
The command only observes, it never starts or stops anything.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		spec, err := statusFlags.buildSpec()
		if err != nil {
			log.Fatalf("Invalid tunnel parameters: %v", err)
		}
		if tryStatusViaRPC(spec.Key()) {
			return
		}
		statusLocal(spec)
	},
}

func tryStatusViaRPC(key string) bool {
	resp := callKeeper(func(client rpc.HTTPClient) (*rpc.HTTPResponse, error) {
		return client.Get("/tunnel-keeper/api/v1/tunnels/"+key, nil)
	})
	if resp == nil {
		return false
	}
	if resp.StatusCode == 404 {
		fmt.Printf("Tunnel [%s] is absent\n", key)
		return true
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		var rec models.TunnelRecord
		if err := json.Unmarshal(resp.Body, &rec); err == nil {
			fmt.Printf("Tunnel [%s] is %s\n", rec.Key, rec.Status)
			return true
		}
	}
	return false
}

func statusLocal(spec *models.TunnelSpec) {
	tm := services.GetTunnelManager()
	if tm.Get(spec.Key()) == nil {
		fmt.Printf("Tunnel [%s] is absent\n", spec.Key())
		return
	}
	if tm.IsHealthy(spec.Key()) {
		fmt.Printf("Tunnel [%s] is running\n", spec.Key())
	} else {
		fmt.Printf("Tunnel [%s] is not running\n", spec.Key())
	}
}

func init() {
	statusFlags.register(statusCmd)
	root.RootCmd.AddCommand(statusCmd)

	statusCmd.Example = `  tunnel-keeper status --server relay.example.com --local-port 8080 --remote-port 30080`
}
