package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"tunnel-keeper/cmd/root"
	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/rpc"
	"tunnel-keeper/services"

	"github.com/spf13/cobra"
)

var infoFlags specFlags

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Report the externally reachable endpoint of the tunnel",
	Long: `Report the public endpoint of the tunnel. For ephemeral tunnels the
client log is rescanned on every call, so a relay-reassigned endpoint
shows up on the next invocation.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		spec, err := infoFlags.buildSpec()
		if err != nil {
			log.Fatalf("Invalid tunnel parameters: %v", err)
		}
		if tryInfoViaRPC(spec.Key()) {
			return
		}
		infoLocal(spec)
	},
}

func tryInfoViaRPC(key string) bool {
	resp := callKeeper(func(client rpc.HTTPClient) (*rpc.HTTPResponse, error) {
		return client.Get("/tunnel-keeper/api/v1/tunnels/"+key+"/endpoint", nil)
	})
	if resp == nil {
		return false
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		var endpoint models.EndpointInfo
		if err := json.Unmarshal(resp.Body, &endpoint); err == nil {
			fmt.Println(endpoint.URL)
			return true
		}
	}
	if resp.StatusCode == 404 {
		fmt.Printf("Endpoint of tunnel [%s] is not yet available\n", key)
		return true
	}
	return false
}

func infoLocal(spec *models.TunnelSpec) {
	endpoint, err := services.GetTunnelManager().Info(spec)
	if err != nil {
		if errors.Is(err, models.ErrNotYetAvailable) {
			fmt.Printf("Endpoint of tunnel [%s] is not yet available\n", spec.Key())
			return
		}
		log.Fatalf("Failed to resolve endpoint of tunnel [%s]: %v", spec.Key(), err)
	}
	fmt.Println(endpoint.URL)
}

func init() {
	infoFlags.register(infoCmd)
	root.RootCmd.AddCommand(infoCmd)

	infoCmd.Example = `  # print the https endpoint assigned by the relay
  tunnel-keeper info --ephemeral`
}
