package tunnel

import (
	"fmt"
	"log"

	"tunnel-keeper/internal/rpc"
	"tunnel-keeper/services"

	"github.com/spf13/cobra"
)

var stopKey string

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop tunnel with specified identity key",
	Run: func(cmd *cobra.Command, args []string) {
		if stopKey == "" {
			log.Fatal("Must specify identity key (--key)")
		}

		// 优先通过常驻keeper停止，连不上时回退本地逻辑
		if tryStopTunnelViaRPC(stopKey) {
			return
		}

		log.Printf("Failed to connect to resident keeper via RPC, falling back to local tunnel management")
		if err := services.GetTunnelManager().Teardown(stopKey); err != nil {
			log.Fatalf("Failed to stop tunnel [%s]: %v", stopKey, err)
		}
		fmt.Printf("Successfully stopped tunnel [%s]\n", stopKey)
	},
}

/**
 * Try to stop tunnel via RPC connection to the resident keeper
 * @param {string} key - Identity key
 * @returns {bool} True if RPC call succeeded, false otherwise
 * @description
 * - Calls DELETE /tunnel-keeper/api/v1/tunnels/{key} endpoint
 * - Handles connection errors and API response errors
 * - Returns success/failure status for fallback logic
 */
func tryStopTunnelViaRPC(key string) bool {
	client := rpc.NewHTTPClient(nil)
	defer client.Close()

	resp, err := client.Delete(fmt.Sprintf("/tunnel-keeper/api/v1/tunnels/%s", key), nil)
	if err != nil {
		log.Printf("Failed to call keeper API: %v", err)
		return false
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		fmt.Printf("Successfully stopped tunnel [%s] via resident keeper\n", key)
		return true
	}
	log.Printf("Keeper API returned error: %s", resp.Error)
	return false
}

func init() {
	stopCmd.Flags().SortFlags = false
	stopCmd.Flags().StringVarP(&stopKey, "key", "k", "", "Identity key, e.g. tunnel-r30080 or serveo")
	tunnelCmd.AddCommand(stopCmd)
}
