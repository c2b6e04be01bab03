package tunnel

import (
	"tunnel-keeper/cmd/root"

	"github.com/spf13/cobra"
)

var tunnelCmd = &cobra.Command{
	Use:   "tunnel",
	Short: "Tunnel operations (list, stop etc.)",
	Long:  `Tunnel operations (list, stop etc.)`,
}

const tunnelExample = `  # list all known tunnels
  tunnel-keeper tunnel list`

func init() {
	root.RootCmd.AddCommand(tunnelCmd)

	tunnelCmd.Example = tunnelExample
}
