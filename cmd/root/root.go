package root

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "tunnel-keeper",
	Short: "反向SSH隧道生命周期管理器",
	Long:  `tunnel-keeper管理反向SSH隧道的建立、自愈、状态上报和端点发现`,
}
