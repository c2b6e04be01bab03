package tunnel

import (
	"encoding/json"
	"fmt"
	"time"

	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/rpc"
	"tunnel-keeper/internal/utils"
	"tunnel-keeper/services"

	"github.com/iancoleman/orderedmap"
	"github.com/spf13/cobra"
)

var (
	listMode string
	listPort int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all known tunnels",
	Run: func(cmd *cobra.Command, args []string) {
		if err := listTunnels(); err != nil {
			fmt.Println(err)
		}
	},
}

/**
 * List tunnel records with filtering
 * @returns {error} Returns error if listing fails, nil on success
 * @description
 * - Prefers the resident keeper's record set via RPC
 * - Falls back to the local cache when no keeper is running
 * - Filters by mode and/or local port if specified
 * - Uses utils.PrintFormat for formatted output
 */
func listTunnels() error {
	records := fetchViaRPC()
	if records == nil {
		records = services.GetTunnelManager().List()
	}

	var filtered []models.TunnelRecord
	for _, rec := range records {
		if listMode != "" && string(rec.Spec.Mode) != listMode {
			continue
		}
		if listPort != 0 && rec.Spec.LocalPort != listPort {
			continue
		}
		filtered = append(filtered, rec)
	}

	if len(filtered) == 0 {
		fmt.Println("No tunnels")
		return nil
	}
	return listAllTunnels(filtered)
}

func fetchViaRPC() []models.TunnelRecord {
	client := rpc.NewHTTPClient(nil)
	defer client.Close()

	resp, err := client.Get("/tunnel-keeper/api/v1/tunnels", nil)
	if err != nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil
	}
	var records []models.TunnelRecord
	if err := json.Unmarshal(resp.Body, &records); err != nil {
		return nil
	}
	return records
}

/**
 *	Fields displayed in list format
 */
type Tunnel_Columns struct {
	Key        string `json:"key"`
	Mode       string `json:"mode"`
	LocalPort  int    `json:"local_port"`
	RemotePort int    `json:"remote_port"`
	Status     string `json:"status"`
	Pid        int    `json:"pid"`
	Unit       string `json:"unit"`
	CreateTime string `json:"create_time"`
}

func listAllTunnels(records []models.TunnelRecord) error {
	var dataList []*orderedmap.OrderedMap
	for _, rec := range records {
		row := Tunnel_Columns{}
		row.Key = rec.Key
		row.Mode = string(rec.Spec.Mode)
		row.LocalPort = rec.Spec.LocalPort
		row.RemotePort = rec.Spec.RemotePort
		row.Status = string(rec.Status)
		row.Pid = rec.Pid
		row.Unit = rec.UnitName
		row.CreateTime = rec.CreatedTime.Format(time.RFC3339)

		recordMap, _ := utils.StructToOrderedMap(row)
		dataList = append(dataList, recordMap)
	}

	utils.PrintFormat(dataList)
	return nil
}

func init() {
	listCmd.Flags().SortFlags = false
	listCmd.Flags().StringVarP(&listMode, "mode", "m", "", "Tunnel mode (persistent/ephemeral)")
	listCmd.Flags().IntVarP(&listPort, "port", "p", 0, "Local port")
	tunnelCmd.AddCommand(listCmd)
}
