package utils

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/iancoleman/orderedmap"
	"github.com/jedib0t/go-pretty/v6/table"
)

// StructToOrderedMap converts a struct to an ordered map keyed by the
// struct's json tags, preserving field declaration order.
func StructToOrderedMap(v interface{}) (*orderedmap.OrderedMap, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := orderedmap.New()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

/**
 * Print records as an aligned table on stdout
 * @param {[]*orderedmap.OrderedMap} records - Rows to print, all sharing one key set
 * @description
 * - Column headers come from the first record's keys
 * - Used by list-style subcommands for human-readable output
 */
func PrintFormat(records []*orderedmap.OrderedMap) {
	if len(records) == 0 {
		fmt.Println("(empty)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)

	keys := records[0].Keys()
	header := table.Row{}
	for _, k := range keys {
		header = append(header, k)
	}
	t.AppendHeader(header)

	for _, rec := range records {
		row := table.Row{}
		for _, k := range keys {
			val, _ := rec.Get(k)
			row = append(row, val)
		}
		t.AppendRow(row)
	}
	t.Render()
}
