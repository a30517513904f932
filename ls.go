package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shoeboxhq/shoebox-go/internal/entity"
	"github.com/shoeboxhq/shoebox-go/internal/store"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "ls receipts|devices|documents",
		Short:     "List stored entities",
		Long:      "List entities from the local store. Unsynced local changes are marked pending.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"receipts", "devices", "documents"},
		RunE:      runLs,
	}
}

func runLs(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd)
	ctx := cmd.Context()

	kind, err := entity.ParseKind(args[0])
	if err != nil {
		return err
	}

	st, err := cc.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	switch kind {
	case entity.KindReceipt:
		receipts, err := st.ListReceipts(ctx)
		if err != nil {
			return err
		}

		return printReceipts(cc, receipts)

	case entity.KindDevice:
		devices, err := st.ListDevices(ctx)
		if err != nil {
			return err
		}

		return printDevices(cc, devices)

	case entity.KindDocument:
		documents, err := st.ListDocuments(ctx)
		if err != nil {
			return err
		}

		return printDocuments(cc, documents)
	}

	return nil
}

func printReceipts(cc *CLIContext, receipts []store.Receipt) error {
	if cc.Flags.JSON {
		return printJSON(receipts)
	}

	rows := make([][]string, 0, len(receipts))
	for i := range receipts {
		r := &receipts[i]
		rows = append(rows, []string{
			r.ID,
			r.Vendor,
			formatCents(r.TotalCents, r.Currency),
			formatUnixNano(r.PurchasedAt),
			syncedMark(r.Synced),
		})
	}

	printTable(os.Stdout, []string{"ID", "VENDOR", "TOTAL", "PURCHASED", "SYNC"}, rows)

	return nil
}

func printDevices(cc *CLIContext, devices []store.Device) error {
	if cc.Flags.JSON {
		return printJSON(devices)
	}

	rows := make([][]string, 0, len(devices))
	for i := range devices {
		d := &devices[i]
		rows = append(rows, []string{
			d.ID,
			d.Name,
			d.Brand,
			warrantyStatus(d, time.Now()),
			syncedMark(d.Synced),
		})
	}

	printTable(os.Stdout, []string{"ID", "NAME", "BRAND", "WARRANTY", "SYNC"}, rows)

	return nil
}

func printDocuments(cc *CLIContext, documents []store.Document) error {
	if cc.Flags.JSON {
		return printJSON(documents)
	}

	rows := make([][]string, 0, len(documents))
	for i := range documents {
		d := &documents[i]

		owner := "-"
		if d.OwnerID != "" {
			owner = d.OwnerKind + ":" + d.OwnerID
		}

		rows = append(rows, []string{
			d.ID,
			d.Name,
			owner,
			formatSize(d.Size),
			syncedMark(d.Synced),
		})
	}

	printTable(os.Stdout, []string{"ID", "NAME", "OWNER", "SIZE", "SYNC"}, rows)

	return nil
}

// warrantyStatus renders the warranty countdown for a device: days left,
// "expired", or "-" when no window is recorded.
func warrantyStatus(d *store.Device, now time.Time) string {
	if d.WarrantyMonths == 0 || d.PurchasedAt == 0 {
		return "-"
	}

	expiry := time.Unix(0, d.PurchasedAt).AddDate(0, int(d.WarrantyMonths), 0)
	if !expiry.After(now) {
		return "expired"
	}

	days := int(expiry.Sub(now).Hours() / 24)

	return strconv.Itoa(days) + "d left"
}

// syncedMark renders the synced flag: confirmed by the server, or still
// pending drain.
func syncedMark(synced bool) string {
	if synced {
		return "ok"
	}

	return "pending"
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
