package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shoeboxhq/shoebox-go/internal/broadcast"
	"github.com/shoeboxhq/shoebox-go/internal/entity"
	"github.com/shoeboxhq/shoebox-go/internal/store"
)

func newSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update fields of a stored entity",
		Long: `Update an entity in the local store and queue the change for sync. Only
fields whose flags are given change; repeated updates to an entity that has
not drained yet coalesce into one queued mutation.`,
	}

	cmd.AddCommand(newSetReceiptCmd())
	cmd.AddCommand(newSetDeviceCmd())
	cmd.AddCommand(newSetDocumentCmd())

	return cmd
}

func newSetReceiptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipt <id>",
		Short: "Update a receipt",
		Args:  cobra.ExactArgs(1),
		RunE:  runSetReceipt,
	}

	cmd.Flags().String("vendor", "", "vendor name")
	cmd.Flags().String("total", "", "total amount, e.g. 129.99")
	cmd.Flags().String("currency", "", "ISO currency code")
	cmd.Flags().String("date", "", "purchase date YYYY-MM-DD")
	cmd.Flags().String("note", "", "free-form note")

	return cmd
}

func runSetReceipt(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd)
	ctx := cmd.Context()

	id := args[0]
	if !entity.ValidID(id) {
		return fmt.Errorf("invalid receipt ID %q", id)
	}

	st, err := cc.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	receipt, err := st.GetReceipt(ctx, id)
	if err != nil {
		return notFoundErr(err, entity.KindReceipt, id)
	}

	changed := false

	if cmd.Flags().Changed("vendor") {
		vendor, _ := cmd.Flags().GetString("vendor")

		vendor = entity.NormalizeName(vendor)
		if vendor == "" {
			return fmt.Errorf("vendor must not be empty")
		}

		receipt.Vendor = vendor
		changed = true
	}

	if cmd.Flags().Changed("total") {
		total, _ := cmd.Flags().GetString("total")

		cents, err := parseCents(total)
		if err != nil {
			return err
		}

		receipt.TotalCents = cents
		changed = true
	}

	if cmd.Flags().Changed("currency") {
		currency, _ := cmd.Flags().GetString("currency")
		receipt.Currency = strings.ToUpper(currency)
		changed = true
	}

	if cmd.Flags().Changed("date") {
		date, _ := cmd.Flags().GetString("date")

		purchasedAt, err := parseDate(date)
		if err != nil {
			return err
		}

		receipt.PurchasedAt = purchasedAt.UnixNano()
		changed = true
	}

	if cmd.Flags().Changed("note") {
		receipt.Note, _ = cmd.Flags().GetString("note")
		changed = true
	}

	if !changed {
		return fmt.Errorf("nothing to update (no field flags given)")
	}

	return finishUpdate(ctx, cc, st, entity.KindReceipt, id, mustMarshal(wireReceipt(receipt)), func() error {
		receipt.Synced = false
		receipt.UpdatedAt = time.Now().UnixNano()

		return st.UpsertReceipt(ctx, receipt)
	})
}

func newSetDeviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device <id>",
		Short: "Update a device",
		Args:  cobra.ExactArgs(1),
		RunE:  runSetDevice,
	}

	cmd.Flags().String("name", "", "device name")
	cmd.Flags().String("brand", "", "manufacturer")
	cmd.Flags().String("model", "", "model identifier")
	cmd.Flags().String("serial", "", "serial number")
	cmd.Flags().String("receipt", "", "ID of the purchase receipt")
	cmd.Flags().Int("warranty-months", 0, "warranty length in months")
	cmd.Flags().String("date", "", "purchase date YYYY-MM-DD")

	return cmd
}

func runSetDevice(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd)
	ctx := cmd.Context()

	id := args[0]
	if !entity.ValidID(id) {
		return fmt.Errorf("invalid device ID %q", id)
	}

	st, err := cc.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	device, err := st.GetDevice(ctx, id)
	if err != nil {
		return notFoundErr(err, entity.KindDevice, id)
	}

	changed := false

	if cmd.Flags().Changed("name") {
		name, _ := cmd.Flags().GetString("name")

		name = entity.NormalizeName(name)
		if name == "" {
			return fmt.Errorf("name must not be empty")
		}

		device.Name = name
		changed = true
	}

	if cmd.Flags().Changed("brand") {
		brand, _ := cmd.Flags().GetString("brand")
		device.Brand = entity.NormalizeName(brand)
		changed = true
	}

	if cmd.Flags().Changed("model") {
		model, _ := cmd.Flags().GetString("model")
		device.Model = entity.NormalizeName(model)
		changed = true
	}

	if cmd.Flags().Changed("serial") {
		serial, _ := cmd.Flags().GetString("serial")
		device.SerialNumber = strings.TrimSpace(serial)
		changed = true
	}

	if cmd.Flags().Changed("receipt") {
		receiptID, _ := cmd.Flags().GetString("receipt")

		if receiptID != "" {
			if !entity.ValidID(receiptID) {
				return fmt.Errorf("invalid receipt ID %q", receiptID)
			}

			if _, err := st.GetReceipt(ctx, receiptID); err != nil {
				return fmt.Errorf("receipt %s not found locally", receiptID)
			}
		}

		device.ReceiptID = receiptID
		changed = true
	}

	if cmd.Flags().Changed("warranty-months") {
		months, _ := cmd.Flags().GetInt("warranty-months")
		if months < 0 {
			return fmt.Errorf("warranty-months must not be negative")
		}

		device.WarrantyMonths = int64(months)
		changed = true
	}

	if cmd.Flags().Changed("date") {
		date, _ := cmd.Flags().GetString("date")

		purchasedAt, err := parseDate(date)
		if err != nil {
			return err
		}

		device.PurchasedAt = purchasedAt.UnixNano()
		changed = true
	}

	if !changed {
		return fmt.Errorf("nothing to update (no field flags given)")
	}

	return finishUpdate(ctx, cc, st, entity.KindDevice, id, mustMarshal(wireDevice(device)), func() error {
		device.Synced = false
		device.UpdatedAt = time.Now().UnixNano()

		return st.UpsertDevice(ctx, device)
	})
}

func newSetDocumentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "document <id>",
		Short: "Update document metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runSetDocument,
	}

	cmd.Flags().String("name", "", "document title")
	cmd.Flags().String("owner-kind", "", "owning entity kind: receipt or device")
	cmd.Flags().String("owner-id", "", "owning entity ID")

	return cmd
}

func runSetDocument(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd)
	ctx := cmd.Context()

	id := args[0]
	if !entity.ValidID(id) {
		return fmt.Errorf("invalid document ID %q", id)
	}

	st, err := cc.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	doc, err := st.GetDocument(ctx, id)
	if err != nil {
		return notFoundErr(err, entity.KindDocument, id)
	}

	changed := false

	if cmd.Flags().Changed("name") {
		name, _ := cmd.Flags().GetString("name")

		name = entity.NormalizeName(name)
		if name == "" {
			return fmt.Errorf("name must not be empty")
		}

		doc.Name = name
		changed = true
	}

	if cmd.Flags().Changed("owner-kind") || cmd.Flags().Changed("owner-id") {
		ownerKindArg, _ := cmd.Flags().GetString("owner-kind")
		ownerID, _ := cmd.Flags().GetString("owner-id")

		if (ownerKindArg == "") != (ownerID == "") {
			return fmt.Errorf("--owner-kind and --owner-id must be set together")
		}

		if ownerKindArg != "" {
			k, err := entity.ParseKind(ownerKindArg)
			if err != nil {
				return err
			}

			if k == entity.KindDocument {
				return fmt.Errorf("a document cannot own another document")
			}

			if !entity.ValidID(ownerID) {
				return fmt.Errorf("invalid owner ID %q", ownerID)
			}

			doc.OwnerKind = k.String()
			doc.OwnerID = ownerID
		} else {
			doc.OwnerKind = ""
			doc.OwnerID = ""
		}

		changed = true
	}

	if !changed {
		return fmt.Errorf("nothing to update (no field flags given)")
	}

	return finishUpdate(ctx, cc, st, entity.KindDocument, id, mustMarshal(wireDocument(doc)), func() error {
		doc.Synced = false
		doc.UpdatedAt = time.Now().UnixNano()

		return st.UpsertDocument(ctx, doc)
	})
}

// finishUpdate persists the modified entity, queues the update mutation,
// and publishes the invalidation hint.
func finishUpdate(ctx context.Context, cc *CLIContext, st *store.Store, kind entity.Kind, id string, payload []byte, persist func() error) error {
	if err := persist(); err != nil {
		return err
	}

	err := enqueueMutation(ctx, cc, st, kind, id, entity.OpUpdate, payload,
		broadcast.EntityUpdated(kind, id))
	if err != nil {
		return err
	}

	cc.Statusf("Updated %s %s.\n", kind, id)

	return nil
}

// notFoundErr turns the store's sentinel into an actionable CLI message.
func notFoundErr(err error, kind entity.Kind, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s %s not found", kind, id)
	}

	return err
}
