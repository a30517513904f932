package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shoeboxhq/shoebox-go/internal/broadcast"
	"github.com/shoeboxhq/shoebox-go/internal/entity"
	"github.com/shoeboxhq/shoebox-go/internal/store"
)

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a new receipt, device, or document",
		Long: `Record a new entity in the local store and queue it for sync. The write
is immediate and survives offline; the upload happens in the background.`,
	}

	cmd.AddCommand(newAddReceiptCmd())
	cmd.AddCommand(newAddDeviceCmd())
	cmd.AddCommand(newAddDocumentCmd())

	return cmd
}

func newAddReceiptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipt",
		Short: "Record a purchase receipt",
		RunE:  runAddReceipt,
	}

	cmd.Flags().String("vendor", "", "vendor name (required)")
	cmd.Flags().String("total", "", "total amount, e.g. 129.99 (required)")
	cmd.Flags().String("currency", "USD", "ISO currency code")
	cmd.Flags().String("date", "", "purchase date YYYY-MM-DD (default today)")
	cmd.Flags().String("note", "", "free-form note")

	_ = cmd.MarkFlagRequired("vendor")
	_ = cmd.MarkFlagRequired("total")

	return cmd
}

func runAddReceipt(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd)
	ctx := cmd.Context()

	vendor, _ := cmd.Flags().GetString("vendor")
	total, _ := cmd.Flags().GetString("total")
	currency, _ := cmd.Flags().GetString("currency")
	date, _ := cmd.Flags().GetString("date")
	note, _ := cmd.Flags().GetString("note")

	vendor = entity.NormalizeName(vendor)
	if vendor == "" {
		return fmt.Errorf("vendor must not be empty")
	}

	cents, err := parseCents(total)
	if err != nil {
		return err
	}

	purchasedAt, err := parseDate(date)
	if err != nil {
		return err
	}

	st, err := cc.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	now := time.Now().UnixNano()
	receipt := &store.Receipt{
		ID:          entity.NewID(),
		Vendor:      vendor,
		TotalCents:  cents,
		Currency:    strings.ToUpper(currency),
		PurchasedAt: purchasedAt.UnixNano(),
		Note:        note,
		Synced:      false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := st.UpsertReceipt(ctx, receipt); err != nil {
		return err
	}

	err = enqueueMutation(ctx, cc, st, entity.KindReceipt, receipt.ID, entity.OpCreate,
		mustMarshal(wireReceipt(receipt)),
		broadcast.EntityCreated(entity.KindReceipt, receipt.ID))
	if err != nil {
		return err
	}

	cc.Statusf("Added receipt %s (%s, %s).\n", receipt.ID, vendor, formatCents(cents, receipt.Currency))
	fmt.Println(receipt.ID)

	return nil
}

func newAddDeviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Register a device with its warranty window",
		RunE:  runAddDevice,
	}

	cmd.Flags().String("name", "", "device name (required)")
	cmd.Flags().String("brand", "", "manufacturer")
	cmd.Flags().String("model", "", "model identifier")
	cmd.Flags().String("serial", "", "serial number")
	cmd.Flags().String("receipt", "", "ID of the purchase receipt")
	cmd.Flags().Int("warranty-months", 0, "warranty length in months")
	cmd.Flags().String("date", "", "purchase date YYYY-MM-DD (default today)")

	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func runAddDevice(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd)
	ctx := cmd.Context()

	name, _ := cmd.Flags().GetString("name")
	brand, _ := cmd.Flags().GetString("brand")
	model, _ := cmd.Flags().GetString("model")
	serial, _ := cmd.Flags().GetString("serial")
	receiptID, _ := cmd.Flags().GetString("receipt")
	warrantyMonths, _ := cmd.Flags().GetInt("warranty-months")
	date, _ := cmd.Flags().GetString("date")

	name = entity.NormalizeName(name)
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}

	if warrantyMonths < 0 {
		return fmt.Errorf("warranty-months must not be negative")
	}

	if receiptID != "" && !entity.ValidID(receiptID) {
		return fmt.Errorf("invalid receipt ID %q", receiptID)
	}

	purchasedAt, err := parseDate(date)
	if err != nil {
		return err
	}

	st, err := cc.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	// The receipt reference must resolve locally; a dangling link would
	// surface as a confusing server rejection much later.
	if receiptID != "" {
		if _, err := st.GetReceipt(ctx, receiptID); err != nil {
			return fmt.Errorf("receipt %s not found locally", receiptID)
		}
	}

	now := time.Now().UnixNano()
	device := &store.Device{
		ID:             entity.NewID(),
		Name:           name,
		Brand:          entity.NormalizeName(brand),
		Model:          entity.NormalizeName(model),
		SerialNumber:   strings.TrimSpace(serial),
		ReceiptID:      receiptID,
		WarrantyMonths: int64(warrantyMonths),
		PurchasedAt:    purchasedAt.UnixNano(),
		Synced:         false,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := st.UpsertDevice(ctx, device); err != nil {
		return err
	}

	err = enqueueMutation(ctx, cc, st, entity.KindDevice, device.ID, entity.OpCreate,
		mustMarshal(wireDevice(device)),
		broadcast.EntityCreated(entity.KindDevice, device.ID))
	if err != nil {
		return err
	}

	cc.Statusf("Added device %s (%s).\n", device.ID, name)
	fmt.Println(device.ID)

	return nil
}

func newAddDocumentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "document",
		Short: "Attach a document (manual, invoice, scan) to a receipt or device",
		RunE:  runAddDocument,
	}

	cmd.Flags().String("file", "", "path to the document file (required)")
	cmd.Flags().String("name", "", "document title (default: file name)")
	cmd.Flags().String("owner-kind", "", "owning entity kind: receipt or device")
	cmd.Flags().String("owner-id", "", "owning entity ID")

	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runAddDocument(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd)
	ctx := cmd.Context()

	file, _ := cmd.Flags().GetString("file")
	name, _ := cmd.Flags().GetString("name")
	ownerKindArg, _ := cmd.Flags().GetString("owner-kind")
	ownerID, _ := cmd.Flags().GetString("owner-id")

	var ownerKind entity.Kind
	if ownerKindArg != "" {
		k, err := entity.ParseKind(ownerKindArg)
		if err != nil {
			return err
		}

		if k == entity.KindDocument {
			return fmt.Errorf("a document cannot own another document")
		}

		ownerKind = k
	}

	if (ownerKind == "") != (ownerID == "") {
		return fmt.Errorf("--owner-kind and --owner-id must be set together")
	}

	if ownerID != "" && !entity.ValidID(ownerID) {
		return fmt.Errorf("invalid owner ID %q", ownerID)
	}

	if name == "" {
		name = filepath.Base(file)
	}

	name = entity.NormalizeName(name)

	st, err := cc.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	id := entity.NewID()

	staged, size, digest, err := stageDocumentContent(cc, file, id)
	if err != nil {
		return err
	}

	now := time.Now().UnixNano()
	doc := &store.Document{
		ID:          id,
		OwnerKind:   ownerKind.String(),
		OwnerID:     ownerID,
		Name:        name,
		ContentType: contentTypeFor(file),
		Size:        size,
		SHA256:      digest,
		ContentPath: staged,
		Synced:      false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := st.UpsertDocument(ctx, doc); err != nil {
		return err
	}

	err = enqueueMutation(ctx, cc, st, entity.KindDocument, doc.ID, entity.OpCreate,
		mustMarshal(wireDocument(doc)),
		broadcast.EntityCreated(entity.KindDocument, doc.ID))
	if err != nil {
		return err
	}

	cc.Statusf("Added document %s (%s, %s).\n", doc.ID, name, formatSize(size))
	fmt.Println(doc.ID)

	return nil
}

// stageDocumentContent copies the source file into the documents directory
// under the entity ID. The staged copy is what drains to the server, so the
// original can move or change after the command returns.
func stageDocumentContent(cc *CLIContext, src, id string) (path string, size int64, digest string, err error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, "", fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	dir := cc.Cfg.DocumentsDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", 0, "", fmt.Errorf("creating documents directory: %w", err)
	}

	dst := filepath.Join(dir, id+filepath.Ext(src))

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", 0, "", fmt.Errorf("staging document content: %w", err)
	}

	hasher := sha256.New()

	size, err = io.Copy(io.MultiWriter(out, hasher), in)
	if err != nil {
		out.Close()
		os.Remove(dst)

		return "", 0, "", fmt.Errorf("copying document content: %w", err)
	}

	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", 0, "", fmt.Errorf("staging document content: %w", err)
	}

	return dst, size, hex.EncodeToString(hasher.Sum(nil)), nil
}

// contentTypeFor guesses a MIME type from the file extension, defaulting to
// octet-stream.
func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}

	return "application/octet-stream"
}

// parseCents converts a decimal money string ("129.99", "40") to cents.
func parseCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("amount must not be empty")
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units < 0 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	cents := units * 100

	if hasFrac {
		if len(frac) != 2 {
			return 0, fmt.Errorf("invalid amount %q (use two decimal places)", s)
		}

		sub, err := strconv.ParseInt(frac, 10, 64)
		if err != nil || sub < 0 {
			return 0, fmt.Errorf("invalid amount %q", s)
		}

		cents += sub
	}

	return cents, nil
}

// parseDate parses a YYYY-MM-DD purchase date; empty means today.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}

	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", s)
	}

	return t, nil
}
