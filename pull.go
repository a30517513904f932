package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shoeboxhq/shoebox-go/internal/api"
	"github.com/shoeboxhq/shoebox-go/internal/broadcast"
	"github.com/shoeboxhq/shoebox-go/internal/entity"
	"github.com/shoeboxhq/shoebox-go/internal/store"
)

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Fetch the server's entities into the local store",
		Long: `Download receipts, devices, and documents from the server and merge them
into the local store. Local entities with queued unsynced changes are left
alone; everything else is refreshed to the server's version.`,
		RunE: runPull,
	}
}

func runPull(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd)
	ctx := cmd.Context()

	if !cc.tokenSource().Authenticated() {
		return fmt.Errorf("not logged in — run 'shoebox login' first")
	}

	st, err := cc.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	client := cc.apiClient()

	broadcaster, err := cc.newBroadcaster()
	if err != nil {
		return err
	}
	defer broadcaster.Close()

	total := 0

	receipts, err := client.ListReceipts(ctx)
	if err != nil {
		return fmt.Errorf("fetching receipts: %w", err)
	}

	for i := range receipts {
		if err := pullReceipt(ctx, cc, st, broadcaster, &receipts[i]); err != nil {
			return err
		}
	}

	total += len(receipts)

	devices, err := client.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("fetching devices: %w", err)
	}

	for i := range devices {
		if err := pullDevice(ctx, cc, st, broadcaster, &devices[i]); err != nil {
			return err
		}
	}

	total += len(devices)

	documents, err := client.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("fetching documents: %w", err)
	}

	for i := range documents {
		if err := pullDocument(ctx, cc, st, broadcaster, &documents[i]); err != nil {
			return err
		}
	}

	total += len(documents)

	cc.Statusf("Pulled %d entities (%d receipts, %d devices, %d documents).\n",
		total, len(receipts), len(devices), len(documents))

	return nil
}

// lookupErr filters the store's not-found sentinel: a missing row is the
// normal "new from server" case, anything else is a real failure.
func lookupErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}

	return err
}

func pullReceipt(ctx context.Context, cc *CLIContext, st *store.Store, b *broadcast.Broadcaster, r *api.Receipt) error {
	existing, err := st.GetReceipt(ctx, r.ID)
	if err := lookupErr(err); err != nil {
		return err
	}

	// An unsynced local version carries speculative changes the queue has
	// not drained yet; the drain, not the pull, decides their fate.
	if existing != nil && !existing.Synced {
		return nil
	}

	now := time.Now().UnixNano()
	stored := &store.Receipt{
		ID:          r.ID,
		Vendor:      r.Vendor,
		TotalCents:  r.TotalCents,
		Currency:    r.Currency,
		PurchasedAt: r.PurchasedAt.UnixNano(),
		Note:        r.Note,
		Synced:      true,
		CreatedAt:   now,
		UpdatedAt:   r.UpdatedAt.UnixNano(),
	}

	if existing != nil {
		stored.CreatedAt = existing.CreatedAt
	}

	if err := st.UpsertReceipt(ctx, stored); err != nil {
		return err
	}

	publishPullHint(cc, b, existing == nil, entity.KindReceipt, r.ID)

	return nil
}

func pullDevice(ctx context.Context, cc *CLIContext, st *store.Store, b *broadcast.Broadcaster, d *api.Device) error {
	existing, err := st.GetDevice(ctx, d.ID)
	if err := lookupErr(err); err != nil {
		return err
	}

	if existing != nil && !existing.Synced {
		return nil
	}

	now := time.Now().UnixNano()
	stored := &store.Device{
		ID:             d.ID,
		Name:           d.Name,
		Brand:          d.Brand,
		Model:          d.Model,
		SerialNumber:   d.SerialNumber,
		ReceiptID:      d.ReceiptID,
		WarrantyMonths: int64(d.WarrantyMonths),
		PurchasedAt:    d.PurchasedAt.UnixNano(),
		Synced:         true,
		CreatedAt:      now,
		UpdatedAt:      d.UpdatedAt.UnixNano(),
	}

	if existing != nil {
		stored.CreatedAt = existing.CreatedAt
	}

	if err := st.UpsertDevice(ctx, stored); err != nil {
		return err
	}

	publishPullHint(cc, b, existing == nil, entity.KindDevice, d.ID)

	return nil
}

func pullDocument(ctx context.Context, cc *CLIContext, st *store.Store, b *broadcast.Broadcaster, d *api.Document) error {
	existing, err := st.GetDocument(ctx, d.ID)
	if err := lookupErr(err); err != nil {
		return err
	}

	if existing != nil && !existing.Synced {
		return nil
	}

	now := time.Now().UnixNano()
	stored := &store.Document{
		ID:          d.ID,
		OwnerKind:   d.OwnerKind,
		OwnerID:     d.OwnerID,
		Name:        d.Name,
		ContentType: d.ContentType,
		Size:        d.Size,
		SHA256:      d.SHA256,
		Synced:      true,
		CreatedAt:   now,
		UpdatedAt:   d.UpdatedAt.UnixNano(),
	}

	if existing != nil {
		stored.CreatedAt = existing.CreatedAt
		stored.ContentPath = existing.ContentPath
	}

	if err := st.UpsertDocument(ctx, stored); err != nil {
		return err
	}

	publishPullHint(cc, b, existing == nil, entity.KindDocument, d.ID)

	return nil
}

// publishPullHint tells sibling processes one entity changed under them.
func publishPullHint(cc *CLIContext, b *broadcast.Broadcaster, created bool, kind entity.Kind, id string) {
	msg := broadcast.EntityUpdated(kind, id)
	if created {
		msg = broadcast.EntityCreated(kind, id)
	}

	if err := b.Publish(context.Background(), msg); err != nil {
		cc.Logger.Debug("broadcast publish failed", "error", err.Error())
	}
}
