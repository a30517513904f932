package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shoeboxhq/shoebox-go/internal/broadcast"
	"github.com/shoeboxhq/shoebox-go/internal/entity"
	"github.com/shoeboxhq/shoebox-go/internal/store"
)

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm receipt|device|document <id>",
		Short: "Delete a stored entity",
		Long: `Delete an entity locally and queue the deletion for sync. Deleting an
entity whose creation never drained cancels both — the server never hears
about it.`,
		Args: cobra.ExactArgs(2),
		RunE: runRm,
	}
}

func runRm(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd)
	ctx := cmd.Context()

	kind, err := entity.ParseKind(args[0])
	if err != nil {
		return err
	}

	id := args[1]
	if !entity.ValidID(id) {
		return fmt.Errorf("invalid %s ID %q", kind, id)
	}

	st, err := cc.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	// A document's staged content file goes with it.
	if kind == entity.KindDocument {
		if doc, err := st.GetDocument(ctx, id); err == nil && doc.ContentPath != "" {
			if rmErr := os.Remove(doc.ContentPath); rmErr != nil && !os.IsNotExist(rmErr) {
				cc.Logger.Warn("removing staged document content", "error", rmErr.Error())
			}
		}
	}

	if err := st.DeleteEntity(ctx, kind, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%s %s not found", kind, id)
		}

		return err
	}

	err = enqueueMutation(ctx, cc, st, kind, id, entity.OpDelete, deletePayload(id),
		broadcast.EntityDeleted(kind, id))
	if err != nil {
		return err
	}

	cc.Statusf("Deleted %s %s.\n", kind, id)

	return nil
}
