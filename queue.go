package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shoeboxhq/shoebox-go/internal/store"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the mutation queue",
		Long: `Inspect queued local changes. Items the server rejected permanently stay
in the failed state until retried or discarded here.`,
	}

	cmd.AddCommand(newQueueLsCmd())
	cmd.AddCommand(newQueueRetryCmd())
	cmd.AddCommand(newQueueDiscardCmd())

	return cmd
}

func newQueueLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List queued changes",
		RunE:  runQueueLs,
	}
}

func runQueueLs(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd)
	ctx := cmd.Context()

	st, err := cc.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	items, err := st.ListQueueItems(ctx)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(items)
	}

	if len(items) == 0 {
		cc.Statusf("Queue is empty.\n")
		return nil
	}

	rows := make([][]string, 0, len(items))
	for i := range items {
		item := &items[i]

		lastError := item.LastError
		if len(lastError) > 60 {
			lastError = lastError[:57] + "..."
		}

		rows = append(rows, []string{
			strconv.FormatInt(item.ID, 10),
			item.Kind.String(),
			item.EntityID,
			item.Op.String(),
			item.Status,
			strconv.FormatInt(item.Attempts, 10),
			lastError,
		})
	}

	printTable(os.Stdout, []string{"ID", "KIND", "ENTITY", "OP", "STATUS", "ATTEMPTS", "LAST ERROR"}, rows)

	return nil
}

func newQueueRetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry [id]",
		Short: "Re-queue failed changes",
		Long: `Move a failed change back to pending so the next drain retries it with a
fresh attempt count. With --all, re-queue every failed change.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runQueueRetry,
	}

	cmd.Flags().Bool("all", false, "re-queue every failed change")

	return cmd
}

func runQueueRetry(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd)
	ctx := cmd.Context()

	all, _ := cmd.Flags().GetBool("all")
	if all == (len(args) == 1) {
		return fmt.Errorf("provide exactly one of an item ID or --all")
	}

	st, err := cc.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if all {
		items, err := st.ListQueueItems(ctx)
		if err != nil {
			return err
		}

		retried := 0

		for i := range items {
			if items[i].Status != store.StatusFailed {
				continue
			}

			if err := st.RetryFailed(ctx, items[i].ID); err != nil {
				return err
			}

			retried++
		}

		cc.Statusf("Re-queued %d failed change(s).\n", retried)
		opportunisticDrain(ctx, cc, st)

		return nil
	}

	id, err := parseQueueID(args[0])
	if err != nil {
		return err
	}

	if err := st.RetryFailed(ctx, id); err != nil {
		return queueItemErr(err, id)
	}

	cc.Statusf("Re-queued change %d.\n", id)
	opportunisticDrain(ctx, cc, st)

	return nil
}

func newQueueDiscardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <id>",
		Short: "Drop a failed change without applying it",
		Long: `Remove a failed change from the queue. The local state keeps the change;
the server never receives it.`,
		Args: cobra.ExactArgs(1),
		RunE: runQueueDiscard,
	}
}

func runQueueDiscard(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd)
	ctx := cmd.Context()

	id, err := parseQueueID(args[0])
	if err != nil {
		return err
	}

	st, err := cc.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.DiscardFailed(ctx, id); err != nil {
		return queueItemErr(err, id)
	}

	cc.Statusf("Discarded change %d.\n", id)

	return nil
}

func parseQueueID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid queue item ID %q", s)
	}

	return id, nil
}

func queueItemErr(err error, id int64) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no failed queue item with ID %d", id)
	}

	return err
}
