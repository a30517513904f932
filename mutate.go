package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shoeboxhq/shoebox-go/internal/api"
	"github.com/shoeboxhq/shoebox-go/internal/broadcast"
	"github.com/shoeboxhq/shoebox-go/internal/entity"
	"github.com/shoeboxhq/shoebox-go/internal/netmon"
	"github.com/shoeboxhq/shoebox-go/internal/store"
	syncpkg "github.com/shoeboxhq/shoebox-go/internal/sync"
)

// opportunisticProbeTimeout bounds the connectivity check before an
// opportunistic drain. Mutation commands must stay fast when offline.
const opportunisticProbeTimeout = 3 * time.Second

// enqueueMutation appends one mutation to the durable queue, publishes the
// matching invalidation hint, and opportunistically drains if the server is
// reachable. The local write has already happened; everything here is
// best-effort acceleration of convergence.
func enqueueMutation(ctx context.Context, cc *CLIContext, st *store.Store, kind entity.Kind, id string, op entity.Op, payload []byte, hint broadcast.Message) error {
	if _, err := st.Enqueue(ctx, kind, id, op, payload); err != nil {
		return fmt.Errorf("queueing %s %s: %w", kind, op, err)
	}

	publishBestEffort(cc, hint)
	opportunisticDrain(ctx, cc, st)

	return nil
}

// opportunisticDrain runs one drain pass if a session exists and a quick
// probe reaches the server. Failures are logged and swallowed: the queued
// mutation is durable and the scheduler (or the next command) will retry.
func opportunisticDrain(ctx context.Context, cc *CLIContext, st *store.Store) {
	session := cc.tokenSource()
	if !session.Authenticated() {
		return
	}

	client := cc.apiClient()

	probeCtx, cancel := context.WithTimeout(ctx, opportunisticProbeTimeout)
	online := client.Health(probeCtx) == nil
	cancel()

	if !online {
		cc.Logger.Debug("skipping opportunistic drain, server unreachable")
		return
	}

	engine := syncpkg.NewEngine(&syncpkg.EngineConfig{
		Queue:    st,
		Remote:   &apiRemote{client: client, store: st, logger: cc.Logger},
		Session:  session,
		Monitor:  staticMonitor{online: true},
		Notifier: nil, // entity hints for this mutation already went out
		Owner:    uuid.NewString(),
		LeaseTTL: cc.Cfg.LeaseTTLDuration(),
		Logger:   cc.Logger,
	})

	report, err := engine.Drain(ctx)
	if err != nil {
		cc.Logger.Debug("opportunistic drain incomplete", "error", err.Error())
		return
	}

	if report.Failed > 0 {
		cc.Statusf("Saved locally; %d change(s) will retry in the background.\n", report.Failed)
	}
}

// staticMonitor satisfies the engine's connectivity gate for one-shot runs
// where no monitor goroutine exists: the probe already happened.
type staticMonitor struct {
	online bool
}

func (m staticMonitor) Online() bool { return m.online }

func (m staticMonitor) Subscribe(func(netmon.Event)) func() { return func() {} }

// mustMarshal serializes a queue payload. The inputs are our own structs;
// a marshal failure is a programming error.
func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshaling queue payload: %v", err))
	}

	return data
}

// deletePayload is the minimal snapshot stored for delete operations.
func deletePayload(id string) []byte {
	return mustMarshal(map[string]string{"id": id})
}

// wireReceipt converts a stored receipt to its wire form for the queue
// payload snapshot.
func wireReceipt(r *store.Receipt) *api.Receipt {
	return &api.Receipt{
		ID:          r.ID,
		Vendor:      r.Vendor,
		TotalCents:  r.TotalCents,
		Currency:    r.Currency,
		PurchasedAt: time.Unix(0, r.PurchasedAt).UTC(),
		Note:        r.Note,
	}
}

// wireDevice converts a stored device to its wire form.
func wireDevice(d *store.Device) *api.Device {
	return &api.Device{
		ID:             d.ID,
		Name:           d.Name,
		Brand:          d.Brand,
		Model:          d.Model,
		SerialNumber:   d.SerialNumber,
		ReceiptID:      d.ReceiptID,
		WarrantyMonths: int(d.WarrantyMonths),
		PurchasedAt:    time.Unix(0, d.PurchasedAt).UTC(),
	}
}

// wireDocument converts stored document metadata to the queue payload form,
// carrying the staged content path for the engine's second-request upload.
func wireDocument(d *store.Document) *api.DocumentUpload {
	return &api.DocumentUpload{
		Document: api.Document{
			ID:          d.ID,
			OwnerKind:   d.OwnerKind,
			OwnerID:     d.OwnerID,
			Name:        d.Name,
			ContentType: d.ContentType,
			Size:        d.Size,
			SHA256:      d.SHA256,
		},
		ContentPath: d.ContentPath,
	}
}
