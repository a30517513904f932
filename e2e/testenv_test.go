package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/shoeboxhq/shoebox-go/internal/api"
	"github.com/shoeboxhq/shoebox-go/internal/entity"
	"github.com/shoeboxhq/shoebox-go/internal/netmon"
	"github.com/shoeboxhq/shoebox-go/internal/store"
	syncpkg "github.com/shoeboxhq/shoebox-go/internal/sync"
	"github.com/shoeboxhq/shoebox-go/testutil"
)

// testEnv wires a real store, a real engine, and the fake API server the way
// the CLI wires them, minus the cobra layer.
type testEnv struct {
	t      *testing.T
	dir    string
	server *testutil.FakeServer
	client *api.Client
	store  *store.Store
	engine *syncpkg.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	logger := discardLogger()

	server := testutil.NewServer()
	t.Cleanup(server.Close)

	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "e2e-token", TokenType: "Bearer"})
	client := api.NewClient(server.URL, &http.Client{Timeout: 10 * time.Second}, tokens, logger)

	st, err := store.Open(filepath.Join(dir, "shoebox.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	env := &testEnv{t: t, dir: dir, server: server, client: client, store: st}

	env.engine = syncpkg.NewEngine(&syncpkg.EngineConfig{
		Queue:    st,
		Remote:   &testRemote{client: client, store: st},
		Session:  staticSession(true),
		Monitor:  staticMonitor(true),
		Owner:    "e2e-owner",
		LeaseTTL: time.Minute,
		Logger:   logger,
	})

	return env
}

// enqueueReceipt inserts a receipt locally and queues its create, the way
// `shoebox add receipt` does.
func (e *testEnv) enqueueReceipt(ctx context.Context, vendor string) string {
	e.t.Helper()

	now := time.Now().UTC()
	id := entity.NewID()

	err := e.store.UpsertReceipt(ctx, &store.Receipt{
		ID:          id,
		Vendor:      vendor,
		TotalCents:  1299,
		Currency:    "USD",
		PurchasedAt: now.UnixNano(),
		Synced:      false,
		CreatedAt:   now.UnixNano(),
		UpdatedAt:   now.UnixNano(),
	})
	require.NoError(e.t, err)

	payload, err := json.Marshal(api.Receipt{
		ID:          id,
		Vendor:      vendor,
		TotalCents:  1299,
		Currency:    "USD",
		PurchasedAt: now,
		UpdatedAt:   now,
	})
	require.NoError(e.t, err)

	_, err = e.store.Enqueue(ctx, entity.KindReceipt, id, entity.OpCreate, payload)
	require.NoError(e.t, err)

	return id
}

// enqueueDocument stages a content file and queues a document create.
func (e *testEnv) enqueueDocument(ctx context.Context, name string, content []byte) string {
	e.t.Helper()

	now := time.Now().UTC()
	id := entity.NewID()

	staged := filepath.Join(e.dir, id+".pdf")
	require.NoError(e.t, os.WriteFile(staged, content, 0o644))

	err := e.store.UpsertDocument(ctx, &store.Document{
		ID:          id,
		Name:        name,
		ContentType: "application/pdf",
		Size:        int64(len(content)),
		ContentPath: staged,
		Synced:      false,
		CreatedAt:   now.UnixNano(),
		UpdatedAt:   now.UnixNano(),
	})
	require.NoError(e.t, err)

	payload, err := json.Marshal(api.DocumentUpload{
		Document: api.Document{
			ID:          id,
			Name:        name,
			ContentType: "application/pdf",
			Size:        int64(len(content)),
			UpdatedAt:   now,
		},
		ContentPath: staged,
	})
	require.NoError(e.t, err)

	_, err = e.store.Enqueue(ctx, entity.KindDocument, id, entity.OpCreate, payload)
	require.NoError(e.t, err)

	return id
}

// testRemote mirrors the CLI's queue-to-API dispatch for the kinds these
// tests exercise.
type testRemote struct {
	client *api.Client
	store  *store.Store
}

func (r *testRemote) Apply(ctx context.Context, item *store.QueueItem) error {
	switch item.Kind {
	case entity.KindReceipt:
		if item.Op == entity.OpDelete {
			return r.client.DeleteReceipt(ctx, item.EntityID)
		}

		var receipt api.Receipt
		if err := json.Unmarshal(item.Payload, &receipt); err != nil {
			return err
		}

		var err error
		if item.Op == entity.OpCreate {
			_, err = r.client.CreateReceipt(ctx, &receipt)
		} else {
			_, err = r.client.UpdateReceipt(ctx, &receipt)
		}

		return err

	case entity.KindDocument:
		if item.Op == entity.OpDelete {
			return r.client.DeleteDocument(ctx, item.EntityID)
		}

		var upload api.DocumentUpload
		if err := json.Unmarshal(item.Payload, &upload); err != nil {
			return err
		}

		var err error
		if item.Op == entity.OpCreate {
			_, err = r.client.CreateDocument(ctx, &upload.Document)
		} else {
			_, err = r.client.UpdateDocument(ctx, &upload.Document)
		}

		if err != nil || upload.ContentPath == "" {
			return err
		}

		if err := r.client.UploadDocumentContent(ctx, upload.ID, upload.ContentPath, upload.ContentType); err != nil {
			return err
		}

		return r.store.ClearDocumentContentPath(ctx, upload.ID)

	default:
		return fmt.Errorf("unexpected kind %q in test", item.Kind)
	}
}

// staticSession is a fixed authenticated/anonymous state.
type staticSession bool

func (s staticSession) Authenticated() bool { return bool(s) }

// staticMonitor is a fixed connectivity state that never emits events.
type staticMonitor bool

func (m staticMonitor) Online() bool { return bool(m) }

func (m staticMonitor) Subscribe(func(netmon.Event)) func() { return func() {} }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
