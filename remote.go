package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/shoeboxhq/shoebox-go/internal/api"
	"github.com/shoeboxhq/shoebox-go/internal/entity"
	"github.com/shoeboxhq/shoebox-go/internal/store"
	syncpkg "github.com/shoeboxhq/shoebox-go/internal/sync"
)

// apiRemote applies queued mutations against the REST API. It dispatches by
// (kind, op) and decodes the immutable payload snapshot into the wire type.
// Implements sync.Remote.
type apiRemote struct {
	client *api.Client
	store  *store.Store
	logger *slog.Logger
}

var _ syncpkg.Remote = (*apiRemote)(nil)

func (r *apiRemote) Apply(ctx context.Context, item *store.QueueItem) error {
	switch item.Kind {
	case entity.KindReceipt:
		return r.applyReceipt(ctx, item)
	case entity.KindDevice:
		return r.applyDevice(ctx, item)
	case entity.KindDocument:
		return r.applyDocument(ctx, item)
	default:
		return fmt.Errorf("queue item %d has unknown kind %q", item.ID, item.Kind)
	}
}

func (r *apiRemote) applyReceipt(ctx context.Context, item *store.QueueItem) error {
	if item.Op == entity.OpDelete {
		return r.client.DeleteReceipt(ctx, item.EntityID)
	}

	var receipt api.Receipt
	if err := json.Unmarshal(item.Payload, &receipt); err != nil {
		return fmt.Errorf("decoding receipt payload for queue item %d: %w", item.ID, err)
	}

	var err error
	if item.Op == entity.OpCreate {
		_, err = r.client.CreateReceipt(ctx, &receipt)
	} else {
		_, err = r.client.UpdateReceipt(ctx, &receipt)
	}

	return err
}

func (r *apiRemote) applyDevice(ctx context.Context, item *store.QueueItem) error {
	if item.Op == entity.OpDelete {
		return r.client.DeleteDevice(ctx, item.EntityID)
	}

	var device api.Device
	if err := json.Unmarshal(item.Payload, &device); err != nil {
		return fmt.Errorf("decoding device payload for queue item %d: %w", item.ID, err)
	}

	var err error
	if item.Op == entity.OpCreate {
		_, err = r.client.CreateDevice(ctx, &device)
	} else {
		_, err = r.client.UpdateDevice(ctx, &device)
	}

	return err
}

// applyDocument sends the metadata mutation, then streams any staged
// content file in a second request. The staged copy is removed only after
// the upload lands, so a failed upload retries from the same bytes.
func (r *apiRemote) applyDocument(ctx context.Context, item *store.QueueItem) error {
	if item.Op == entity.OpDelete {
		return r.client.DeleteDocument(ctx, item.EntityID)
	}

	var upload api.DocumentUpload
	if err := json.Unmarshal(item.Payload, &upload); err != nil {
		return fmt.Errorf("decoding document payload for queue item %d: %w", item.ID, err)
	}

	var err error
	if item.Op == entity.OpCreate {
		_, err = r.client.CreateDocument(ctx, &upload.Document)
	} else {
		_, err = r.client.UpdateDocument(ctx, &upload.Document)
	}

	if err != nil {
		return err
	}

	if upload.ContentPath == "" {
		return nil
	}

	if err := r.client.UploadDocumentContent(ctx, upload.ID, upload.ContentPath, upload.ContentType); err != nil {
		return fmt.Errorf("uploading document content: %w", err)
	}

	if err := r.store.ClearDocumentContentPath(ctx, upload.ID); err != nil {
		return err
	}

	if err := os.Remove(upload.ContentPath); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("removing staged document content",
			slog.String("path", upload.ContentPath),
			slog.String("error", err.Error()),
		)
	}

	return nil
}
