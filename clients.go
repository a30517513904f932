package main

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/shoeboxhq/shoebox-go/internal/api"
	"github.com/shoeboxhq/shoebox-go/internal/broadcast"
	"github.com/shoeboxhq/shoebox-go/internal/config"
	"github.com/shoeboxhq/shoebox-go/internal/store"
	"github.com/shoeboxhq/shoebox-go/internal/tokenfile"
)

// openStore opens the shared SQLite database in the data directory,
// running any pending migrations.
func (cc *CLIContext) openStore() (*store.Store, error) {
	return store.Open(cc.Cfg.DatabasePath(), cc.Logger)
}

// tokenSource returns the on-disk token source. It rereads the token file
// on every call, so a re-login in another process takes effect without a
// daemon restart.
func (cc *CLIContext) tokenSource() *tokenfile.Source {
	return &tokenfile.Source{Path: cc.Cfg.TokenPath()}
}

// apiClient builds the REST client from the resolved config.
func (cc *CLIContext) apiClient() *api.Client {
	httpClient := &http.Client{Timeout: cc.Cfg.TimeoutDuration()}

	client := api.NewClient(cc.Cfg.ServerURL, httpClient, cc.tokenSource(), cc.Logger)
	if ua := cc.Cfg.Network.UserAgent; ua != "" {
		client.SetUserAgent(ua)
	}

	return client
}

// newBroadcaster creates a broadcaster over the configured transport with a
// fresh per-process sender ID. The caller owns Close.
func (cc *CLIContext) newBroadcaster() (*broadcast.Broadcaster, error) {
	senderID := uuid.NewString()

	var (
		transport broadcast.Transport
		err       error
	)

	switch cc.Cfg.Broadcast.Transport {
	case config.TransportSocket:
		transport, err = broadcast.NewSocketTransport(cc.Cfg.HubFilePath(), senderID, cc.Logger)
	default:
		transport, err = broadcast.NewSpoolTransport(cc.Cfg.SpoolDir(), senderID, cc.Logger)
	}

	if err != nil {
		return nil, err
	}

	return broadcast.New(transport, senderID, cc.Logger), nil
}
