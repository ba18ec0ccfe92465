// Command server runs the mail-sync control plane: it loads configuration,
// opens the PostgreSQL metadata store, the blob store and metadata cache,
// rehydrates any accounts this host was already syncing before a restart,
// and serves the RPC control surface until terminated.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/mailsync/core/internal/accountsync"
	"github.com/mailsync/core/internal/blobstore"
	"github.com/mailsync/core/internal/config"
	"github.com/mailsync/core/internal/credentials"
	"github.com/mailsync/core/internal/crypto"
	"github.com/mailsync/core/internal/foldersync"
	"github.com/mailsync/core/internal/logging"
	"github.com/mailsync/core/internal/metacache"
	"github.com/mailsync/core/internal/remotemailbox"
	"github.com/mailsync/core/internal/rpc"
	"github.com/mailsync/core/internal/searchindex"
	"github.com/mailsync/core/internal/store/postgres"
	"github.com/mailsync/core/internal/syncservice"
)

func main() {
	bootLog := logging.New("development")
	cfg, err := config.NewConfig()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("load config")
	}

	log := logging.New(cfg.Environment)
	log.Info().Str("sync_host", cfg.SyncHost).Msg("starting mail-sync server")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dbPool, err := postgres.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to database")
	}
	defer postgres.CloseConnection(dbPool)
	metadataStore := postgres.New(dbPool)

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		log.Fatal().Err(err).Msg("create encryptor")
	}

	blobs, err := blobstore.Open(cfg.BlobStorePath)
	if err != nil {
		log.Fatal().Err(err).Msg("open blob store")
	}
	defer blobs.Close()

	meta, err := metacache.Open(cfg.MetaCachePath)
	if err != nil {
		log.Fatal().Err(err).Msg("open metadata cache")
	}
	defer meta.Close()

	pool := remotemailbox.NewPool(log, true)

	credResolver := credentials.New(metadataStore, encryptor, credentials.OAuthConfig{
		ClientID:     os.Getenv("SYNC_GOOGLE_CLIENT_ID"),
		ClientSecret: os.Getenv("SYNC_GOOGLE_CLIENT_SECRET"),
	})
	notifier := searchindex.New(cfg.SearchServerLoc)

	accountDeps := accountsync.Deps{
		Pool: pool,
		Worker: foldersync.Deps{
			Pool:          pool,
			Store:         metadataStore,
			Blobs:         blobs,
			Meta:          meta,
			Credentials:   credResolver,
			Search:        notifier,
			PollFrequency: cfg.PollFrequency,
			Log:           log,
		},
		Credentials:   credResolver,
		Search:        notifier,
		PollFrequency: cfg.PollFrequency,
		Heartbeat:     cfg.SupervisorHeartbeat,
		Log:           log,
	}

	svc := syncservice.New(metadataStore, accountDeps, cfg.SyncHost, log)
	if err := svc.Rehydrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("rehydrate sync service")
	}
	defer svc.Shutdown()

	rpcServer, err := rpc.NewServer(svc, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build rpc server")
	}

	ln, err := net.Listen("tcp", ":"+cfg.RPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.RPCPort).Msg("listen for rpc connections")
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("rpc server listening")

	if err := rpcServer.Serve(ctx, ln); err != nil {
		log.Fatal().Err(err).Msg("rpc server stopped unexpectedly")
	}
	log.Info().Msg("mail-sync server shut down")
}
