// Package session constructs one account session from a 128-hex account
// handle and exposes the public command surface (upload, download,
// delete, move, rename, createFolder, getFolderData) plus the action
// queue accessor (C9), grounded on the teacher's App/Wire split: a
// constructor that wires every dependency and a Close that tears them
// down in reverse order.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/opacitylabs/vault/internal/audit"
	"github.com/opacitylabs/vault/internal/broker"
	cacheredis "github.com/opacitylabs/vault/internal/cache/redis"
	"github.com/opacitylabs/vault/internal/chunkio"
	"github.com/opacitylabs/vault/internal/config"
	"github.com/opacitylabs/vault/internal/domain"
	"github.com/opacitylabs/vault/internal/keys"
	"github.com/opacitylabs/vault/internal/notify"
	"github.com/opacitylabs/vault/internal/progress"
	"github.com/opacitylabs/vault/internal/queue"
	"github.com/opacitylabs/vault/internal/queue/redisqueue"
	"github.com/opacitylabs/vault/internal/ratelimit"
	"github.com/opacitylabs/vault/internal/ratelimit/redislimiter"
	"github.com/opacitylabs/vault/internal/reqsign"
)

// defaultRateLimitWindow and defaultRateLimit bound the session's own
// outbound call rate against the broker when no Redis-backed limiter is
// configured.
const (
	defaultRateLimit       = 10
	defaultRateLimitWindow = time.Second
)

// Session is the root object for one authenticated account. It owns the
// broker client, the chunk pipeline, the action queue, and the optional
// audit/notify/progress side channels, and exposes the command surface
// spec.md section 6's REPL drives.
type Session struct {
	master keys.MasterKey
	client *broker.Client
	logger *slog.Logger

	uploader   *chunkio.Uploader
	downloader *chunkio.Downloader

	limiter domain.RateLimiter
	audit   domain.AuditStore
	notify  *notify.Notifier
	hub     *progress.Hub
	queue   *queue.Queue

	closers []func()
}

// New verifies handle against the broker's account-data endpoint (a 404
// is fatal, domain.ErrInvalidHandle) and wires every dependency
// configured in cfg. Call Close when done to release them.
func New(ctx context.Context, cfg *config.Config, handle string, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "session"))

	master, err := keys.ParseAccountHandle(handle)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	signer, err := reqsign.New(master)
	if err != nil {
		return nil, fmt.Errorf("session: build signer: %w", err)
	}

	baseURL := cfg.Broker.BaseURL
	if baseURL == "" {
		baseURL = broker.DefaultBaseURL
	}
	client := broker.New(baseURL, signer, logger)

	if _, err := client.AccountData(ctx); err != nil {
		return nil, fmt.Errorf("session: verify handle: %w", err)
	}

	s := &Session{
		master:  master,
		client:  client,
		logger:  logger,
		limiter: ratelimit.New(defaultRateLimit, defaultRateLimitWindow),
		audit:   audit.NoopStore{},
	}

	var queueBacking queue.Backing
	if cfg.Redis.Enabled {
		redisClient, err := cacheredis.New(ctx, cacheredis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("session: redis: %w", err)
		}
		s.limiter = redislimiter.New(redisClient.Underlying())
		// The same Redis instance also backs the action queue, so several
		// vault CLI processes pointed at one Redis share a single queue
		// (spec.md 4.9) instead of each keeping its own in-memory one.
		queueBacking = redisqueue.New(redisClient.Underlying())
		s.closers = append(s.closers, func() { _ = redisClient.Close() })
	}

	if cfg.Postgres.Enabled {
		auditClient, err := audit.New(ctx, audit.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("session: audit client: %w", err)
		}
		if cfg.Postgres.RunMigrations {
			if err := auditClient.RunMigrations(ctx); err != nil {
				auditClient.Close()
				return nil, fmt.Errorf("session: audit migrations: %w", err)
			}
		}
		s.audit = audit.NewPostgresStore(auditClient.Pool())
		s.closers = append(s.closers, auditClient.Close)
	}

	if cfg.Progress.Enabled {
		hub := progress.NewHub(logger)
		s.hub = hub
		go hub.Run(ctx)
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	s.notify = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	s.uploader = chunkio.NewUploader(client, logger, s.progressFunc("upload"))
	s.downloader = chunkio.NewDownloader(client, logger, s.progressFunc("download"))

	if queueBacking != nil {
		s.queue = queue.NewDistributed(queueBacking, s.handleAction, logger)
	} else {
		s.queue = queue.New(64, s.handleAction, logger)
	}
	go s.queue.Run(ctx)
	s.closers = append(s.closers, s.queue.Close)

	return s, nil
}

// Close tears down session resources in reverse registration order. Safe
// to call multiple times.
func (s *Session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// progressFunc returns a chunkio.ProgressFunc that forwards to the
// progress hub when one is configured, and is a no-op otherwise.
func (s *Session) progressFunc(op string) chunkio.ProgressFunc {
	return func(_ string, fileHandle string, partIndex, totalParts int) {
		if s.hub == nil {
			return
		}
		s.hub.Publish(op, fileHandle, partIndex, totalParts)
	}
}

// Queue exposes the action queue accessor (spec.md 4.9): front ends MAY
// enqueue mutating actions for responsiveness, or call the session
// methods directly and bypass it.
func (s *Session) Queue() *queue.Queue { return s.queue }

// splitParent splits an absolute path into its parent path and base
// name. The root path has no parent and returns ok=false.
func splitParent(p string) (parent, name string, ok bool) {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return "", "", false
	}
	return path.Dir(clean), path.Base(clean), true
}

func logAudit(ctx context.Context, store domain.AuditStore, logger *slog.Logger, event string, detail map[string]any) {
	if err := store.Log(ctx, event, detail); err != nil {
		logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (s *Session) notifyEvent(ctx context.Context, event, title, message string) {
	if s.notify == nil {
		return
	}
	if err := s.notify.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notify failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// handleAction dispatches one dequeued action to the matching session
// command. Per-item errors are logged by the queue and do not stop the
// consumer (spec.md 4.8/section 7 recovery policy).
func (s *Session) handleAction(ctx context.Context, action queue.Action) error {
	switch a := action.(type) {
	case queue.Upload:
		_, _, err := s.Upload(ctx, a.DestPath, a.Name, a.LocalPath)
		return err
	case queue.Delete:
		return s.Delete(ctx, a.FolderPath, a.Name, a.IsFolder)
	case queue.Move:
		return s.Move(ctx, a.SrcPath, a.Name, a.DestPath, a.NewName)
	default:
		return fmt.Errorf("session: unknown queue action %T", action)
	}
}

