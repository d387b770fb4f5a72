package app

import (
	"context"

	"trades-marketplace/internal/common/auth"
	"trades-marketplace/internal/common/aws"
	"trades-marketplace/internal/common/camunda"
	"trades-marketplace/internal/common/config"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/realtime"
	"trades-marketplace/internal/services/admin"
	"trades-marketplace/internal/services/applications"
	"trades-marketplace/internal/services/jobs"
	"trades-marketplace/internal/services/messaging"
	"trades-marketplace/internal/services/notifications"
	"trades-marketplace/internal/services/payments"
	"trades-marketplace/internal/services/reviews"
	"trades-marketplace/internal/services/search"
	"trades-marketplace/internal/services/users"
	notifyuser "trades-marketplace/internal/workers/communication/notify-user"
	refundescrow "trades-marketplace/internal/workers/payments/refund-escrow"
	releaseescrow "trades-marketplace/internal/workers/payments/release-escrow"
	recalculaterating "trades-marketplace/internal/workers/reviews/recalculate-rating"
	indexdocument "trades-marketplace/internal/workers/search/index-document"
)

const DefaultRealtimeChannel = "realtime:events"

// EngineRef forwards StartProcess to an engine assigned after the services are built.
// The in-process engine needs the services as task runners, and the services need an engine.
type EngineRef struct {
	camunda.Engine
}

// Components are the domain services of one process.
type Components struct {
	Tokens   *auth.TokenManager
	Denylist *auth.Denylist
	Broker   *realtime.Broker

	Users         *users.Service
	Jobs          *jobs.Service
	Applications  *applications.Service
	Messaging     *messaging.Service
	Payments      *payments.Service
	Reviews       *reviews.Service
	Search        *search.Service
	Indexer       *search.Indexer
	Notifications *notifications.Service
	Admin         *admin.Service
}

// NewComponents builds every service on top of infra. hub may be nil in processes that
// only publish realtime events.
func NewComponents(ctx context.Context, cfg *config.Config, infra *Infrastructure, engine camunda.Engine, hub *realtime.Hub, log logger.Logger) (*Components, error) {
	db := infra.Postgres.GetDB()
	rdb := infra.Redis.GetClient()
	es := infra.Elasticsearch.Client

	channel := cfg.Realtime.Channel
	if channel == "" {
		channel = DefaultRealtimeChannel
	}
	broker := realtime.NewBroker(rdb, channel, hub, log.WithFields(map[string]interface{}{"component": "realtime-broker"}))

	var email notifications.EmailSender
	var sms notifications.SMSSender
	if cfg.Notifications.Email.Enabled {
		ses, err := aws.NewSESClient(ctx, cfg.Notifications.AWS.Region, cfg.Notifications.Email.FromEmail)
		if err != nil {
			return nil, err
		}
		email = ses
	}
	if cfg.Notifications.SMS.Enabled {
		sns, err := aws.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			return nil, err
		}
		sms = sns
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, config.Seconds(cfg.Auth.TokenTTL))
	denylist := auth.NewDenylist(rdb)
	lockout := auth.NewLockout(rdb,
		cfg.Auth.Lockout.MaxAttempts,
		config.Seconds(cfg.Auth.Lockout.Window),
		config.Seconds(cfg.Auth.Lockout.Duration),
	)

	notifier := notifications.NewService(db, email, sms, broker, cfg.Notifications, log.WithFields(map[string]interface{}{"component": "notifications"}))
	indexer := search.NewIndexer(db, es, cfg.Search, log)

	return &Components{
		Tokens:   tokens,
		Denylist: denylist,
		Broker:   broker,

		Users:         users.NewService(db, tokens, lockout, denylist, engine, cfg.Auth, log.WithFields(map[string]interface{}{"component": "users"})),
		Jobs:          jobs.NewService(db, engine, log.WithFields(map[string]interface{}{"component": "jobs"})),
		Applications:  applications.NewService(db, engine, log.WithFields(map[string]interface{}{"component": "applications"})),
		Messaging:     messaging.NewService(db, broker, log.WithFields(map[string]interface{}{"component": "messaging"})),
		Payments:      payments.NewService(db, payments.NewHTTPProcessor(cfg.Payments), notifier, cfg.Payments, log.WithFields(map[string]interface{}{"component": "payments"})),
		Reviews:       reviews.NewService(db, rdb, engine, log.WithFields(map[string]interface{}{"component": "reviews"})),
		Search:        search.NewService(es, cfg.Search, log),
		Indexer:       indexer,
		Notifications: notifier,
		Admin:         admin.NewService(db, indexer, log.WithFields(map[string]interface{}{"component": "admin"})),
	}, nil
}

// Runners returns the service-task implementations backed by these components.
func (c *Components) Runners(cfg *config.Config, log logger.Logger) []camunda.Runner {
	return []camunda.Runner{
		notifyuser.NewHandler(notifyuser.LoadConfig(config.GetWorkerConfig(cfg, notifyuser.TaskType)), c.Notifications, log),
		releaseescrow.NewHandler(releaseescrow.LoadConfig(config.GetWorkerConfig(cfg, releaseescrow.TaskType)), c.Payments, log),
		refundescrow.NewHandler(refundescrow.LoadConfig(config.GetWorkerConfig(cfg, refundescrow.TaskType)), c.Payments, log),
		indexdocument.NewHandler(indexdocument.LoadConfig(config.GetWorkerConfig(cfg, indexdocument.TaskType)), c.Indexer, log),
		recalculaterating.NewHandler(recalculaterating.LoadConfig(config.GetWorkerConfig(cfg, recalculaterating.TaskType)), c.Reviews, log),
	}
}
