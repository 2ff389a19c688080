// README: Entry point; loads config, wires services, starts HTTP server and notification workers.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"wander/internal/config"
	"wander/internal/events"
	httptransport "wander/internal/http"
	"wander/internal/http/live"
	"wander/internal/infra"
	"wander/internal/maps"
	"wander/internal/modules/matching"
	"wander/internal/modules/notification"
	"wander/internal/modules/pricing"
	"wander/internal/modules/profile"
	"wander/internal/modules/rating"
	"wander/internal/modules/session"
	"wander/internal/modules/settlement"
	"wander/internal/modules/verification"
	"wander/internal/modules/walkrequest"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := infra.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.WithError(err).Fatal("postgres init")
	}
	defer dbPool.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		log.WithError(err).Fatal("redis init")
	}
	defer redisClient.Close()

	fbApp, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	switch {
	case err != nil && cfg.Auth.Mode == "firebase":
		log.WithError(err).Fatal("firebase init")
	case err != nil:
		log.WithError(err).Warn("firebase init failed, push notifications are logged only")
	}

	var verifier infra.TokenVerifier
	switch cfg.Auth.Mode {
	case "jwt":
		verifier, err = infra.NewJWTVerifier(cfg.Auth.JWTSecret)
	default:
		verifier, err = infra.NewFirebaseVerifier(ctx, fbApp)
	}
	if err != nil {
		log.WithError(err).Fatal("token verifier init")
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := infra.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kp.Close()
		publisher = kp
	}

	// Notifications
	notifyStore := notification.NewStore(dbPool)
	var queue notification.Queue = notification.NewMemoryQueue(cfg.Notify.QueueSize)
	if cfg.Notify.UseRedisQueue {
		queue = notification.NewRedisQueue(redisClient)
	}
	notifySvc := notification.NewService(notifyStore, queue, cfg.Notify.Retention, log.WithField("module", "notification"))

	// Profiles and geo index
	profileStore := profile.NewStore(dbPool)
	matchingStore := matching.NewStore(redisClient)
	profileSvc := profile.NewService(profileStore, matchingStore, cfg.Fare.Currency, log.WithField("module", "profile"))

	var pusher notification.Pusher = infra.LogPusher{Log: log.WithField("module", "push")}
	if fbApp != nil {
		fcm, err := infra.NewFCMPusher(ctx, fbApp, profileStore)
		if err != nil {
			log.WithError(err).Warn("fcm unavailable, push notifications are logged only")
		} else {
			pusher = fcm
		}
	}

	// Fares
	pricingSvc := pricing.NewService(pricing.NewStore(dbPool), pricing.DefaultRate(cfg.Fare.BaseRatePerHalfHour, cfg.Fare.CommissionRate, cfg.Fare.Currency))
	if err := pricingSvc.Refresh(ctx); err != nil {
		log.WithError(err).Warn("fare rate table unavailable, using configured defaults")
	}

	// Walk requests
	walkSvc := walkrequest.NewService(walkrequest.NewStore(dbPool), walkrequest.Options{
		OTPLength:      cfg.OTP.Length,
		OTPTTL:         cfg.OTP.TTL,
		OTPMaxAttempts: cfg.OTP.MaxAttempts,
		PendingLimit:   cfg.Matching.PendingLimit,
	}, walkrequest.Deps{
		Notifier: notifySvc,
		Walkers:  profileSvc,
		Events:   publisher,
		Log:      log.WithField("module", "walkrequest"),
	})

	matchingSvc := matching.NewService(matchingStore, walkSvc, profileSvc, notifySvc, cfg.Matching, log.WithField("module", "matching"))

	// Sessions
	var geocoder session.Geocoder
	if cfg.Maps.APIKey != "" {
		g, err := maps.NewGeocoder(cfg.Maps.APIKey)
		if err != nil {
			log.WithError(err).Warn("maps unavailable, SOS alerts carry coordinates only")
		} else {
			geocoder = g
		}
	}
	hub := live.NewHub(log.WithField("module", "live"))
	sessionSvc := session.NewService(session.NewStore(dbPool), session.Deps{
		Requests: walkSvc,
		Walkers:  profileSvc,
		Fares:    pricingSvc,
		Notifier: notifySvc,
		Geocoder: geocoder,
		Live:     hub,
		Events:   publisher,
		Log:      log.WithField("module", "session"),
	})
	walkSvc.SetSessions(sessionSvc)

	// Settlement
	var gateway settlement.Gateway
	if cfg.PaymentsEnabled() {
		gateway = infra.NewRazorpayGateway(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret)
	} else {
		log.Warn("razorpay not configured, payment endpoints will fail")
	}
	settlementSvc := settlement.NewService(settlement.NewStore(dbPool), settlement.Options{
		KeyID:    cfg.Razorpay.KeyID,
		Currency: cfg.Fare.Currency,
		Timeout:  cfg.Razorpay.Timeout,
	}, settlement.Deps{
		Gateway:  gateway,
		Sessions: sessionSvc,
		Requests: walkSvc,
		Walkers:  profileSvc,
		Fares:    pricingSvc,
		Notifier: notifySvc,
		Events:   publisher,
		Log:      log.WithField("module", "settlement"),
	})

	ratingSvc := rating.NewService(rating.NewStore(dbPool), sessionSvc, profileSvc, notifySvc, log.WithField("module", "rating"))

	// Phone verification
	var sender verification.Sender = infra.LogSender{Log: log.WithField("module", "sms")}
	if cfg.SMSEnabled() {
		sender = infra.NewTwilioSender(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber)
	}
	verifySvc := verification.NewService(verification.NewRedisStore(redisClient), sender, log.WithField("module", "verification"))

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Verifier:     verifier,
		Walks:        walkSvc,
		Matching:     matchingSvc,
		Sessions:     sessionSvc,
		Settlements:  settlementSvc,
		Profiles:     profileSvc,
		Ratings:      ratingSvc,
		Inbox:        notifySvc,
		Verification: verifySvc,
		Live:         live.NewHandler(hub, sessionSvc, log.WithField("module", "live")).Serve,
		Ready: func(ctx context.Context) error {
			if err := dbPool.Ping(ctx); err != nil {
				return err
			}
			return redisClient.Ping(ctx).Err()
		},
		Log: log,
	})

	worker := notification.NewWorker(queue, notifyStore, pusher, cfg.Notify.DispatchTimeout, log.WithField("module", "notification_worker"))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx, cfg.Notify.Workers)
	}()

	server := httptransport.NewServer(cfg.HTTP.Addr, router, log)
	if err := server.Run(ctx); err != nil {
		log.WithError(err).Error("http server stopped")
		stop()
	}
	wg.Wait()
	log.Info("shutdown complete")
}
