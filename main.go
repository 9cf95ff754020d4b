package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/adapter/speech"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/adapter/telnyx"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/adapter/twilio"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/config"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/logger"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/policy"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/ratelimit"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/service"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/session"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/store"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/stream"
	transporthttp "github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/transport/http"
)

func main() {
	// .env is a local convenience; deployments set the environment directly.
	_ = godotenv.Load()

	// Load configuration. Missing secrets abort here, before anything binds.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	zlog.Info("starting call engine",
		zap.Int("port", cfg.HTTPPort),
		zap.String("carrier", cfg.VoiceCarrier),
		zap.String("speech_provider", cfg.SpeechProvider),
	)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL, zlog)
	if err != nil {
		zlog.Fatal("failed to initialize store", zap.Error(err))
	}
	defer db.Close()

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if recs, err := db.ListActive(bootCtx); err != nil {
		zlog.Warn("could not list persisted conversations", zap.Error(err))
	} else if len(recs) > 0 {
		zlog.Info("persisted conversations still inside chat window", zap.Int("count", len(recs)))
	}
	bootCancel()

	// Initialize rate limiter
	lim := ratelimit.New(ratelimit.Config{
		GlobalPerWindow: cfg.GlobalPerMinute,
		PhonePerWindow:  cfg.PhonePerMinute,
		ConvPerWindow:   cfg.ConvPerMinute,
		Window:          time.Minute,
		PhoneTTL:        cfg.PhoneBucketTTL,
	})
	defer lim.Close()

	// Initialize session manager
	mgr := session.NewManager(session.Config{
		InactivityTimeout: cfg.InactivityTimeout,
		ChatWindow:        cfg.ChatWindow,
		ChatWarningBefore: cfg.ChatWarningBefore,
	}, zlog)

	// Initialize voice carrier
	var voice service.VoiceCarrier
	switch cfg.VoiceCarrier {
	case config.CarrierTelnyx:
		voice = telnyx.NewVoice(telnyx.VoiceConfig{
			BaseURL:       telnyx.DefaultBaseURL,
			APIKey:        cfg.TelnyxAPIKey,
			ConnectionID:  cfg.TelnyxConnectionID,
			FromNumber:    cfg.TelnyxPhoneNumber,
			PublicBaseURL: cfg.PublicBaseURL,
			RingTimeout:   cfg.ConnectTimeout,
		}, zlog)
	default:
		voice = twilio.NewVoice(twilio.VoiceConfig{
			AccountSID:    cfg.TwilioAccountSID,
			AuthToken:     cfg.TwilioAuthToken,
			FromNumber:    cfg.TwilioPhoneNumber,
			PublicBaseURL: cfg.PublicBaseURL,
			RingTimeout:   cfg.ConnectTimeout,
		}, zlog)
	}

	// Chat always rides on Twilio Conversations regardless of voice carrier.
	msgr := twilio.NewMessenger(twilio.MessengerConfig{
		AccountSID:     cfg.TwilioAccountSID,
		AuthToken:      cfg.TwilioAuthToken,
		ServiceSID:     cfg.ConversationsService,
		WhatsAppNumber: cfg.TwilioWhatsAppNumber,
		TemplateSID:    cfg.TwilioTemplateSID,
	}, zlog)

	// Initialize speech vendor
	synth, err := speech.NewSynthesizer(cfg.SpeechProvider)
	if err != nil {
		zlog.Fatal("failed to initialize synthesizer", zap.Error(err))
	}
	recog, err := speech.NewRecognizer(cfg.SpeechProvider)
	if err != nil {
		zlog.Fatal("failed to initialize recognizer", zap.Error(err))
	}

	// Initialize dial policy
	policyContent := policy.DefaultPolicy
	if cfg.PolicyPath != "" {
		data, err := os.ReadFile(cfg.PolicyPath)
		if err != nil {
			zlog.Fatal("failed to read dial policy", zap.Error(err))
		}
		policyContent = string(data)
	}
	dialPolicy, err := policy.NewEngine(context.Background(), policyContent)
	if err != nil {
		zlog.Fatal("failed to initialize dial policy", zap.Error(err))
	}

	// Initialize service
	svc := service.New(cfg, service.Deps{
		Manager:    mgr,
		Store:      db,
		Limiter:    lim,
		Voice:      voice,
		Messenger:  msgr,
		Synth:      synth,
		Recognizer: recog,
		Policy:     dialPolicy,
	}, zlog)

	// Initialize media stream server
	media := stream.NewServer(mgr, svc, zlog)

	e, err := transporthttp.NewServer(cfg, svc, media, zlog)
	if err != nil {
		zlog.Fatal("failed to build http server", zap.Error(err))
	}

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server stopped", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("graceful shutdown failed", zap.Error(err))
	}

	zlog.Info("call engine stopped")
}
