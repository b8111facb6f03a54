package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/agent"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/audio"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/awsclient"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/config"
	httpserver "github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/httpserver"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/logging"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/rtc"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/signaling"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/storage"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/transcript"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/translate"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/tts"
)

func main() {
	log := logging.Init()
	defer logging.Sync()

	cfg := config.Load()

	baseCtx, cancelBase := context.WithTimeout(context.Background(), cfg.ServiceTimeout)
	awsCfg, err := awsconfig.LoadDefaultConfig(baseCtx, awsconfig.WithRegion(cfg.AWSRegion))
	cancelBase()
	if err != nil {
		log.Fatalw("load aws config", "error", err)
	}

	regions := awsclient.Regions{
		Default:    cfg.AWSRegion,
		Transcribe: cfg.TranscribeRegion,
		Translate:  cfg.TranslateRegion,
		Polly:      cfg.PollyRegion,
	}
	registry := awsclient.NewRegistry(awsCfg, regions, nil, log)
	onIDToken := func(string) {}
	if cfg.UseCognito() {
		cognito := awsclient.NewCognitoProvider(awsCfg, cfg.CognitoIdentityPoolID, cfg.CognitoUserPoolProvider)
		registry.SetProvider(cognito)
		onIDToken = func(token string) {
			cognito.SetToken(token)
			registry.Invalidate()
		}
		log.Infow("using identity pool credentials", "pool", cfg.CognitoIdentityPoolID)
	}

	var devices audio.Devices = audio.NoDevices{}
	if actx, err := audio.NewContext(); err != nil {
		log.Warnw("audio devices unavailable", "error", err)
	} else {
		defer actx.Close()
		devices = actx
	}

	translator := translate.New(func(ctx context.Context) (translate.API, error) {
		return registry.Translate(ctx)
	})
	synth := newSynthesizer(cfg, registry, log)
	assets, archive := newStorage(cfg, registry, log)
	streamer := transcript.NewAWSStreamer(registry.Transcribe)

	peers, err := rtc.NewPeerFactory(cfg.ICEServersJSON)
	if err != nil {
		log.Fatalw("webrtc api", "error", err)
	}

	factory := agent.MediaFactory{
		Devices:       devices,
		Assets:        assets,
		Streamer:      streamer,
		SpeakerDevice: cfg.SpeakerDevice,
		Timeout:       cfg.ServiceTimeout,
	}
	services := agent.Services{Translator: translator, Synthesizer: synth}
	if archive != nil {
		services.Archive = archive
	}
	settings := agent.SettingsFromConfig(cfg)

	ws := &signaling.Handler{
		Password: cfg.AuthPassword,
		Peers:    peers,
		NewCoordinator: func(n agent.Notifier, l *zap.SugaredLogger) *agent.Coordinator {
			return agent.NewCoordinator(factory, services, settings, n, cfg.ServiceTimeout, l)
		},
		OnIDToken: onIDToken,
		Log:       log.Named("signaling"),
	}

	srv := httpserver.New(cfg, httpserver.Deps{Signaling: ws, Translator: translator, Synthesizer: synth})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Infow("server listening", "addr", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server error", "error", err)
		}
	case sig := <-sigChan:
		log.Infow("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warnw("graceful shutdown failed", "error", err)
		_ = server.Close()
	}
}

func newSynthesizer(cfg config.Config, registry *awsclient.Registry, log *zap.SugaredLogger) tts.Synthesizer {
	if cfg.TTSProvider == "deepgram" {
		log.Infow("speech synthesis via deepgram", "model", cfg.DeepgramModel)
		return tts.NewDeepgram(cfg.DeepgramKey, cfg.DeepgramModel)
	}
	return tts.NewPolly(func(ctx context.Context) (tts.PollyAPI, error) {
		return registry.Polly(ctx)
	})
}

// newStorage wires asset loading and, when a bucket is configured, the
// transcript archive. S3 wins over Supabase for the archive.
func newStorage(cfg config.Config, registry *awsclient.Registry, log *zap.SugaredLogger) (*storage.Assets, *storage.Archive) {
	s3Blobs := storage.NewS3Blobs(func(ctx context.Context) (storage.S3API, error) {
		return registry.S3(ctx)
	})
	assets := &storage.Assets{S3: s3Blobs, HTTP: &http.Client{Timeout: cfg.ServiceTimeout}}

	var supa *storage.SupabaseBlobs
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceKey != "" {
		b, err := storage.NewSupabaseBlobs(cfg.SupabaseURL, cfg.SupabaseServiceKey)
		if err != nil {
			log.Warnw("supabase storage disabled", "error", err)
		} else {
			supa = b
			assets.Supabase = b
		}
	}

	switch {
	case cfg.ArchiveS3Bucket != "":
		return assets, storage.NewArchive(s3Blobs, cfg.ArchiveS3Bucket, "transcripts")
	case supa != nil && cfg.SupabaseBucket != "":
		return assets, storage.NewArchive(supa, cfg.SupabaseBucket, "transcripts")
	}
	return assets, nil
}
