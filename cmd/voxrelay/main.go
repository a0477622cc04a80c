package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/voxrelay/voxrelay/internal/config"
	"github.com/voxrelay/voxrelay/internal/provider"
	"github.com/voxrelay/voxrelay/internal/registry"
	"github.com/voxrelay/voxrelay/internal/server"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("voxrelay: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "voxrelay",
		Short: "Relay browser microphone audio to parallel transcription providers",
	}
	rootCmd.Version = version
	rootCmd.AddCommand(newServeCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configFile)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "config.yaml", "Configuration file path")
	return cmd
}

func runServe(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	reg := registry.New()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := reg.AttachRedis(rdb, cfg.Redis.Prefix); err != nil {
			log.Printf("Redis unavailable, registry runs in-memory only: %v", err)
		}
	}

	providers := buildProviders(cfg)
	authReady := false
	for _, tr := range providers {
		if tr.Available() {
			authReady = true
			break
		}
	}

	srv, err := server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		RecordingsDir:   cfg.Recordings.Dir,
		ProviderTimeout: time.Duration(cfg.Providers.TimeoutSeconds) * time.Second,
		AuthReady:       authReady,
		AuthInfo:        buildAuthInfo(cfg),
	}, reg, providers)
	if err != nil {
		return err
	}

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")
	srv.Stop()
	return nil
}

func buildProviders(cfg *config.Config) map[string]provider.Transcriber {
	p := cfg.Providers
	providers := map[string]provider.Transcriber{
		"google": provider.NewGoogleSTT(p.GoogleAPIKey, p.LanguageCode),
		"gemini": provider.NewGemini(p.GeminiAPIKey, p.GeminiModel),
		"vertex": provider.NewVertex(p.VertexProject, p.VertexLocation, p.VertexModel, p.VertexToken),
		"aws":    provider.NewAWSTranscribe(),
	}
	for key, tr := range providers {
		if !tr.Available() {
			log.Printf("Provider %s: no credentials, will be skipped", key)
		}
	}
	return providers
}

// buildAuthInfo assembles the masked credential summary shown to clients when
// they enable transcription.
func buildAuthInfo(cfg *config.Config) map[string]any {
	info := map[string]any{}
	if cfg.Providers.GoogleAPIKey != "" {
		info["google_api_key_masked"] = config.MaskSecret(cfg.Providers.GoogleAPIKey)
	}
	if cfg.Providers.GeminiAPIKey != "" {
		info["gemini_api_key_masked"] = config.MaskSecret(cfg.Providers.GeminiAPIKey)
	}
	if cfg.Providers.VertexProject != "" {
		info["project_id"] = cfg.Providers.VertexProject
	}
	return info
}
