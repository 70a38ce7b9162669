// Command engage-demo is an interactive console harness for the SDK.
// It connects to an engagement API (typically cmd/engage-mockserver),
// reads event names from stdin, and prints any interaction that
// targeting selects.
package main

import (
	"bufio"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/feedbackloop/engage-sdk/internal/api"
	"github.com/feedbackloop/engage-sdk/internal/backend"
	"github.com/feedbackloop/engage-sdk/internal/config"
	"github.com/feedbackloop/engage-sdk/internal/conversation"
	"github.com/feedbackloop/engage-sdk/internal/observability/metrics"
	"github.com/feedbackloop/engage-sdk/internal/payload"
	"github.com/feedbackloop/engage-sdk/internal/retrier"
	"github.com/feedbackloop/engage-sdk/internal/targeting"
	"github.com/feedbackloop/engage-sdk/pkg/logging"
)

// consolePresenter prints interactions instead of rendering UI.
type consolePresenter struct{}

func (p *consolePresenter) PresentInteraction(interaction targeting.Interaction) error {
	fmt.Printf("\n>>> interaction %q (%s): %s\n\n", interaction.ID, interaction.Type, string(interaction.Configuration))
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.AppKey == "" || cfg.AppSignature == "" {
		logger.Error("engage-demo requires ENGAGE_APP_KEY and ENGAGE_APP_SIGNATURE")
		os.Exit(1)
	}

	containerDir := cfg.ContainerDir
	if containerDir == "" {
		containerDir = filepath.Join(os.TempDir(), "engage-demo")
	}

	client, err := api.New(api.Config{
		BaseURL:      cfg.APIBaseURL,
		AppKey:       cfg.AppKey,
		AppSignature: cfg.AppSignature,
		Timeout:      cfg.RequestTimeout,
		Logger:       logger.Logger,
	})
	if err != nil {
		logger.Error("failed to create API client", "error", err)
		os.Exit(1)
	}

	sdkMetrics := metrics.NewSDKMetrics(nil)
	if cfg.MetricsPort != "" {
		go func() {
			logger.Info("metrics listening", "addr", ":"+cfg.MetricsPort)
			if err := http.ListenAndServe(":"+cfg.MetricsPort, promhttp.Handler()); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	policy := retrier.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Retryable:   api.IsTransient,
	}
	b := backend.New(backend.Config{
		Environment: conversation.Environment{
			OSName:     "go-demo",
			OSVersion:  "1.0",
			Locale:     "en_US",
			AppVersion: "1.0.0",
			AppBuild:   "1",
			SDKVersion: "0.9.0",
		},
		Client:       client,
		Logger:       logger,
		Metrics:      sdkMetrics,
		SaveInterval: cfg.SaveInterval,
		RetryPolicy:  &policy,
	})
	defer b.Close()

	b.SetPresenter(&consolePresenter{})

	if cfg.LocalManifestPath != "" {
		manifest, err := targeting.LoadManifestFile(cfg.LocalManifestPath)
		if err != nil {
			logger.Error("failed to load local manifest", "path", cfg.LocalManifestPath, "error", err)
			os.Exit(1)
		}
		logger.Info("using local manifest override", "path", cfg.LocalManifestPath)
		b.SetLocalManifest(manifest)
	}

	if err := b.Load(containerDir); err != nil {
		logger.Error("failed to load conversation", "dir", containerDir, "error", err)
		os.Exit(1)
	}

	b.Connect(conversation.AppCredentials{Key: cfg.AppKey, Signature: cfg.AppSignature}, func(ct backend.ConnectionType, err error) {
		if err != nil {
			logger.Error("connect failed", "error", err)
			return
		}
		logger.Info("connected", "source", ct.String())
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	fmt.Println("engage-demo: type an event name (e.g. launch), 'name <person name>', 'survey <id>', or 'quit'")
	b.Engage(targeting.NewEvent("launch"), nil)

	for {
		select {
		case <-quit:
			shutdown(b, logger)
			return
		case line, ok := <-lines:
			if !ok || line == "quit" || line == "exit" {
				shutdown(b, logger)
				return
			}
			if line == "" {
				continue
			}
			handleLine(b, line)
		}
	}
}

func handleLine(b *backend.Backend, line string) {
	switch {
	case strings.HasPrefix(line, "name "):
		name := strings.TrimPrefix(line, "name ")
		b.UpdatePerson(func(p *conversation.Person) { p.Name = name })
		fmt.Printf("person name set to %q\n", name)
	case strings.HasPrefix(line, "survey "):
		surveyID := strings.TrimPrefix(line, "survey ")
		b.SendSurveyResponse(payload.SurveyResponse{
			SurveyID: surveyID,
			Answers:  []conversation.Answer{{QuestionID: "q1", Value: "demo answer"}},
		})
		fmt.Printf("survey response queued for %q\n", surveyID)
	default:
		done := make(chan bool, 1)
		b.Engage(targeting.NewEvent(line), func(shown bool) { done <- shown })
		select {
		case shown := <-done:
			if !shown {
				fmt.Printf("no interaction for event %q\n", line)
			}
		case <-time.After(5 * time.Second):
			fmt.Printf("timed out engaging event %q\n", line)
		}
	}
}

func shutdown(b *backend.Backend, logger *logging.Logger) {
	logger.Info("shutting down")
	// Mirrors the app moving to the background: flush state before exit.
	b.DidEnterBackground()
}
