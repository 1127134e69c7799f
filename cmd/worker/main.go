// Worker consumes security events from Kafka, pushes them to Loki for the
// audit dashboards, and forwards high-severity ones to the alert webhook.
// Set KAFKA_BROKERS, SECURITY_KAFKA_TOPIC, KAFKA_GROUP_ID, and LOKI_URL;
// ALERT_WEBHOOK_URL and ALERT_SEVERITY enable alerting.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"truxe/security-core/internal/alert"
	"truxe/security-core/internal/config"
	"truxe/security-core/internal/event"
	"truxe/security-core/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}
	if cfg.LokiURL == "" {
		log.Fatal("worker: LOKI_URL is required")
	}

	topic := cfg.EventKafkaTopic
	if topic == "" {
		topic = "truxe-security-events"
	}
	groupID := cfg.KafkaGroupID
	if groupID == "" {
		groupID = "truxe-security-worker"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := telemetry.NewProviders(ctx, cfg.OTLPEndpoint, "truxe-security-worker", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	notifier := alert.NewWebhookNotifier(cfg.AlertWebhookURL, event.ParseSeverity(cfg.AlertSeverity))
	otlpSink := event.NewOTLPSink(providers.LoggerProvider)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("worker: shutting down...")
		cancel()
	}()

	log.Printf("worker: consuming from %s (group %s), pushing to %s", topic, groupID, cfg.LokiURL)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("worker: stopped")
				return
			}
			log.Printf("worker: kafka read error: %v", err)
			continue
		}

		pushCtx, pushCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := event.PushEventToLoki(pushCtx, cfg.LokiURL, msg.Value); err != nil {
			log.Printf("worker: loki push failed: %v", err)
		}

		var ev event.SecurityEvent
		if err := json.Unmarshal(msg.Value, &ev); err == nil {
			if err := otlpSink.Write(pushCtx, &ev); err != nil {
				log.Printf("worker: otlp export failed: %v", err)
			}
			notifier.Notify(pushCtx, &ev)
		}
		pushCancel()
	}
}
