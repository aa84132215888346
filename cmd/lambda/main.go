package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"

	"barflow/config"
	"barflow/internal/app"
	"barflow/internal/pipeline"
	"barflow/logger"
)

// Response mirrors the API Gateway style result the function returns.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

type scheduledEvent struct {
	Source string `json:"source"`
}

// fromEventBridge reports whether the invocation came from a scheduled
// rule. Only those send real email; manual invocations log it.
func fromEventBridge(event json.RawMessage) bool {
	var e scheduledEvent
	if err := json.Unmarshal(event, &e); err != nil {
		return false
	}
	return e.Source == "aws.events"
}

func configPath() string {
	return config.ResolvePath(os.Getenv("BARFLOW_CONFIG"), "config/config.yml")
}

func handler(log *logger.Log) func(ctx context.Context, event json.RawMessage) (Response, error) {
	return func(ctx context.Context, event json.RawMessage) (Response, error) {
		log.WithComponent("lambda").Info("lambda_handler started")

		cfg, err := config.LoadConfig(configPath())
		if err != nil {
			log.WithError(err).Error("Failed to load configuration")
			return Response{StatusCode: 500, Body: "Failed to load configuration."}, nil
		}
		if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
			log.WithError(err).Warn("Failed to configure logger")
		}

		a, err := app.Build(ctx, cfg, log)
		if err != nil {
			var ce *pipeline.CredentialError
			if errors.As(err, &ce) {
				log.WithError(err).Error("Failed to retrieve Alpaca API credentials")
				return Response{StatusCode: 500, Body: "Failed to retrieve API credentials."}, nil
			}
			log.WithError(err).Error("Failed to initialize")
			return Response{StatusCode: 500, Body: "Failed to initialize."}, nil
		}
		defer a.Close()

		report, err := a.Run(ctx, !fromEventBridge(event))
		if err != nil {
			log.WithError(err).Error("run aborted")
		}
		if report == nil {
			return Response{StatusCode: 500, Body: "Run failed."}, nil
		}
		return Response{StatusCode: report.StatusCode, Body: report.Body}, nil
	}
}

func main() {
	log := logger.New()
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}
	lambda.Start(handler(log))
}
