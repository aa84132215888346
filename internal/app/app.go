package app

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"barflow/config"
	"barflow/internal/metrics"
	"barflow/internal/notify"
	"barflow/internal/pipeline"
	"barflow/internal/recorder"
	"barflow/internal/secrets"
	"barflow/logger"
	"barflow/reader"
	"barflow/reader/alpaca"
	"barflow/reader/synthetic"
	"barflow/storage"
)

// App holds every component wired from one configuration.
type App struct {
	Config  *config.Config
	Log     *logger.Log
	Metrics *metrics.Metrics

	provider reader.Provider
	store    *storage.ObjectStore
	ses      notify.Sink
	logSink  notify.Sink
	recorder recorder.Recorder
}

func loadAWS(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return cfg, nil
}

// Build constructs the components named by cfg. A *config.ConfigError or
// *pipeline.CredentialError means the job cannot run at all.
func Build(ctx context.Context, cfg *config.Config, log *logger.Log) (*App, error) {
	a := &App{
		Config:  cfg,
		Log:     log,
		Metrics: metrics.New(),
		logSink: notify.NewLogSink(log),
	}
	blog := log.WithComponent("bootstrap")

	if cfg.Metrics.CloudWatch.Enabled {
		awsCfg, err := loadAWS(ctx, cfg.Metrics.CloudWatch.Region)
		if err != nil {
			return nil, &config.ConfigError{Field: "metrics.cloudwatch", Err: err}
		}
		log.EnableCloudWatch(cloudwatch.NewFromConfig(awsCfg), cfg.Metrics.CloudWatch.Namespace)
	}

	p, err := a.buildProvider(ctx)
	if err != nil {
		return nil, err
	}
	a.provider = p

	backend, err := a.buildBackend(ctx)
	if err != nil {
		return nil, &config.ConfigError{Field: "storage", Err: err}
	}
	a.store = storage.New(backend, log)

	if cfg.Notify.Backend == "ses" {
		awsCfg, err := loadAWS(ctx, cfg.Notify.Region)
		if err != nil {
			return nil, &config.ConfigError{Field: "notify", Err: err}
		}
		a.ses = notify.NewSESSink(awsCfg, cfg.Notify.SourceEmail, cfg.Notify.DestinationEmail, log)
	}

	a.recorder = recorder.NewNoopRecorder()
	if cfg.Recorder.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Recorder.SQLitePath, log)
		if err != nil {
			blog.WithError(err).Warn("init sqlite recorder failed, using noop")
		} else {
			a.recorder = sr
		}
	}

	blog.WithFields(logger.Fields{
		"provider": a.provider.Name(),
		"storage":  backend.Name(),
		"notify":   cfg.Notify.Backend,
		"symbols":  len(cfg.Symbols),
	}).Info("components initialized")
	return a, nil
}

func (a *App) buildProvider(ctx context.Context) (reader.Provider, error) {
	pc := a.Config.Provider
	if pc.Kind == "synthetic" {
		return synthetic.NewReader(a.Log), nil
	}

	var sp secrets.Provider
	switch a.Config.Secrets.Backend {
	case "aws":
		awsCfg, err := loadAWS(ctx, a.Config.Secrets.Region)
		if err != nil {
			return nil, &pipeline.CredentialError{Secret: pc.SecretName, Err: err}
		}
		sp = secrets.NewAWSProvider(awsCfg, a.Log)
	default:
		sp = secrets.NewFileProvider(a.Config.Secrets.FilePath, a.Log)
	}

	values, err := sp.GetSecret(ctx, pc.SecretName)
	if err != nil {
		return nil, &pipeline.CredentialError{Secret: pc.SecretName, Err: err}
	}
	creds := alpaca.Credentials{KeyID: values[pc.KeyIDField], SecretKey: values[pc.SecretKeyField]}
	if creds.KeyID == "" || creds.SecretKey == "" {
		return nil, &pipeline.CredentialError{
			Secret: pc.SecretName,
			Err:    fmt.Errorf("secret is missing %s or %s", pc.KeyIDField, pc.SecretKeyField),
		}
	}
	return alpaca.NewReader(pc, creds, a.Log), nil
}

func (a *App) buildBackend(ctx context.Context) (storage.Backend, error) {
	sc := a.Config.Storage
	if sc.Backend == "s3" {
		return storage.NewS3Backend(ctx, sc.S3)
	}
	return storage.NewLocalBackend(sc.Local.Dir)
}

// Run executes one job. simulateEmail routes the notification to the log
// even when SES is configured.
func (a *App) Run(ctx context.Context, simulateEmail bool) (*pipeline.Report, error) {
	sink := a.logSink
	if a.ses != nil && !simulateEmail {
		sink = a.ses
	}
	job, err := pipeline.NewJob(a.Config, pipeline.Deps{
		Provider: a.provider,
		Store:    a.store,
		Sink:     sink,
		Recorder: a.recorder,
		Metrics:  a.Metrics,
	}, a.Log)
	if err != nil {
		return nil, err
	}
	return job.Run(ctx)
}

func (a *App) Close() error {
	return a.recorder.Close()
}
