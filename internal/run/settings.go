package run

import (
	"github.com/tiss-anexos/intake/internal/batch"
	"github.com/tiss-anexos/intake/internal/config"
	"github.com/tiss-anexos/intake/internal/loader"
	"github.com/tiss-anexos/intake/internal/submit"
)

// Settings are the pipeline knobs applied to every run.
type Settings struct {
	Loader loader.Options
	Batch  batch.Options
	Submit submit.Config
}

// SettingsFromConfig maps the application config onto pipeline settings.
// Events, metrics and callbacks are filled in by the manager.
func SettingsFromConfig(cfg *config.AppConfig) Settings {
	retryDelay := cfg.RetryDelay()
	if retryDelay == 0 {
		// A configured 0 turns the wait off
		retryDelay = submit.NoRetryDelay
	}

	return Settings{
		Loader: loader.Options{
			Policy:      loader.Policy(cfg.Intake.UnreadablePolicy),
			Concurrency: cfg.Intake.ReadConcurrency,
		},
		Batch: batch.Options{
			MaxSingleSize: cfg.MaxSingleSize(),
			GroupSize:     cfg.Batching.GroupSize,
			Order:         batch.Order(cfg.Batching.Order),
		},
		Submit: submit.Config{
			MaxAttempts:      cfg.Batching.MaxAttempts,
			RetryDelay:       retryDelay,
			BatchesPerMinute: float64(cfg.Batching.BatchesPerMinute),
			FailedBatchItems: submit.FailedBatchPolicy(cfg.Batching.FailedBatchItems),
		},
	}
}

// NewBackend builds the backend client described by cfg.
func NewBackend(cfg *config.AppConfig) *submit.Client {
	return submit.NewClient(cfg.SubmitURL(), cfg.LegacyURL(), cfg.RequestTimeout())
}
