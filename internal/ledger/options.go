package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/provance/ledger/internal/entry"
	"github.com/provance/ledger/internal/queue"
	"github.com/provance/ledger/internal/writer"
)

// ErrInvalidOptions is wrapped into every option validation failure.
var ErrInvalidOptions = errors.New("ledger: invalid options")

// Options configures a ledger instance. GenesisHash and SecretKey are
// required; everything else has a sensible default.
type Options struct {
	// GenesisHash is the deployment-wide chain anchor: 64 lowercase hex
	// characters, immutable after first deployment.
	GenesisHash string

	// SecretKey is the HMAC key that seals entries. Non-empty. Never
	// logged, never persisted alongside entries.
	SecretKey []byte

	// QueueCapacity bounds the intent queue. Defaults to
	// queue.DefaultCapacity.
	QueueCapacity int

	// LeaseDuration is the writer lease TTL. Defaults to 30s.
	LeaseDuration time.Duration

	// LeaseRenewInterval is the heartbeat period. Must be shorter than
	// LeaseDuration. Defaults to 10s.
	LeaseRenewInterval time.Duration

	// RetryAttempts bounds persistence retries per entry beyond the
	// initial attempt. Defaults to 3 (delays of 2s, 4s, 8s).
	RetryAttempts int

	// RetryBase is the first retry delay; subsequent delays double.
	// Defaults to 2s.
	RetryBase time.Duration

	// LockResourceName is the lease resource guarding the writer role.
	// Defaults to "ledger_writer_lock_v1".
	LockResourceName string

	// WorkerID identifies this process in the lease record. Defaults to a
	// fresh UUID.
	WorkerID string

	// Logger receives structured operational logs. Defaults to a silent
	// logger.
	Logger *slog.Logger

	// Metrics, when non-nil, collects writer instrumentation.
	Metrics *writer.Metrics
}

// withDefaults returns o with zero-valued knobs replaced.
func (o Options) withDefaults() Options {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = queue.DefaultCapacity
	}
	if o.LeaseDuration <= 0 {
		o.LeaseDuration = writer.DefaultLeaseDuration
	}
	if o.LeaseRenewInterval <= 0 {
		o.LeaseRenewInterval = writer.DefaultRenewInterval
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = writer.DefaultRetryAttempts
	}
	if o.RetryBase <= 0 {
		o.RetryBase = writer.DefaultRetryBase
	}
	if o.LockResourceName == "" {
		o.LockResourceName = writer.DefaultLockResource
	}
	return o
}

// validate checks the options after defaulting. It fails at construction
// time so a misconfigured ledger never starts.
func (o Options) validate() error {
	if !entry.IsHexHash(o.GenesisHash) {
		return fmt.Errorf("%w: genesis_hash must match [0-9a-f]{64}", ErrInvalidOptions)
	}
	if len(o.SecretKey) == 0 {
		return fmt.Errorf("%w: secret_key must not be empty", ErrInvalidOptions)
	}
	if o.LeaseRenewInterval >= o.LeaseDuration {
		return fmt.Errorf("%w: lease_renew_interval (%s) must be shorter than lease_duration (%s)",
			ErrInvalidOptions, o.LeaseRenewInterval, o.LeaseDuration)
	}
	return nil
}
