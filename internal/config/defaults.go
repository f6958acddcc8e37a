package config

const (
	// DriverSQLite selects the embedded SQLite store.
	DriverSQLite = "sqlite"
	// DriverPostgres selects the PostgreSQL store.
	DriverPostgres = "postgres"

	// RecoveryResume requeues interrupted jobs without deleting anything.
	RecoveryResume = "resume"
	// RecoveryDestructive wipes active jobs for a clean slate.
	RecoveryDestructive = "destructive"
)

const (
	defaultDataDir               = "~/.local/share/cardmint"
	defaultLogDir                = "~/.local/share/cardmint/logs"
	defaultIntakeDir             = "~/.local/share/cardmint/intake"
	defaultExportDir             = "~/.local/share/cardmint/exports"
	defaultStoreFile             = "cardmint.db"
	defaultMaxOpenConns          = 8
	defaultWorkerCount           = 2
	defaultQueuePollInterval     = 2
	defaultErrorRetryInterval    = 5
	defaultRetryBackoff          = 15
	defaultLeaseTimeout          = 120
	defaultMaxRetries            = 3
	defaultMaxPptFailures        = 5
	defaultUnmatchedThreshold    = 0.35
	defaultAdmissionMaxDepth     = 200
	defaultAdmissionRate         = 5
	defaultAdmissionBurst        = 10
	defaultAPIBind               = "127.0.0.1:7610"
	defaultClassifierTimeout     = 30
	defaultEventBufferSize       = 64
	defaultRedisChannel          = "cardmint:job_events"
	defaultWakeChannel           = "cardmint:wake"
	defaultAMQPExchange          = "cardmint.events"
	defaultAMQPRoutingKey        = "scan_jobs.status"
	defaultNotifyRequestTimeout  = 10
	defaultNotifyDedupWindow     = 600
	defaultNotifyDedupCapacity   = 256
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultRecoveryPolicy        = RecoveryResume
	defaultStoreDriver           = DriverSQLite
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			IntakeDir: defaultIntakeDir,
			ExportDir: defaultExportDir,
		},
		Store: Store{
			Driver:       defaultStoreDriver,
			MaxOpenConns: defaultMaxOpenConns,
		},
		Workflow: Workflow{
			WorkerCount:        defaultWorkerCount,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			RetryBackoff:       defaultRetryBackoff,
			LeaseTimeout:       defaultLeaseTimeout,
			MaxRetries:         defaultMaxRetries,
			MaxPptFailures:     defaultMaxPptFailures,
			UnmatchedThreshold: defaultUnmatchedThreshold,
		},
		Recovery: Recovery{
			Policy: defaultRecoveryPolicy,
		},
		Admission: Admission{
			MaxQueueDepth:     defaultAdmissionMaxDepth,
			RequestsPerSecond: defaultAdmissionRate,
			Burst:             defaultAdmissionBurst,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Classifier: Classifier{
			TimeoutSeconds: defaultClassifierTimeout,
		},
		Events: Events{
			BufferSize:     defaultEventBufferSize,
			RedisChannel:   defaultRedisChannel,
			WakeChannel:    defaultWakeChannel,
			AMQPExchange:   defaultAMQPExchange,
			AMQPRoutingKey: defaultAMQPRoutingKey,
		},
		Notifications: Notifications{
			RequestTimeout:     defaultNotifyRequestTimeout,
			OperatorPending:    true,
			Failures:           true,
			DedupWindowSeconds: defaultNotifyDedupWindow,
			DedupCapacity:      defaultNotifyDedupCapacity,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
