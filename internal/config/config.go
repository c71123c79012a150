package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8080"`
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/shellrelay.db"`
	LogPath      string `envconfig:"LOG_PATH" default:""`

	// Inbound authorization
	APIToken          string   `envconfig:"API_TOKEN" default:""`
	AuthorizedCallers []string `envconfig:"AUTHORIZED_CALLERS" default:""`
	MessageRateLimit  float64  `envconfig:"MESSAGE_RATE_LIMIT" default:"5"`
	MessageRateBurst  int      `envconfig:"MESSAGE_RATE_BURST" default:"20"`

	// Outbound delivery. ReplyMode is "sync" (result in the HTTP response)
	// or "async" (202 immediately, result sent through the notifier).
	NotifyURL     string        `envconfig:"NOTIFY_URL" default:""`
	NotifyTimeout time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"10s"`
	ReplyMode     string        `envconfig:"REPLY_MODE" default:"sync"`

	// Command policy. PolicyFile, when set, overrides both lists.
	DenyList            []string `envconfig:"DENY_LIST" default:""`
	InteractivePrefixes []string `envconfig:"INTERACTIVE_PREFIXES" default:""`
	PolicyFile          string   `envconfig:"POLICY_FILE" default:""`
	CommandMarker       string   `envconfig:"COMMAND_MARKER" default:""`
	Shell               string   `envconfig:"SHELL_PATH" default:"/bin/sh"`
	WorkDir             string   `envconfig:"WORK_DIR" default:""`
	// InteractivePipes runs non-login interactive commands without a
	// pseudo-terminal.
	InteractivePipes    bool     `envconfig:"INTERACTIVE_PIPES" default:"false"`

	// Session engine timings
	SessionIdleTimeout time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"5m"`
	SweepInterval      time.Duration `envconfig:"SWEEP_INTERVAL" default:"60s"`
	DebounceWindow     time.Duration `envconfig:"DEBOUNCE_WINDOW" default:"600ms"`
	NoOutputGrace      time.Duration `envconfig:"NO_OUTPUT_GRACE" default:"2s"`
	StillRunningGrace  time.Duration `envconfig:"STILL_RUNNING_GRACE" default:"5s"`
	LoginHardTimeout   time.Duration `envconfig:"LOGIN_HARD_TIMEOUT" default:"60s"`
	InteractiveTimeout time.Duration `envconfig:"INTERACTIVE_TIMEOUT" default:"10m"`
	OneShotTimeout     time.Duration `envconfig:"ONESHOT_TIMEOUT" default:"2m"`
	KillGrace          time.Duration `envconfig:"KILL_GRACE" default:"1500ms"`
	MaxOutputBytes     int           `envconfig:"MAX_OUTPUT_BYTES" default:"3500"`

	// Audit and recordings
	AuditRetentionDays int    `envconfig:"AUDIT_RETENTION_DAYS" default:"30"`
	RecordingDir       string `envconfig:"RECORDING_DIR" default:""`
	RecordingKey       string `envconfig:"RECORDING_KEY" default:""`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("SHELLRELAY", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if Cfg.PolicyFile != "" {
		pf, err := LoadPolicyFile(Cfg.PolicyFile)
		if err != nil {
			log.Fatalf("failed to load policy file: %v", err)
		}
		pf.Apply(&Cfg)
	}
}
