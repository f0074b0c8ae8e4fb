// Package sbhconfig holds the typed, in-process tunables consumed by the
// core daemon components. It mirrors the teacher's config.Config /
// config.Default() split (config/config.go): a plain struct tree with
// JSON tags and a Default() constructor per concern. It does not read
// TOML, environment variables, or files — that parsing is an external
// collaborator's job; this package is only the typed target it fills in.
package sbhconfig

import "time"

// Config is the full in-process tunable surface for one daemon instance.
type Config struct {
	Pressure  PressureConfig  `json:"pressure"`
	Scanner   ScannerConfig   `json:"scanner"`
	Scoring   ScoringConfig   `json:"scoring"`
	Guardrail GuardrailConfig `json:"guardrail"`
	Policy    PolicyConfig    `json:"policy"`
	Ballast   BallastConfig   `json:"ballast"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Logger    LoggerConfig    `json:"logger"`
}

func Default() Config {
	return Config{
		Pressure:  DefaultPressureConfig(),
		Scanner:   DefaultScannerConfig(),
		Scoring:   DefaultScoringConfig(),
		Guardrail: DefaultGuardrailConfig(),
		Policy:    DefaultPolicyConfig(),
		Ballast:   DefaultBallastConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Logger:    DefaultLoggerConfig(),
	}
}

type PredictionConfig struct {
	Enabled                bool    `json:"enabled"`
	ActionHorizonMinutes   float64 `json:"action_horizon_minutes"`
	WarningHorizonMinutes  float64 `json:"warning_horizon_minutes"`
	MinConfidence          float64 `json:"min_confidence"`
	MinSamples             uint64  `json:"min_samples"`
	ImminentDangerMinutes  float64 `json:"imminent_danger_minutes"`
	CriticalDangerMinutes  float64 `json:"critical_danger_minutes"`
}

func DefaultPredictionConfig() PredictionConfig {
	return PredictionConfig{
		Enabled:               true,
		ActionHorizonMinutes:  30.0,
		WarningHorizonMinutes: 60.0,
		MinConfidence:         0.7,
		MinSamples:            5,
		ImminentDangerMinutes: 5.0,
		CriticalDangerMinutes: 2.0,
	}
}

type PressureConfig struct {
	GreenMinFreePct  float64          `json:"green_min_free_pct"`
	YellowMinFreePct float64          `json:"yellow_min_free_pct"`
	OrangeMinFreePct float64          `json:"orange_min_free_pct"`
	RedMinFreePct    float64          `json:"red_min_free_pct"`
	PollInterval     time.Duration    `json:"poll_interval_ms"`
	Prediction       PredictionConfig `json:"prediction"`
}

func DefaultPressureConfig() PressureConfig {
	return PressureConfig{
		GreenMinFreePct:  20.0,
		YellowMinFreePct: 14.0,
		OrangeMinFreePct: 10.0,
		RedMinFreePct:    6.0,
		PollInterval:     time.Second,
		Prediction:       DefaultPredictionConfig(),
	}
}

type ScannerConfig struct {
	RootPaths        []string `json:"root_paths"`
	ExcludedPaths    []string `json:"excluded_paths"`
	ProtectedPaths   []string `json:"protected_paths"`
	MinFileAge       time.Duration
	MaxDepth         int  `json:"max_depth"`
	Parallelism      int  `json:"parallelism"`
	FollowSymlinks   bool `json:"follow_symlinks"`
	CrossDevices     bool `json:"cross_devices"`
	DryRun           bool `json:"dry_run"`
	MaxDeleteBatch   int  `json:"max_delete_batch"`
}

func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		RootPaths: []string{"/data/projects", "/tmp"},
		ExcludedPaths: []string{
			"/", "/boot", "/etc", "/usr", "/bin", "/sbin", "/proc", "/sys", "/var/log",
		},
		ProtectedPaths: nil,
		MinFileAge:     30 * time.Minute,
		MaxDepth:       10,
		Parallelism:    2,
		FollowSymlinks: false,
		CrossDevices:   false,
		DryRun:         false,
		MaxDeleteBatch: 20,
	}
}

type ScoringConfig struct {
	MinScore          float64 `json:"min_score"`
	LocationWeight    float64 `json:"location_weight"`
	NameWeight        float64 `json:"name_weight"`
	AgeWeight         float64 `json:"age_weight"`
	SizeWeight        float64 `json:"size_weight"`
	StructureWeight   float64 `json:"structure_weight"`
	FalsePositiveLoss float64 `json:"false_positive_loss"`
	FalseNegativeLoss float64 `json:"false_negative_loss"`
	CalibrationFloor  float64 `json:"calibration_floor"`
}

func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		MinScore:          0.45,
		LocationWeight:    0.25,
		NameWeight:        0.25,
		AgeWeight:         0.20,
		SizeWeight:        0.15,
		StructureWeight:   0.15,
		FalsePositiveLoss: 100.0,
		FalseNegativeLoss: 30.0,
		CalibrationFloor:  0.55,
	}
}

type GuardrailConfig struct {
	MinObservations        int     `json:"min_observations"`
	WindowSize             int     `json:"window_size"`
	MaxRateError           float64 `json:"max_rate_error"`
	MinConservativeFraction float64 `json:"min_conservative_fraction"`
	EProcessThreshold      float64 `json:"e_process_threshold"`
	EProcessPenalty        float64 `json:"e_process_penalty"`
	EProcessReward         float64 `json:"e_process_reward"`
	RecoveryCleanWindows   int     `json:"recovery_clean_windows"`
}

func DefaultGuardrailConfig() GuardrailConfig {
	return GuardrailConfig{
		MinObservations:         10,
		WindowSize:              50,
		MaxRateError:            0.30,
		MinConservativeFraction: 0.70,
		EProcessThreshold:       20.0,
		EProcessPenalty:         1.5,
		EProcessReward:          0.8,
		RecoveryCleanWindows:    3,
	}
}

type PolicyConfig struct {
	InitialMode               string  `json:"initial_mode"`
	MaxCandidatesPerLoop       int     `json:"max_candidates_per_loop"`
	MaxHypotheticalDeletes     int     `json:"max_hypothetical_deletes"`
	MaxCanaryDeletesPerHour    int     `json:"max_canary_deletes_per_hour"`
	RecoveryCleanWindows       int     `json:"recovery_clean_windows"`
	CalibrationBreachWindows   int     `json:"calibration_breach_windows"`
	GuardPenalty               float64 `json:"guard_penalty"`
	LossDeleteUseful           float64 `json:"loss_delete_useful"`
	LossKeepAbandoned          float64 `json:"loss_keep_abandoned"`
	LossReview                 float64 `json:"loss_review"`
	KillSwitch                 bool    `json:"kill_switch"`
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		InitialMode:              "observe",
		MaxCandidatesPerLoop:     100,
		MaxHypotheticalDeletes:   25,
		MaxCanaryDeletesPerHour:  10,
		RecoveryCleanWindows:     3,
		CalibrationBreachWindows: 3,
		GuardPenalty:             50.0,
		LossDeleteUseful:         100.0,
		LossKeepAbandoned:        30.0,
		LossReview:               5.0,
		KillSwitch:               false,
	}
}

type BallastVolumeOverride struct {
	Enabled       bool   `json:"enabled"`
	FileCount     *int   `json:"file_count,omitempty"`
	FileSizeBytes *int64 `json:"file_size_bytes,omitempty"`
}

type BallastConfig struct {
	FileCount               int                              `json:"file_count"`
	FileSizeBytes           int64                            `json:"file_size_bytes"`
	ReplenishCooldownMinutes int                             `json:"replenish_cooldown_minutes"`
	AutoProvision           bool                             `json:"auto_provision"`
	Overrides               map[string]BallastVolumeOverride `json:"overrides"`
}

func DefaultBallastConfig() BallastConfig {
	return BallastConfig{
		FileCount:                10,
		FileSizeBytes:            1073741824,
		ReplenishCooldownMinutes: 30,
		AutoProvision:            true,
		Overrides:                map[string]BallastVolumeOverride{},
	}
}

func stripTrailingSlash(mount string) string {
	if len(mount) > 1 && mount[len(mount)-1] == '/' {
		return mount[:len(mount)-1]
	}
	return mount
}

// EffectiveFileCount resolves the per-volume override, falling back to the
// pool default when no override (or no count in the override) exists.
func (b BallastConfig) EffectiveFileCount(mountPath string) int {
	key := stripTrailingSlash(mountPath)
	if o, ok := b.Overrides[key]; ok && o.FileCount != nil {
		return *o.FileCount
	}
	return b.FileCount
}

func (b BallastConfig) EffectiveFileSizeBytes(mountPath string) int64 {
	key := stripTrailingSlash(mountPath)
	if o, ok := b.Overrides[key]; ok && o.FileSizeBytes != nil {
		return *o.FileSizeBytes
	}
	return b.FileSizeBytes
}

func (b BallastConfig) IsVolumeEnabled(mountPath string) bool {
	key := stripTrailingSlash(mountPath)
	if o, ok := b.Overrides[key]; ok {
		return o.Enabled
	}
	return true
}

type TelemetryConfig struct {
	FsCacheTTL     time.Duration
	EwmaBaseAlpha  float64 `json:"ewma_base_alpha"`
	EwmaMinAlpha   float64 `json:"ewma_min_alpha"`
	EwmaMaxAlpha   float64 `json:"ewma_max_alpha"`
	EwmaMinSamples uint64  `json:"ewma_min_samples"`
}

func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		FsCacheTTL:     time.Second,
		EwmaBaseAlpha:  0.30,
		EwmaMinAlpha:   0.10,
		EwmaMaxAlpha:   0.75,
		EwmaMinSamples: 3,
	}
}

type LoggerConfig struct {
	JsonlPath        string `json:"jsonl_path"`
	SqliteDSN        string `json:"sqlite_dsn"`
	MaxRotatedFiles  int    `json:"max_rotated_files"`
	ChannelCapacity  int    `json:"channel_capacity"`
}

func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		JsonlPath:       "activity.jsonl",
		SqliteDSN:       "sbh.db",
		MaxRotatedFiles: 5,
		ChannelCapacity: 1024,
	}
}
