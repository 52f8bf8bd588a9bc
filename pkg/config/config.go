// Package config provides a reusable loader for delegation-mesh configuration
// files and environment variables, mirroring the reference synnergy-network
// pkg/config package's viper-based layered loading.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"delegation-mesh/pkg/utils"
)

// MeshConfig is the unified configuration for a single mesh node. It mirrors
// the structure of the YAML files under config/.
type MeshConfig struct {
	Node struct {
		ID            string `mapstructure:"id" yaml:"id"`
		Name          string `mapstructure:"name" yaml:"name"`
		BaseURL       string `mapstructure:"base_url" yaml:"base_url"`
		ListenAddr    string `mapstructure:"listen_addr" yaml:"listen_addr"`
		SharedSecret  string `mapstructure:"shared_secret" yaml:"shared_secret"`
		DeadlineMS    int    `mapstructure:"deadline_ms" yaml:"deadline_ms"`
		ContractsPath string `mapstructure:"contracts_path" yaml:"contracts_path"`
	} `mapstructure:"node" yaml:"node"`

	Membership struct {
		SuspectedAfterMS   int `mapstructure:"suspected_after_ms" yaml:"suspected_after_ms"`
		UnreachableAfterMS int `mapstructure:"unreachable_after_ms" yaml:"unreachable_after_ms"`
		EvictAfterMS       int `mapstructure:"evict_after_ms" yaml:"evict_after_ms"`
		SweepIntervalMS    int `mapstructure:"sweep_interval_ms" yaml:"sweep_interval_ms"`
		HeartbeatInterval  int `mapstructure:"heartbeat_interval_ms" yaml:"heartbeat_interval_ms"`
	} `mapstructure:"membership" yaml:"membership"`

	Gossip struct {
		Enabled      bool `mapstructure:"enabled" yaml:"enabled"`
		FanoutK      int  `mapstructure:"fanout_k" yaml:"fanout_k"`
		TickMS       int  `mapstructure:"tick_ms" yaml:"tick_ms"`
	} `mapstructure:"gossip" yaml:"gossip"`

	Credentials struct {
		RequireCredentials bool `mapstructure:"require_credentials" yaml:"require_credentials"`
		MinEndorsements    int  `mapstructure:"min_endorsements" yaml:"min_endorsements"`
	} `mapstructure:"credentials" yaml:"credentials"`

	Escrow struct {
		SlashFraction float64 `mapstructure:"slash_fraction" yaml:"slash_fraction"`
	} `mapstructure:"escrow" yaml:"escrow"`

	Reputation struct {
		HalfLifeMS int `mapstructure:"half_life_ms" yaml:"half_life_ms"`
	} `mapstructure:"reputation" yaml:"reputation"`

	Router struct {
		ScoreFloor float64 `mapstructure:"score_floor" yaml:"score_floor"`
	} `mapstructure:"router" yaml:"router"`

	Decomposer struct {
		MaxRecursionDepth int `mapstructure:"max_recursion_depth" yaml:"max_recursion_depth"`
	} `mapstructure:"decomposer" yaml:"decomposer"`

	Auction struct {
		MaxBidsPerNodePerMinute int `mapstructure:"max_bids_per_node_per_minute" yaml:"max_bids_per_node_per_minute"`
		FrontrunWindowMS        int `mapstructure:"frontrun_window_ms" yaml:"frontrun_window_ms"`
	} `mapstructure:"auction" yaml:"auction"`

	Friction struct {
		Threshold        float64 `mapstructure:"threshold" yaml:"threshold"`
		PromptsPerHour   int     `mapstructure:"prompts_per_hour" yaml:"prompts_per_hour"`
		DigestIntervalMS int     `mapstructure:"digest_interval_ms" yaml:"digest_interval_ms"`
	} `mapstructure:"friction" yaml:"friction"`

	Firebreak struct {
		BaseDepth int `mapstructure:"base_depth" yaml:"base_depth"`
	} `mapstructure:"firebreak" yaml:"firebreak"`

	Outcome struct {
		QualityGatesCost bool `mapstructure:"quality_gates_cost" yaml:"quality_gates_cost"`
	} `mapstructure:"outcome" yaml:"outcome"`

	Consensus struct {
		QuorumSize      int     `mapstructure:"quorum_size" yaml:"quorum_size"`
		QuorumThreshold float64 `mapstructure:"quorum_threshold" yaml:"quorum_threshold"`
	} `mapstructure:"consensus" yaml:"consensus"`

	Sabotage struct {
		BurstWindowMS  int `mapstructure:"burst_window_ms" yaml:"burst_window_ms"`
		LedgerCap      int `mapstructure:"ledger_cap" yaml:"ledger_cap"`
		LedgerTrimTo   int `mapstructure:"ledger_trim_to" yaml:"ledger_trim_to"`
	} `mapstructure:"sabotage" yaml:"sabotage"`

	Redelegation struct {
		MaxRedelegations      int `mapstructure:"max_redelegations" yaml:"max_redelegations"`
		CooldownMS            int `mapstructure:"cooldown_ms" yaml:"cooldown_ms"`
	} `mapstructure:"redelegation" yaml:"redelegation"`

	Logging struct {
		Level string `mapstructure:"level" yaml:"level"`
	} `mapstructure:"logging" yaml:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig MeshConfig

// Defaults applies documented default values to a zero-value MeshConfig.
// Callers normally get these via Load; Defaults is exported so tests can
// build a config without a file on disk.
func Defaults() MeshConfig {
	var c MeshConfig
	c.Node.DeadlineMS = 10_000
	c.Membership.SuspectedAfterMS = 15_000
	c.Membership.UnreachableAfterMS = 60_000
	c.Membership.EvictAfterMS = 300_000
	c.Membership.SweepIntervalMS = 5_000
	c.Membership.HeartbeatInterval = 5_000
	c.Gossip.FanoutK = 3
	c.Gossip.TickMS = 10_000
	c.Credentials.MinEndorsements = 0
	c.Escrow.SlashFraction = 0.5
	c.Reputation.HalfLifeMS = int(7 * 24 * 3600 * 1000)
	c.Router.ScoreFloor = 0.2
	c.Decomposer.MaxRecursionDepth = 3
	c.Auction.MaxBidsPerNodePerMinute = 10
	c.Auction.FrontrunWindowMS = 2_000
	c.Friction.Threshold = 0.6
	c.Friction.PromptsPerHour = 6
	c.Friction.DigestIntervalMS = 3_600_000
	c.Firebreak.BaseDepth = 4
	c.Consensus.QuorumSize = 3
	c.Consensus.QuorumThreshold = 2.0 / 3.0
	c.Sabotage.BurstWindowMS = 60_000
	c.Sabotage.LedgerCap = 10_000
	c.Sabotage.LedgerTrimTo = 5_000
	c.Redelegation.MaxRedelegations = 2
	c.Redelegation.CooldownMS = 5_000
	c.Logging.Level = "info"
	c.Node.ContractsPath = "contracts.jsonl"
	return c
}

// Load reads configuration files and merges any environment specific
// overrides, then stores the result in AppConfig.
func Load(env string) (*MeshConfig, error) {
	AppConfig = Defaults()

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	_ = godotenv.Load(".env")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the MESH_ENV environment variable.
func LoadFromEnv() (*MeshConfig, error) {
	return Load(utils.EnvOrDefault("MESH_ENV", ""))
}
