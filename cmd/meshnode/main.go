// Command meshnode runs a single P2P intelligent delegation mesh node.
//
// Subcommand layout (one root command, one constructor per subcommand group)
// mirrors cmd/synnergy/main.go's rootCmd.AddCommand(...Cmd()) pattern.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"delegation-mesh/core"
	"delegation-mesh/pkg/config"
	"delegation-mesh/pkg/utils"
)

func main() {
	rootCmd := &cobra.Command{Use: "meshnode", Short: "run a delegation mesh node"}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(identityCmd())
	rootCmd.AddCommand(configCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

func loadConfig(env string) (*config.MeshConfig, error) {
	cfg, err := config.Load(env)
	if err != nil {
		return nil, utils.Wrap(err, "load config")
	}
	return cfg, nil
}

func buildMesh(cfg *config.MeshConfig, log *logrus.Logger) (*core.Mesh, error) {
	if cfg.Node.ID == "" {
		return nil, errors.New("node.id must be set")
	}
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, utils.Wrap(err, "generate identity key")
	}

	self := core.Identity{
		ID:           core.NodeID(cfg.Node.ID),
		Name:         cfg.Node.Name,
		BaseURL:      cfg.Node.BaseURL,
		Capabilities: make(map[string]struct{}),
		PublicKey:    pub,
		Version:      1,
	}

	params := core.MeshParams{
		Self:                     self,
		SharedSecret:             cfg.Node.SharedSecret,
		Deadline:                 time.Duration(cfg.Node.DeadlineMS) * time.Millisecond,
		SuspectedAfter:           time.Duration(cfg.Membership.SuspectedAfterMS) * time.Millisecond,
		UnreachableAfter:         time.Duration(cfg.Membership.UnreachableAfterMS) * time.Millisecond,
		EvictAfter:               time.Duration(cfg.Membership.EvictAfterMS) * time.Millisecond,
		SweepInterval:            time.Duration(cfg.Membership.SweepIntervalMS) * time.Millisecond,
		GossipFanoutK:            cfg.Gossip.FanoutK,
		GossipTick:               time.Duration(cfg.Gossip.TickMS) * time.Millisecond,
		RequireCredentials:       cfg.Credentials.RequireCredentials,
		MinEndorsements:          cfg.Credentials.MinEndorsements,
		TrustedIssuers:           make(map[core.NodeID]ed25519.PublicKey),
		EndorserKeys:             make(map[core.NodeID]ed25519.PublicKey),
		SlashFraction:            cfg.Escrow.SlashFraction,
		ReputationHalfLife:       time.Duration(cfg.Reputation.HalfLifeMS) * time.Millisecond,
		RouterScoreFloor:         cfg.Router.ScoreFloor,
		DecomposerMaxDepth:       cfg.Decomposer.MaxRecursionDepth,
		AuctionMaxBidsPerMinute:  cfg.Auction.MaxBidsPerNodePerMinute,
		AuctionFrontrunWindow:    time.Duration(cfg.Auction.FrontrunWindowMS) * time.Millisecond,
		FrictionThreshold:        cfg.Friction.Threshold,
		FrictionPromptsPerHour:   cfg.Friction.PromptsPerHour,
		FirebreakBaseDepth:       cfg.Firebreak.BaseDepth,
		ContractsPath:            cfg.Node.ContractsPath,
		QualityGatesCost:         cfg.Outcome.QualityGatesCost,
		ConsensusQuorumSize:      cfg.Consensus.QuorumSize,
		ConsensusQuorumThreshold: cfg.Consensus.QuorumThreshold,
		SabotageBurstWindow:      time.Duration(cfg.Sabotage.BurstWindowMS) * time.Millisecond,
		SabotageLedgerCap:        cfg.Sabotage.LedgerCap,
		SabotageLedgerTrimTo:     cfg.Sabotage.LedgerTrimTo,
		RedelegationMax:          cfg.Redelegation.MaxRedelegations,
		RedelegationCooldown:     time.Duration(cfg.Redelegation.CooldownMS) * time.Millisecond,
	}

	m := core.NewMesh(params, log)
	if cfg.Node.ContractsPath != "" {
		_ = m.LoadContracts()
	}
	return m, nil
}

func serveCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start the mesh node's HTTP transport and background loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(env)
			if err != nil {
				return err
			}
			log := newLogger(cfg.Logging.Level)

			m, err := buildMesh(cfg, log)
			if err != nil {
				return err
			}
			core.InitMesh(m)
			m.Start()
			defer m.Stop()

			healthTicker := time.NewTicker(5 * time.Second)
			defer healthTicker.Stop()
			done := make(chan struct{})
			go func() {
				for {
					select {
					case <-healthTicker.C:
						m.HealthTick(time.Now())
					case <-done:
						return
					}
				}
			}()

			srv := &http.Server{Addr: cfg.Node.ListenAddr, Handler: m.Server()}
			errCh := make(chan error, 1)
			go func() {
				log.WithFields(logrus.Fields{"addr": cfg.Node.ListenAddr, "node": cfg.Node.ID}).Info("mesh node listening")
				errCh <- srv.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-sigCh:
				log.Info("shutting down")
				close(done)
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "config environment overlay (config/<env>.yaml)")
	return cmd
}

func identityCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "print the node's self-identity and a freshly generated session id",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(env)
			if err != nil {
				return err
			}
			fmt.Printf("node_id=%s name=%s base_url=%s session=%s\n", cfg.Node.ID, cfg.Node.Name, cfg.Node.BaseURL, uuid.NewString())
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "config environment overlay (config/<env>.yaml)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "configuration inspection"}
	show := &cobra.Command{
		Use:   "show [env]",
		Short: "print the resolved configuration",
		Run: func(cmd *cobra.Command, args []string) {
			env := ""
			if len(args) > 0 {
				env = args[0]
			}
			cfg, err := loadConfig(env)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			fmt.Printf("%+v\n", cfg)
		},
	}
	cmd.AddCommand(show)
	return cmd
}
