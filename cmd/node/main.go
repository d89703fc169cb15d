// Command node runs one peer of a Meridian ledger.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meridianledger/meridian/config"
	"github.com/meridianledger/meridian/consensus"
	"github.com/meridianledger/meridian/consensus/blocksync"
	"github.com/meridianledger/meridian/core"
	"github.com/meridianledger/meridian/crypto"
	"github.com/meridianledger/meridian/crypto/certgen"
	"github.com/meridianledger/meridian/events"
	"github.com/meridianledger/meridian/executor"
	"github.com/meridianledger/meridian/executor/builtin"
	"github.com/meridianledger/meridian/genesis"
	"github.com/meridianledger/meridian/kura"
	"github.com/meridianledger/meridian/metrics"
	"github.com/meridianledger/meridian/network"
	"github.com/meridianledger/meridian/queue"
	"github.com/meridianledger/meridian/state"
	"github.com/meridianledger/meridian/topology"
	"github.com/meridianledger/meridian/txexec"
	"github.com/meridianledger/meridian/wallet"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgPath, keyPath string

	root := &cobra.Command{
		Use:   "node",
		Short: "Run a Meridian BFT ledger peer",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to config file")
	root.PersistentFlags().StringVar(&keyPath, "key", "validator.key", "path to keystore file")

	root.AddCommand(startCmd(&cfgPath, &keyPath))
	root.AddCommand(genKeyCmd(&keyPath))
	root.AddCommand(genCertsCmd(&cfgPath))
	return root
}

func genKeyCmd(keyPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Generate a new validator key and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			password := keystorePassword()
			w, err := wallet.Generate()
			if err != nil {
				return err
			}
			if err := wallet.SaveKey(*keyPath, password, w.PrivKey()); err != nil {
				return err
			}
			fmt.Printf("Generated key. Public key (peer identity): %s\n", w.PubKey())
			fmt.Printf("Saved to: %s\n", *keyPath)
			return nil
		},
	}
}

func genCertsCmd(cfgPath *string) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "gencerts",
		Short: "Generate a CA and node TLS certs into a directory and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if err := certgen.GenerateAll(outDir, cfg.NodeID, nil); err != nil {
				return fmt.Errorf("gencerts: %w", err)
			}
			fmt.Printf("Certificates generated in %s for node %q\n", outDir, cfg.NodeID)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "./certs", "directory to write certificates into")
	return cmd
}

func startCmd(cfgPath, keyPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the node's consensus, network and metrics services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), *cfgPath, *keyPath)
		},
	}
}

func keystorePassword() string {
	password := os.Getenv("MERIDIAN_PASSWORD")
	if password == "" {
		fmt.Fprintln(os.Stderr, "WARNING: MERIDIAN_PASSWORD not set — keystore will use an empty password")
	}
	return password
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfgPath, keyPath string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	runID := uuid.NewString()
	log := logger.Sugar().With("run_id", runID)
	log.Info("starting node")

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	privKey, err := wallet.LoadKey(keyPath, keystorePassword())
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}
	peerID := core.PeerID(privKey.Public().Hex())

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	store, err := kura.Open(cfg.DataDir + "/blocks")
	if err != nil {
		return fmt.Errorf("open kura store: %w", err)
	}
	defer store.Close()

	st := state.New(cfg.ChainID, cfg.Parameters.ToState(), nil)
	if err := replayState(store, st); err != nil {
		return fmt.Errorf("replay state: %w", err)
	}

	eng := txexec.New(executor.New(), builtin.Default(), nil)

	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if tlsCfg != nil {
		log.Info("mTLS enabled for P2P")
	}

	m := metrics.New()
	txQueue := queue.New(4096)
	p2pAddr := fmt.Sprintf(":%d", cfg.P2PPort)
	node := network.NewNode(cfg.NodeID, p2pAddr, txQueue, tlsCfg, log.Desugar().Sugar())
	node.SetAcceptor(func(tx *core.SignedTransaction) (*core.AcceptedTransaction, error) {
		if len(tx.Signatures) == 0 {
			return nil, fmt.Errorf("transaction carries no signature")
		}
		authorKey, err := crypto.PubKeyFromHex(tx.Signatures[0].PublicKey)
		if err != nil {
			return nil, fmt.Errorf("decode signer key: %w", err)
		}
		ttl := time.Duration(tx.TTL) * time.Millisecond
		if err := cfg.Parameters.ToState().ValidateTTL(ttl); err != nil {
			return nil, fmt.Errorf("reject transaction: %w", err)
		}
		return core.Accept(tx, cfg.ChainID, time.Now(), authorKey, acceptanceLimits(cfg))
	})

	if err := node.Start(); err != nil {
		return fmt.Errorf("p2p start: %w", err)
	}
	defer node.Stop()
	log.Infow("listening", "addr", p2pAddr, "peer_id", peerID)

	peerAddrs := map[core.PeerID]string{peerID: p2pAddr}
	for _, sp := range cfg.SeedPeers {
		peerAddrs[core.PeerID(sp.ID)] = sp.Addr
	}

	if st.Height() == 0 {
		if err := joinChain(ctx, cfg, store, st, eng, node, privKey, log); err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
	}

	trustedPeers := st.World.View().TrustedPeers.Get()
	topo := topology.New(trustedPeers)
	cat := blocksync.New(store, st, eng, topo)
	network.NewSyncer(node, store, cat)

	for _, sp := range cfg.SeedPeers {
		if err := node.AddPeer(sp.ID, sp.Addr); err != nil {
			log.Warnw("seed peer unreachable", "id", sp.ID, "addr", sp.Addr, "err", err)
		}
	}

	sumeragi := consensus.New(
		cfg.ChainID, peerID, privKey, topo, store, st, eng, node, events.NewEmitter(),
		acceptanceLimits(cfg), cfg.RoundTimeout, cfg.ViewChangeTimeout, log.Desugar().Sugar(),
	)
	sumeragi.SetPeerAddrs(peerAddrs)
	sumeragi.SetMetrics(m)

	group, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	group.Go(func() error {
		<-gctx.Done()
		close(done)
		return nil
	})
	group.Go(func() error {
		sumeragi.Run(txQueue, done)
		return nil
	})
	if cfg.MetricsAddr != "" {
		srv := m.Server(cfg.MetricsAddr)
		group.Go(func() error { return metrics.Run(gctx, srv) })
		log.Infow("metrics listening", "addr", cfg.MetricsAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("shutting down")
	case <-ctx.Done():
	}
	return group.Wait()
}

// replayState rebuilds the in-memory state from every block already
// committed to kura, so a restarted node resumes from its last height
// instead of re-running genesis. These blocks are this node's own past
// commits, not peer-supplied, so Replay skips the quorum check ApplyBlock
// performs for blocks arriving over the network; the Categorizer's own
// topology tracking is scratch, discarded once replay finishes.
func replayState(store *kura.Store, st *state.State) error {
	cat := blocksync.New(store, st, txexec.New(executor.New(), builtin.Default(), nil), topology.New(nil))
	return store.Iterate(func(block *core.Block) (bool, error) {
		if block.Header.Height <= st.Height() {
			return true, nil
		}
		if err := cat.Replay(block); err != nil {
			return false, fmt.Errorf("replay block %d: %w", block.Header.Height, err)
		}
		return true, nil
	})
}

// joinChain bootstraps or waits for genesis, the two halves of
// init_listen_for_genesis: the designated bootstrap peer builds block #0,
// every other peer blocks until it arrives over the network.
func joinChain(ctx context.Context, cfg *config.Config, store *kura.Store, st *state.State, eng *txexec.Engine, node *network.Node, priv crypto.PrivateKey, log *zap.SugaredLogger) error {
	if cfg.IsBootstrap {
		doc, err := genesis.Load(cfg.GenesisFile)
		if err != nil {
			return err
		}
		block, err := genesis.Bootstrap(doc, priv, store, st, eng, node)
		if err != nil {
			return err
		}
		log.Infow("genesis committed", "hash", block.Header.Hash())
		return nil
	}

	log.Info("waiting for genesis from bootstrap peer")
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()
	block, err := genesis.WaitForGenesis(priv.Public(), store, st, eng, node, time.Second, done)
	if err != nil {
		return err
	}
	log.Infow("genesis received", "hash", block.Header.Hash())
	return nil
}

func acceptanceLimits(cfg *config.Config) core.AcceptanceLimits {
	return core.AcceptanceLimits{
		MaxInstructions: cfg.Parameters.MaxInstructionsPerTransaction,
		MaxClockDrift:   cfg.Parameters.MaxClockDrift,
	}
}
