// Command nxd is a minimal demonstration of wiring the fetch manager and
// weak-block cache together behind a config file and a scheduler ticker.
// It is integration glue, not a full node: the ChainView and
// ThinBlockPolicy implementations below are stand-ins for state a real
// node would own (header chain, sync progress, thin-block negotiation).
package main

import (
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/nxblock/nxd/config"
	"github.com/nxblock/nxd/fetch"
	"github.com/nxblock/nxd/weakblock"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "path to the TOML configuration file",
}

func main() {
	app := &cli.App{
		Name:  "nxd",
		Usage: "object-acquisition node daemon",
		Flags: []cli.Flag{configFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Crit("nxd exited with error", "err", err)
	}
}

func run(c *cli.Context) error {
	logger := log.New("cmd", "nxd")

	cfg := config.Default()
	if path := c.String(configFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	chain := &stubChain{nearSynced: true}
	thin := &stubThinPolicy{}

	manager := fetch.NewManager(cfg.Fetch, chain, thin)
	cache := weakblock.NewCache(cfg.Weakblock.ReassemblyCacheLen)

	tips := make(chan common.Hash, 8)
	sub := cache.SubscribeNewTip(tips)
	defer sub.Unsubscribe()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	logger.Info("nxd running", "weakblocks_enabled", cfg.Weakblock.Enable)
	for {
		select {
		case <-ticker.C:
			manager.SendRequests()
		case hash := <-tips:
			logger.Debug("new weak-block chain tip", "hash", hash)
		case err := <-sub.Err():
			return err
		}
	}
}

// stubChain is a placeholder ChainView: a real node supplies its header
// chain and sync-progress state here.
type stubChain struct {
	nearSynced bool
}

func (s *stubChain) NearSynced() bool            { return s.nearSynced }
func (s *stubChain) Regtest() bool               { return false }
func (s *stubChain) TrafficShapingEnabled() bool { return false }
func (s *stubChain) KnowsHeader(common.Hash) bool { return false }
func (s *stubChain) BestHeaderHash() common.Hash  { return common.Hash{} }

// stubThinPolicy disables thin-block fetching; a real node wires this to
// its negotiated peer capabilities and orphan pool.
type stubThinPolicy struct{}

func (stubThinPolicy) Enabled() bool                     { return false }
func (stubThinPolicy) HasDedicatedPeer() bool            { return false }
func (stubThinPolicy) TimerElapsed(common.Hash) bool     { return false }
func (stubThinPolicy) OrphanPoolHashes() []common.Hash   { return nil }
