// Command prfi bootstraps the PRFI pipeline: event ledger, anti-fraud
// guard, PoW miner, block store, scanner/batcher, and submitter/monitor,
// wired from CLI flags the way the teacher's cmd/kcn/main.go registers
// cli.Command entries from flag.Context rather than a config file (spec
// §6's Non-goals exclude a config-file format).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/urfave/cli"

	"github.com/sr-oliveiraa/prfi-api-tokenization/antifraud"
	"github.com/sr-oliveiraa/prfi-api-tokenization/block"
	"github.com/sr-oliveiraa/prfi-api-tokenization/config"
	"github.com/sr-oliveiraa/prfi-api-tokenization/crypto"
	"github.com/sr-oliveiraa/prfi-api-tokenization/ledger"
	"github.com/sr-oliveiraa/prfi-api-tokenization/log"
	"github.com/sr-oliveiraa/prfi-api-tokenization/miner"
	"github.com/sr-oliveiraa/prfi-api-tokenization/scanner"
	"github.com/sr-oliveiraa/prfi-api-tokenization/store"
	"github.com/sr-oliveiraa/prfi-api-tokenization/submitter"
)

var logger = log.NewModuleLogger("cmd")

func main() {
	out := colorable.NewColorableStdout()
	color.Output = out

	app := cli.NewApp()
	app.Name = "prfi"
	app.Usage = "ingest events into the PRFI ledger, mine proof-of-work blocks, and submit them on-chain"
	app.Flags = sharedFlags()
	app.Commands = []cli.Command{ingestCommand, submitCommand}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(out, color.RedString("fatal: %v", err))
		os.Exit(1)
	}
}

func sharedFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{Name: "private-key", Usage: "32-byte hex miner/submitter private key"},
		cli.StringFlag{Name: "secret-key", Usage: "HMAC secret for event signing/verification"},
		cli.StringFlag{Name: "blocks-directory", Value: config.DefaultConfig.Storage.BlocksDirectory},
		cli.StringFlag{Name: "ledger-directory", Value: "./ledger"},
		cli.IntFlag{Name: "min-difficulty", Value: config.DefaultConfig.Miner.MinDifficulty},
		cli.Uint64Flag{Name: "iteration-cap", Value: config.DefaultConfig.Miner.IterationCap},
	}
}

// bootstrap is the set of components every subcommand needs.
type bootstrap struct {
	cfg        config.Config
	keys       *crypto.KeyPair
	ledger     *ledger.Ledger
	blockStore store.BlockStore
	guard      *antifraud.Guard
	miner      *miner.Miner
}

func newBootstrap(c *cli.Context) (*bootstrap, error) {
	cfg := config.DefaultConfig
	cfg.Submitter.PrivateKey = c.GlobalString("private-key")
	cfg.Security.SecretKey = c.GlobalString("secret-key")
	cfg.Storage.BlocksDirectory = c.GlobalString("blocks-directory")
	cfg.Miner.MinDifficulty = c.GlobalInt("min-difficulty")
	cfg.Miner.IterationCap = c.GlobalUint64("iteration-cap")

	keys, err := crypto.KeyPairFromHex(cfg.Submitter.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("loading private key: %w", err)
	}

	led, err := ledger.Open(c.GlobalString("ledger-directory"))
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	blockStore, err := store.OpenFileStore(cfg.Storage.BlocksDirectory)
	if err != nil {
		led.Close()
		return nil, fmt.Errorf("opening block store: %w", err)
	}

	dup, err := antifraud.NewDuplicateFilter(1_000_000, 0.001)
	if err != nil {
		led.Close()
		blockStore.Close()
		return nil, fmt.Errorf("building duplicate filter: %w", err)
	}
	guard := antifraud.NewGuard(antifraud.DefaultConfig, antifraud.NewMemoryWindowStore(1024), dup)

	minerCfg := miner.DefaultConfig
	minerCfg.MinDifficulty = cfg.Miner.MinDifficulty
	minerCfg.IterationCap = cfg.Miner.IterationCap
	m := miner.New(keys, minerCfg, antifraud.DefaultScoringConfig)

	return &bootstrap{cfg: cfg, keys: keys, ledger: led, blockStore: blockStore, guard: guard, miner: m}, nil
}

func (b *bootstrap) Close() {
	b.ledger.Close()
	b.blockStore.Close()
}

var ingestCommand = cli.Command{
	Name:  "ingest",
	Usage: "append one successful event to a company's ledger, mining and storing a Block if a Batch just formed",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "company-id", Required: true},
		cli.StringFlag{Name: "event-id", Required: true},
		cli.IntFlag{Name: "status-code", Value: 200},
		cli.Int64Flag{Name: "duration-ms"},
		cli.IntFlag{Name: "response-size"},
		cli.StringFlag{Name: "payload", Usage: "raw payload bytes to hash and fraud-check"},
	},
	Action: runIngest,
}

func runIngest(c *cli.Context) error {
	b, err := newBootstrap(c)
	if err != nil {
		return err
	}
	defer b.Close()

	companyID := c.String("company-id")
	candidate := antifraud.Candidate{
		Miner:             b.keys.Address(),
		PayloadHash:       crypto.SHA256([]byte(c.String("payload"))),
		StatusCode:        c.Int("status-code"),
		RequestDurationMs: c.Int64("duration-ms"),
	}
	result, err := b.guard.Evaluate(context.Background(), candidate, time.Now())
	if err != nil {
		return fmt.Errorf("fraud guard: %w", err)
	}
	if result.Rejected {
		fmt.Println(color.YellowString("event rejected by fraud guard"), "reasons", result.Reasons)
		return nil
	}

	if _, err := b.ledger.RegisterCompany(companyID, companyID, b.keys.Address(), 1000); err != nil {
		return fmt.Errorf("registering company: %w", err)
	}

	appendResult, err := b.ledger.Append(companyID, ledger.Input{
		EventID:           c.String("event-id"),
		PayloadHash:       candidate.PayloadHash,
		StatusCode:        c.Int("status-code"),
		RequestDurationMs: c.Int64("duration-ms"),
		ResponseSize:      c.Int("response-size"),
	})
	if err != nil {
		return fmt.Errorf("ledger append: %w", err)
	}
	fmt.Println(color.GreenString("event recorded"), "record_id", appendResult.Record.RecordID)

	if appendResult.Batch == nil {
		return nil
	}

	blk, err := b.miner.Mine(context.Background(), miner.Input{
		BatchID:     appendResult.Batch.BatchID,
		CompanyID:   appendResult.Batch.CompanyID,
		EventsCount: uint64(appendResult.Batch.EventsCount),
		MerkleRoot:  appendResult.Batch.MerkleRoot,
	})
	if err != nil {
		return fmt.Errorf("mining: %w", err)
	}
	if err := b.blockStore.Put(blk); err != nil {
		return fmt.Errorf("storing block: %w", err)
	}
	fmt.Println(color.GreenString("block mined and stored"), "block_id", blk.BlockID, "difficulty", blk.Difficulty)
	return nil
}

var submitCommand = cli.Command{
	Name:  "submit",
	Usage: "scan the block store for eligible PENDING blocks, batch them, and submit the batches on-chain",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "rpc-url", Required: true},
		cli.StringFlag{Name: "contract-address", Required: true},
		cli.IntFlag{Name: "batch-size", Value: config.DefaultConfig.Submitter.BatchSize},
	},
	Action: runSubmit,
}

func runSubmit(c *cli.Context) error {
	b, err := newBootstrap(c)
	if err != nil {
		return err
	}
	defer b.Close()

	b.cfg.Submitter.RPCURL = c.String("rpc-url")
	b.cfg.Submitter.ContractAddress = c.String("contract-address")
	b.cfg.Submitter.BatchSize = c.Int("batch-size")

	scannerCfg := scanner.DefaultConfig
	scannerCfg.MinDifficulty = b.cfg.Miner.MinDifficulty
	scannerCfg.BatchSize = b.cfg.Submitter.BatchSize
	scn := scanner.New(b.blockStore, scannerCfg)

	rpc := submitter.NewHTTPRPCClient(b.cfg.Submitter.RPCURL, 0)
	subCfg := submitter.DefaultConfig
	subCfg.ContractAddress = b.cfg.Submitter.ContractAddress
	sub := submitter.New(rpc, b.keys, b.blockStore, subCfg)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logger.Info("shutdown requested")
		cancel()
	}()

	return scanAndSubmit(ctx, scannerCfg, scn, sub)
}

// scanAndSubmit drives C8 (scan/batch) into C9 (submit), one pass.
func scanAndSubmit(ctx context.Context, scannerCfg scanner.Config, scn *scanner.Scanner, sub *submitter.Submitter) error {
	blocks, report, err := scn.Scan()
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	for _, entry := range report.Entries {
		logger.Warn("block excluded from batch", "block_id", entry.BlockID, "reason", entry.Reason)
	}
	if len(blocks) == 0 {
		logger.Info("no eligible blocks to submit")
		return nil
	}

	batches := scannerCfg.Batch(blocks)
	for _, batch := range batches {
		batchBlocks := blocksByID(blocks, batch.BlockIDs)
		if err := sub.Submit(ctx, batch, batchBlocks); err != nil {
			logger.Error("submit failed", "submission_id", batch.SubmissionID, "err", err)
			continue
		}
		fmt.Println(color.GreenString("batch submitted"), "submission_id", batch.SubmissionID, "tx_hash", batch.TxHash)
	}
	return nil
}

func blocksByID(blocks []*block.Block, ids []string) []*block.Block {
	byID := make(map[string]*block.Block, len(blocks))
	for _, bl := range blocks {
		byID[bl.BlockID] = bl
	}
	out := make([]*block.Block, 0, len(ids))
	for _, id := range ids {
		if bl, ok := byID[id]; ok {
			out = append(out, bl)
		}
	}
	return out
}
