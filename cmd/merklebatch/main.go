// Command merklebatch is the offline companion of merklebatchd: it runs the
// end-to-end demo, builds and checks proofs, and creates keystore wallets.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"

	"MerkleBatch-Chain/internal/batch"
	"MerkleBatch-Chain/internal/config"
	xerrors "MerkleBatch-Chain/internal/errors"
	"MerkleBatch-Chain/internal/proofs"
	"MerkleBatch-Chain/internal/service"
	"MerkleBatch-Chain/internal/storage/mysql"
	"MerkleBatch-Chain/internal/txn"
	"MerkleBatch-Chain/internal/wallet"
	"MerkleBatch-Chain/pkg/logger"
)

var errInvalidProof = errors.New("proof does not reconstruct the given root")

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "merklebatch:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "merklebatch",
		Usage: "Merkle commitments and atomic batch execution",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "configuration file (JSON or YAML)",
				EnvVars: []string{config.EnvConfigPath},
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			// stdout 保留给命令输出。
			if len(cfg.Logging.OutputPaths) == 0 {
				cfg.Logging.OutputPaths = []string{"stderr"}
			}
			return logger.Init(cfg.Logging)
		},
		Commands: []*cli.Command{
			demoCommand(),
			proveCommand(),
			verifyCommand(),
			walletCommand(),
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	return config.Default(), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type demoReport struct {
	Root        string          `json:"root"`
	BatchID     string          `json:"batch_id"`
	Executed    bool            `json:"executed"`
	FailedIndex int             `json:"failed_index"`
	Executions  []executionView `json:"executions"`
}

type executionView struct {
	Seq      uint64  `json:"seq"`
	Index    int     `json:"index"`
	Record   string  `json:"record"`
	Transfer *txn.Tx `json:"transfer,omitempty"`
}

func newExecutionView(entry batch.Entry) executionView {
	view := executionView{Seq: entry.Seq, Index: entry.Index, Record: string(entry.Record)}
	if tx, err := txn.Parse(entry.Record); err == nil {
		view.Transfer = &tx
	}
	return view
}

func demoCommand() *cli.Command {
	return &cli.Command{
		Name:  "demo",
		Usage: "sign a sample batch, commit its root and execute it",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "size", Value: batch.DefaultBatchSize, Usage: "number of sample transactions"},
			&cli.IntFlag{Name: "tamper", Value: -1, Usage: "corrupt the proof at this index before executing"},
		},
		Action: func(c *cli.Context) error {
			size := c.Int("size")
			if size < 1 {
				return xerrors.Newf(proofs.CodeInvalidBatchSize, "--size must be at least 1, got %d", size)
			}
			records := txn.SignBatch(txn.DemoBatch(size))

			svc := service.New(batch.NewEngine(batch.WithBatchSize(size)),
				service.WithRepository(mysql.NewMemoryBatchRepository(0)),
			)
			defer svc.Close()

			ctx := context.Background()
			commitment, err := svc.Commit(ctx, records)
			if err != nil {
				return err
			}
			if idx := c.Int("tamper"); idx >= 0 && idx < size && len(commitment.Proofs[idx]) > 0 {
				commitment.Proofs[idx][0].Sibling[0] ^= 0xff
			}

			outcome, err := svc.Execute(ctx, records, commitment.Proofs)
			if err != nil {
				return err
			}

			report := demoReport{
				Root:        commitment.Root.Hex(),
				BatchID:     outcome.BatchID,
				Executed:    outcome.Executed,
				FailedIndex: outcome.FailedIndex,
				Executions:  []executionView{},
			}
			for _, entry := range svc.Executions(0) {
				report.Executions = append(report.Executions, newExecutionView(entry))
			}
			return writeJSON(c.App.Writer, report)
		},
	}
}

type proveReport struct {
	Root   string   `json:"root"`
	Proofs []string `json:"proofs"`
}

func proveCommand() *cli.Command {
	return &cli.Command{
		Name:  "prove",
		Usage: "build the Merkle root and per-record proofs for a set of records",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "record", Aliases: []string{"r"}, Usage: "signed record (repeatable)"},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "file with one signed record per line"},
		},
		Action: func(c *cli.Context) error {
			records, err := collectRecords(c.StringSlice("record"), c.String("file"))
			if err != nil {
				return err
			}
			tree, err := proofs.Build(records)
			if err != nil {
				return err
			}
			report := proveReport{Root: tree.Root().Hex()}
			for _, p := range tree.Proofs() {
				raw, err := p.Bytes()
				if err != nil {
					return err
				}
				report.Proofs = append(report.Proofs, hexutil.Encode(raw))
			}
			return writeJSON(c.App.Writer, report)
		},
	}
}

func collectRecords(inline []string, path string) ([]proofs.Record, error) {
	var records []proofs.Record
	for _, r := range inline {
		records = append(records, proofs.Record(r))
	}
	if path == "" {
		return records, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		records = append(records, proofs.Record(line))
	}
	return records, scanner.Err()
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "check a single record against a proof and root",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "record", Required: true, Usage: "signed record"},
			&cli.StringFlag{Name: "proof", Required: true, Usage: "0x-hex concatenation of 33-byte proof steps"},
			&cli.StringFlag{Name: "root", Required: true, Usage: "0x-hex 32-byte root"},
		},
		Action: func(c *cli.Context) error {
			raw, err := hexutil.Decode(c.String("proof"))
			if err != nil {
				return fmt.Errorf("decode proof: %w", err)
			}
			proof, err := proofs.DecodeProofBytes(raw)
			if err != nil {
				return err
			}
			root, err := hexutil.Decode(c.String("root"))
			if err != nil {
				return fmt.Errorf("decode root: %w", err)
			}
			svc := service.New(nil)
			ok, err := svc.Verify(proofs.Record(c.String("record")), proof, root)
			if err != nil {
				return err
			}
			if err := writeJSON(c.App.Writer, map[string]bool{"valid": ok}); err != nil {
				return err
			}
			if !ok {
				return errInvalidProof
			}
			return nil
		},
	}
}

func passwordFlag() cli.Flag {
	return &cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"MERKLEBATCH_WALLET_PASSWORD"}, Usage: "keystore password"}
}

func walletCommand() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "manage encrypted keystore accounts",
		Subcommands: []*cli.Command{
			{
				Name:  "new",
				Usage: "create a new account and store it as an encrypted keystore file",
				Flags: []cli.Flag{
					passwordFlag(),
					&cli.StringFlag{Name: "dir", Usage: "keystore directory (defaults to wallet.keystore_dir)"},
					&cli.BoolFlag{Name: "light", Usage: "use light scrypt parameters"},
				},
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					dir := c.String("dir")
					if dir == "" {
						dir = cfg.Wallet.KeystoreDir
					}
					scrypt := cfg.Wallet.Scrypt
					if c.Bool("light") {
						scrypt = wallet.ScryptLight
					}
					w, err := wallet.Generate(c.String("password"), dir, scrypt)
					if err != nil {
						return err
					}
					return writeJSON(c.App.Writer, w)
				},
			},
			{
				Name:      "unlock",
				Usage:     "decrypt a keystore file and print the account it holds",
				ArgsUsage: "<keystore-file>",
				Flags:     []cli.Flag{passwordFlag()},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return xerrors.New(xerrors.CodeInvalidArgument, "expected exactly one keystore file")
					}
					w, err := wallet.Unlock(c.Args().First(), c.String("password"))
					if err != nil {
						return err
					}
					return writeJSON(c.App.Writer, w)
				},
			},
		},
	}
}
