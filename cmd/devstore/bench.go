// Copyright 2024 The DevStore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devstore-io/devstore/pkg/device"
	"github.com/devstore-io/devstore/pkg/export"
	"github.com/devstore-io/devstore/pkg/logutil"
	"github.com/devstore-io/devstore/pkg/shm"
	"github.com/devstore-io/devstore/pkg/store"
	"github.com/devstore-io/devstore/pkg/txn"
	"github.com/devstore-io/devstore/pkg/types"
)

var benchKey = store.TableKey{Database: 1, Table: 1}

func benchSchema() *types.Schema {
	return types.NewSchema(
		types.ColDef{Name: "id", Width: 8, NotNull: true},
		types.ColDef{Name: "payload", Width: types.VarWidth},
	)
}

func newBenchStore() (*store.Store, *txn.Manager, error) {
	mgr := txn.NewManager()
	devBudget := cfg.ChunkSize * int64(cfg.MaxChunks)
	s, err := store.New(cfg, mgr, shm.NewMemService(),
		device.NewHostService(cfg.DeviceCount, devBudget), prometheus.DefaultRegisterer)
	if err != nil {
		return nil, nil, err
	}
	mgr.Subscribe(s.OnTxnEnd)
	return s, mgr, nil
}

func newBenchCommand() *cobra.Command {
	var (
		rows     int
		scanners int
		dumpFile string
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "load synthetic rows and scan them concurrently",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, mgr, err := newBenchStore()
			if err != nil {
				return err
			}
			if err := s.CreateTable(benchKey, benchSchema(), store.DefaultOptions()); err != nil {
				return err
			}

			loader := mgr.Start()
			ins, err := s.BeginInsert(loader, benchKey)
			if err != nil {
				return err
			}
			start := time.Now()
			payloads := []string{"alpha", "beta", "gamma", "delta"}
			for i := 0; i < rows; i++ {
				row := store.Row{
					store.Int64Datum(int64(i)),
					store.StringDatum(payloads[i%len(payloads)]),
				}
				if err := ins.Append(row); err != nil {
					return err
				}
			}
			if err := ins.Close(); err != nil {
				return err
			}
			if err := loader.Commit(); err != nil {
				return err
			}
			logutil.Info("load finished",
				zap.Int("rows", rows), zap.Duration("elapsed", time.Since(start)))

			start = time.Now()
			var g errgroup.Group
			for w := 0; w < scanners; w++ {
				g.Go(func() error {
					reader := mgr.Start()
					defer reader.Rollback()
					it, err := s.Scan(benchKey, reader.Snapshot(), nil)
					if err != nil {
						return err
					}
					var n int
					for {
						row, err := it.Next()
						if err != nil {
							return err
						}
						if row == nil {
							break
						}
						n++
					}
					if n != rows {
						return fmt.Errorf("scanned %d rows, want %d", n, rows)
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			logutil.Info("scan finished",
				zap.Int("scanners", scanners), zap.Duration("elapsed", time.Since(start)))

			snap := mgr.Start()
			defer snap.Rollback()
			nrows, nbytes, err := s.Stats(benchKey, snap.Snapshot())
			if err != nil {
				return err
			}
			logutil.Info("table stats", zap.Uint64("rows", nrows), zap.Uint64("bytes", nbytes))

			if dumpFile != "" {
				f, err := os.Create(dumpFile)
				if err != nil {
					return err
				}
				defer f.Close()
				if err := export.Write(f, s, benchKey, snap.Snapshot()); err != nil {
					return err
				}
				logutil.Info("dump written", zap.String("file", dumpFile))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&rows, "rows", 100000, "rows to load")
	cmd.Flags().IntVar(&scanners, "scanners", 4, "concurrent scan workers")
	cmd.Flags().StringVar(&dumpFile, "dump", "", "write an lz4 dump of the table")
	return cmd
}

func newRestoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <dump-file>",
		Short: "load an lz4 dump into a fresh store and report its stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, mgr, err := newBenchStore()
			if err != nil {
				return err
			}
			if err := s.CreateTable(benchKey, benchSchema(), store.DefaultOptions()); err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			t := mgr.Start()
			n, err := export.Read(f, s, benchKey, t)
			if err != nil {
				t.Rollback()
				return err
			}
			if err := t.Commit(); err != nil {
				return err
			}

			snap := mgr.Start()
			defer snap.Rollback()
			rows, bytes, err := s.Stats(benchKey, snap.Snapshot())
			if err != nil {
				return err
			}
			logutil.Info("restore finished",
				zap.Int("chunks", n), zap.Uint64("rows", rows), zap.Uint64("bytes", bytes))
			return nil
		},
	}
	return cmd
}
