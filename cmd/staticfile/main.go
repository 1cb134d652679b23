// Copyright 2025 The staticfile Authors
// This file is part of the staticfile library.
//
// The staticfile library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// The staticfile library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the staticfile library. If not, see <http://www.gnu.org/licenses/>.

// staticfile is a maintenance tool for static file directories: it lists
// segment contents, verifies file integrity, expires transaction history and
// dumps single entries.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/urfave/cli.v1"

	"github.com/ethfile/staticfile"
	"github.com/ethfile/staticfile/jar"
	"github.com/ethfile/staticfile/segments"
)

var (
	app = cli.NewApp()

	dirFlag = cli.StringFlag{
		Name:  "dir",
		Usage: "Static file directory to operate on",
		Value: ".",
	}
	blocksPerFileFlag = cli.Uint64Flag{
		Name:  "blocksperfile",
		Usage: "Fixed block range width the directory was created with",
		Value: segments.DefaultBlocksPerFile,
	}

	lsCommand = cli.Command{
		Action:    lsCmd,
		Name:      "ls",
		Usage:     "List segments, ranges and row counts",
		ArgsUsage: " ",
		Flags:     []cli.Flag{dirFlag, blocksPerFileFlag},
	}
	checkCommand = cli.Command{
		Action:    checkCmd,
		Name:      "check",
		Usage:     "Verify the integrity of every file in the directory",
		ArgsUsage: " ",
		Flags:     []cli.Flag{dirFlag},
	}
	expireCommand = cli.Command{
		Action:    expireCmd,
		Name:      "expire",
		Usage:     "Delete transaction history below the given block",
		ArgsUsage: "<block>",
		Flags:     []cli.Flag{dirFlag, blocksPerFileFlag},
	}
	dumpCommand = cli.Command{
		Action:    dumpCmd,
		Name:      "dump",
		Usage:     "Decode and print one stored entry",
		ArgsUsage: "<segment> <number>",
		Flags:     []cli.Flag{dirFlag, blocksPerFileFlag},
	}
)

func init() {
	app.Name = filepath.Base(os.Args[0])
	app.Usage = "static file directory maintenance"
	app.Commands = []cli.Command{lsCommand, checkCommand, expireCommand, dumpCommand}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openReadOnly(ctx *cli.Context) (*staticfile.StaticFileProvider, error) {
	return staticfile.ReadOnly(ctx.String(dirFlag.Name), false,
		staticfile.WithBlocksPerFile(ctx.Uint64(blocksPerFileFlag.Name)))
}

func lsCmd(ctx *cli.Context) error {
	p, err := openReadOnly(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	stats, err := p.Stats()
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Segment", "Files", "Blocks", "Transactions", "Rows", "Size"})
	for _, seg := range segments.All() {
		s, ok := stats[seg]
		if !ok {
			continue
		}
		blocks, txs := "-", "-"
		if s.BlockRange != nil {
			blocks = s.BlockRange.String()
		}
		if s.TxRange != nil {
			txs = s.TxRange.String()
		}
		table.Append([]string{
			seg.String(),
			strconv.Itoa(s.Jars),
			blocks,
			txs,
			strconv.FormatUint(s.Rows, 10),
			strconv.FormatInt(s.Bytes, 10),
		})
	}
	table.Render()
	return nil
}

func checkCmd(ctx *cli.Context) error {
	dir := ctx.String(dirFlag.Name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var names []string
	suffix := "." + segments.ExtConfig
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), suffix) {
			names = append(names, strings.TrimSuffix(entry.Name(), suffix))
		}
	}
	sort.Strings(names)

	var bad int
	for _, name := range names {
		if _, _, ok := segments.ParseFilename(name); !ok {
			continue
		}
		j, err := jar.Load(filepath.Join(dir, name))
		if err == nil {
			err = jar.NewChecker(j).Check()
		}
		if err != nil {
			bad++
			fmt.Printf("FAIL %s: %v\n", name, err)
			continue
		}
		fmt.Printf("OK   %s (%d rows)\n", name, j.Rows())
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d files corrupted", bad, len(names))
	}
	return nil
}

func expireCmd(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expire needs a block number")
	}
	block, err := strconv.ParseUint(ctx.Args().First(), 10, 64)
	if err != nil {
		return err
	}
	p, err := staticfile.ReadWrite(ctx.String(dirFlag.Name),
		staticfile.WithBlocksPerFile(ctx.Uint64(blocksPerFileFlag.Name)))
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.DeleteTransactionsBelow(block); err != nil {
		return err
	}
	fmt.Printf("history starts at block %d\n", p.EarliestHistoryHeight())
	return nil
}

func dumpCmd(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("dump needs a segment name and a number")
	}
	seg, ok := segments.ParseSegment(ctx.Args().Get(0))
	if !ok {
		return fmt.Errorf("unknown segment %q", ctx.Args().Get(0))
	}
	number, err := strconv.ParseUint(ctx.Args().Get(1), 10, 64)
	if err != nil {
		return err
	}
	p, err := openReadOnly(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	var value interface{}
	switch seg {
	case segments.Headers:
		header, _, err := p.SealedHeader(number)
		if err != nil {
			return err
		}
		if header != nil {
			value = header
		}
	case segments.Transactions:
		tx, err := p.TransactionByID(number)
		if err != nil {
			return err
		}
		if tx != nil {
			value = tx
		}
	case segments.Receipts:
		receipt, err := p.Receipt(number)
		if err != nil {
			return err
		}
		if receipt != nil {
			value = receipt
		}
	case segments.BlockMeta:
		indices, err := p.BlockBodyIndices(number)
		if err != nil {
			return err
		}
		if indices != nil {
			value = indices
		}
	}
	if value == nil {
		return fmt.Errorf("%s %d not stored", seg, number)
	}
	spew.Dump(value)
	return nil
}
