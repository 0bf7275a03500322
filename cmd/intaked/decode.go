package main

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <file>...",
	Short: "Decompress flat-file records to stdout",
	Long: `decode streams the JSON lines stored in one or more .jsonl.zst record
files to stdout. Files written by the flat-file backend hold multiple
zstd frames; every frame is decoded.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			if err := decodeFile(path, os.Stdout); err != nil {
				return fmt.Errorf("decode %s: %w", path, err)
			}
		}
		return nil
	},
}

func decodeFile(path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	_, err = io.Copy(w, dec)
	return err
}
