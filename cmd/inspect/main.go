package main

import (
	"chat-relay/repositories"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"
)

type Config struct {
	BadgerFilepath string `envconfig:"BADGER_FILEPATH" default:"./data/badger"`
	// INSPECT_PREFIX narrows the scan, e.g. to one conversation
	Prefix  string `envconfig:"INSPECT_PREFIX" default:"msg:"`
	Limit   int    `envconfig:"INSPECT_LIMIT" default:"0"`
	Colours bool   `envconfig:"INSPECT_COLOURS" default:"true"`
}

func main() {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(2)
	}

	db, err := badger.Open(badger.DefaultOptions(cfg.BadgerFilepath).
		WithReadOnly(true).
		WithLoggingLevel(badger.ERROR))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error while opening Badger: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	header := fmt.Sprintf("  ====== %s (prefix %q) ======", cfg.BadgerFilepath, cfg.Prefix)
	if cfg.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	fmt.Println(header)

	count, err := render(os.Stdout, db, cfg.Prefix, cfg.Limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scan failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d message(s)\n", count)
}

// render prints every message stored under prefix as a table, in key order.
// A limit of zero means no limit.
func render(w io.Writer, db *badger.DB, prefix string, limit int) (int, error) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Time", "ID", "Sender", "Recipient", "Text", "File"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	count := 0
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			if limit > 0 && count == limit {
				break
			}
			item := it.Item()
			err := item.Value(func(v []byte) error {
				message, err := repositories.DecodeDiskMessage(v)
				if err != nil {
					fmt.Fprintf(w, "Error unmarshaling key %s: %v\n", string(item.Key()), err)
					return nil
				}

				displayID := message.ID.String()
				if len(displayID) > 8 {
					displayID = displayID[:8]
				}
				table.Append([]string{
					message.At.Format(time.DateTime),
					displayID,
					message.Sender,
					message.Recipient,
					message.Text,
					message.File,
				})
				count++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	table.Render()
	return count, nil
}
