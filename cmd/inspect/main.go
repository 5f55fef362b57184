package main

import (
	"chat-relay/internal"
	"chat-relay/repositories"
	"flag"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/olekukonko/tablewriter"
)

// inspect prints the archive content of a stopped or running server as a table.
func main() {
	dbPath := flag.String("db", os.Getenv("ARCHIVE_PATH"), "Path to the badger archive")
	prefix := flag.String("prefix", "msg:", "Key prefix to scan, e.g. msg:{conversation}:")
	flag.Parse()

	if *dbPath == "" {
		log.Fatal("an on-disk archive is required: set -db or ARCHIVE_PATH")
	}
	db, err := repositories.OpenBadgerReadOnly(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()
	archive := repositories.NewMessageArchive(db, slog.New(slog.NewTextHandler(io.Discard, nil)), 0)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Time", "Type", "Conversation", "Id", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err = archive.Scan(*prefix, func(key string, value []byte) error {
		row := internal.MessageMapper(key, value)
		table.Append([]string{row.Timestamp, row.Type, row.Conversation, row.EntityID, row.Detail})
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}
	table.Render()
}
