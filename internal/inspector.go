package internal

import (
	"chat-relay/repositories"
	"embed"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"
)

//go:embed inspect.html
var templatesFS embed.FS

const defaultInspectPrefix = "msg:"

type InspectRow struct {
	Key          string
	Type         string
	Timestamp    string
	EntityID     string
	Conversation string
	Detail       string
}

type RowMapper func(key string, val []byte) InspectRow
type StatsProvider func() map[string]any

// RowSource is anything able to walk raw key/value pairs under a prefix.
type RowSource interface {
	Scan(prefix string, visit func(key string, value []byte) error) error
}

type PageData struct {
	Prefix string
	Items  []InspectRow
	Stats  map[string]any
}

// InspectHandler renders the archive content under ?prefix= as an HTML table.
// Only mounted in development.
func InspectHandler(source RowSource, mapper RowMapper, statsProvider StatsProvider) http.Handler {
	tmpl := template.Must(template.ParseFS(templatesFS, "inspect.html"))
	if mapper == nil {
		mapper = DefaultMapper
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = defaultInspectPrefix
		}

		data := PageData{Prefix: prefix, Stats: map[string]any{}}
		if statsProvider != nil {
			data.Stats = statsProvider()
		}

		err := source.Scan(prefix, func(key string, value []byte) error {
			data.Items = append(data.Items, mapper(key, value))
			return nil
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = tmpl.Execute(w, data)
	})
}

// DefaultMapper reads what it can from a "ns:conversation:timestamp:id" key without decoding the value.
func DefaultMapper(key string, val []byte) InspectRow {
	parts := strings.Split(key, ":")
	row := InspectRow{
		Key:          key,
		Type:         "RAW",
		Timestamp:    "--:--:--",
		EntityID:     "--------",
		Conversation: "-",
		Detail:       "Size: " + strconv.Itoa(len(val)) + " bytes",
	}

	// conversation ids contain a colon themselves, so the timestamp and id are the last two parts
	if len(parts) >= 4 {
		row.Conversation = strings.Join(parts[1:len(parts)-2], ":")
		if tsNano, err := strconv.ParseInt(parts[len(parts)-2], 10, 64); err == nil {
			row.Timestamp = time.Unix(0, tsNano).UTC().Format("15:04:05")
		}
		row.EntityID = parts[len(parts)-1]
		if len(row.EntityID) > 8 {
			row.EntityID = row.EntityID[:8]
		}
	}
	return row
}

// MessageMapper decodes archive records and falls back to DefaultMapper for anything else.
func MessageMapper(key string, val []byte) InspectRow {
	row := DefaultMapper(key, val)
	if !repositories.IsMessageKey(key) {
		return row
	}
	message, err := repositories.DecodeRecord(val)
	if err != nil {
		row.Detail = "Error: unmarshal failed"
		return row
	}
	row.Type = "MESSAGE"
	if message.Answered {
		row.Type = "ANSWERED"
	}
	row.Detail = message.Text
	return row
}
