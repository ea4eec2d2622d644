// Command event-tree prints the event log of a bot run as a tree: the
// process.started root, each update it received, and the turns, retries and
// replies under every update.
package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/gilbert2046/telegram-digest-bot/internal/db"
)

type options struct {
	dbPath     string
	eventID    int64
	instanceID string
	role       string
	maxDepth   int
	jsonOut    bool
	noPayload  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:           "event-tree",
		Short:         "Print the event tree of a bot run",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(o, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.dbPath, "db", envOrDefault("BOT_DB_PATH", "state/bot.db"), "SQLite database path")
	f.Int64Var(&o.eventID, "id", 0, "show the subtree of a specific event id")
	f.StringVar(&o.instanceID, "instance", "", "show the run with this instance id")
	f.StringVar(&o.role, "role", "bot", "process role used to pick the latest run")
	f.IntVarP(&o.maxDepth, "depth", "L", 0, "limit display depth (0 = unlimited)")
	f.BoolVar(&o.jsonOut, "json", false, "output JSON")
	f.BoolVar(&o.noPayload, "no-payload", false, "hide payload details")
	return cmd
}

func run(o options, w io.Writer) error {
	database, err := db.OpenReadOnly(o.dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	rootID, err := resolveRoot(database, o)
	if err != nil {
		return err
	}
	root, err := db.Subtree(database, rootID)
	if err != nil {
		return err
	}
	if o.jsonOut {
		return printJSON(w, root, o.maxDepth, o.noPayload)
	}
	printTree(w, root, "", true, 1, o.maxDepth, o.noPayload)
	return nil
}

func resolveRoot(database *sql.DB, o options) (int64, error) {
	switch {
	case o.eventID > 0:
		return o.eventID, nil
	case o.instanceID != "":
		return db.RootByInstance(database, o.instanceID)
	default:
		id, err := db.LatestRoot(database, o.role)
		if err != nil {
			return 0, fmt.Errorf("latest %s run: %w", o.role, err)
		}
		return id, nil
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// printTree renders the event tree using box-drawing characters.
func printTree(w io.Writer, ev *db.Event, prefix string, isLast bool, depth, maxDepth int, noPayload bool) {
	connector := "├── "
	if isLast {
		connector = "└── "
	}
	line := formatEvent(ev, noPayload)
	if depth == 1 {
		fmt.Fprintln(w, line)
	} else {
		fmt.Fprintln(w, prefix+connector+line)
	}

	childPrefix := prefix
	if depth > 1 {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}
	if maxDepth > 0 && depth >= maxDepth {
		if len(ev.Children) > 0 {
			fmt.Fprintln(w, childPrefix+"└── [...]")
		}
		return
	}
	for i, child := range ev.Children {
		printTree(w, child, childPrefix, i == len(ev.Children)-1, depth+1, maxDepth, noPayload)
	}
}

// formatEvent formats one line: [id] timestamp  event_type  key=value ...
func formatEvent(ev *db.Event, noPayload bool) string {
	ts := time.Unix(ev.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%d] %s  %s", ev.ID, ts, ev.EventType)
	if noPayload {
		return line
	}
	m := decodePayload(ev)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf("  %s=%s", k, formatValue(m[k]))
	}
	return line
}

func decodePayload(ev *db.Event) map[string]any {
	if !ev.Payload.Valid || ev.Payload.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ev.Payload.String), &m); err != nil {
		return nil
	}
	return m
}

// formatValue renders a payload value, quoting and cutting long text.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if r := []rune(val); len(r) > 80 {
			return strconv.Quote(string(r[:80]) + "...")
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

type jsonEvent struct {
	ID        int64          `json:"id"`
	Timestamp int64          `json:"timestamp"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Children  []jsonEvent    `json:"children,omitempty"`
}

func toJSONEvent(ev *db.Event, depth, maxDepth int, noPayload bool) jsonEvent {
	je := jsonEvent{ID: ev.ID, Timestamp: ev.Timestamp, EventType: ev.EventType}
	if !noPayload {
		je.Payload = decodePayload(ev)
	}
	if maxDepth > 0 && depth >= maxDepth {
		return je
	}
	for _, child := range ev.Children {
		je.Children = append(je.Children, toJSONEvent(child, depth+1, maxDepth, noPayload))
	}
	return je
}

func printJSON(w io.Writer, root *db.Event, maxDepth int, noPayload bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(toJSONEvent(root, 1, maxDepth, noPayload)); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
