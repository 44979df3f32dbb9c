package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/urfave/cli/v3"

	app "github.com/okian/chartsnap/internal/app"
	"github.com/okian/chartsnap/internal/config"
	"github.com/okian/chartsnap/internal/domain/cadence"
	"github.com/okian/chartsnap/pkg/logger"
)

const defaultAddr = "http://localhost:9080"

type chartRow struct {
	ItemID      string `json:"item_id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Rank        int    `json:"rank"`
	PrevRank    *int   `json:"prev_rank"`
	RankChange  *int   `json:"rank_change"`
	MetricValue int64  `json:"metric_value"`
}

type historyResponse struct {
	Cadence       string      `json:"cadence"`
	SnapshotTimes []time.Time `json:"snapshot_times"`
}

type snapshotResponse struct {
	Cadence      string     `json:"cadence"`
	Persisted    bool       `json:"persisted"`
	SnapshotTime time.Time  `json:"snapshot_time"`
	RunID        string     `json:"run_id"`
	Entries      []chartRow `json:"entries"`
}

type playRequest struct {
	EventID string `json:"event_id,omitempty"`
	ItemID  string `json:"item_id"`
	Count   int64  `json:"count"`
}

type ackResponse struct {
	Status    string `json:"status"`
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
}

func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "chartctl",
		Usage:   "Inspect and drive a chartsnap server",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "Base URL of the chartsnap server",
				Value:   defaultAddr,
				Sources: cli.EnvVars("CHARTSNAP_URL"),
			},
		},
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range []func(*Runner) *cli.Command{
		chartCommand, historyCommand, snapshotCommand, playCommand, migrateCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

func chartCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "chart",
		Usage:     "Show the latest chart of a cadence",
		ArgsUsage: "<realtime|daily|weekly>",
		Arguments: []cli.Argument{&cli.StringArg{Name: "cadence"}},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "at", Usage: "Exact snapshot time (RFC3339)"},
			&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
		},
		Action: r.Chart,
	}
}

func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List snapshot times of a cadence, newest first",
		ArgsUsage: "<realtime|daily|weekly>",
		Arguments: []cli.Argument{&cli.StringArg{Name: "cadence"}},
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of times", Value: 20},
			&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
		},
		Action: r.History,
	}
}

func snapshotCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "snapshot",
		Usage:     "Compute and publish a snapshot now",
		ArgsUsage: "<realtime|daily|weekly>",
		Arguments: []cli.Argument{&cli.StringArg{Name: "cadence"}},
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
		},
		Action: r.Snapshot,
	}
}

func playCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "play",
		Usage:     "Record plays of an item",
		ArgsUsage: "<item-id>",
		Arguments: []cli.Argument{&cli.StringArg{Name: "item"}},
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "count", Usage: "Plays carried by the event", Value: 1},
			&cli.StringFlag{Name: "event-id", Usage: "Idempotency key (generated by the server when empty)"},
		},
		Action: r.Play,
	}
}

func migrateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply store migrations without starting the server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "driver",
				Usage:    "sqlite, postgres or clickhouse",
				Required: true,
				Sources:  cli.EnvVars("CHARTSNAP_STORE_DRIVER"),
			},
			&cli.StringFlag{
				Name:     "dsn",
				Usage:    "Store connection string",
				Required: true,
				Sources:  cli.EnvVars("CHARTSNAP_STORE_DSN"),
			},
			&cli.DurationFlag{Name: "timeout", Usage: "Connection retry budget", Value: 30 * time.Second},
		},
		Action: r.Migrate,
	}
}

func cadenceArg(cmd *cli.Command) (cadence.Cadence, error) {
	return cadence.Parse(cmd.StringArg("cadence"))
}

// Chart prints the latest (or --at) chart of a cadence.
func (r *Runner) Chart(ctx context.Context, cmd *cli.Command) error {
	c, err := cadenceArg(cmd)
	if err != nil {
		return err
	}
	q := url.Values{}
	if at := cmd.String("at"); at != "" {
		if _, err := time.Parse(time.RFC3339Nano, at); err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		q.Set("at", at)
	}

	var rows []chartRow
	if err := r.do(ctx, http.MethodGet, cmd.String("addr"), "/charts/"+c.String(), q, nil, &rows); err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(rows)
	}
	if len(rows) == 0 {
		return r.writePlainln("no %s chart published yet", c)
	}
	return r.writePlainln("%s", renderChart(rows))
}

// History prints the snapshot times of a cadence.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	c, err := cadenceArg(cmd)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", cmd.Int("limit")))

	var resp historyResponse
	if err := r.do(ctx, http.MethodGet, cmd.String("addr"), "/charts/"+c.String()+"/history", q, nil, &resp); err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(resp)
	}
	for _, t := range resp.SnapshotTimes {
		if err := r.writePlainln("%s", t.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot triggers a manual computation and prints the published batch.
func (r *Runner) Snapshot(ctx context.Context, cmd *cli.Command) error {
	c, err := cadenceArg(cmd)
	if err != nil {
		return err
	}
	var resp snapshotResponse
	if err := r.do(ctx, http.MethodPost, cmd.String("addr"), "/charts/snapshot/"+c.String(), nil, nil, &resp); err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(resp)
	}
	if !resp.Persisted {
		return r.writePlainln("no tracked items; nothing published for %s", resp.Cadence)
	}
	if err := r.writePlainln("published %s snapshot at %s (run %s, %d entries)",
		resp.Cadence, resp.SnapshotTime.UTC().Format(time.RFC3339Nano), resp.RunID, len(resp.Entries)); err != nil {
		return err
	}
	if len(resp.Entries) == 0 {
		return nil
	}
	return r.writePlainln("%s", renderChart(resp.Entries))
}

// Play records plays of an item.
func (r *Runner) Play(ctx context.Context, cmd *cli.Command) error {
	item := cmd.StringArg("item")
	if item == "" {
		return fmt.Errorf("item id is required")
	}
	count := int64(cmd.Int("count"))
	if count < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	var ack ackResponse
	body := playRequest{EventID: cmd.String("event-id"), ItemID: item, Count: count}
	if err := r.do(ctx, http.MethodPost, cmd.String("addr"), "/plays", nil, body, &ack); err != nil {
		return err
	}
	return r.writePlainln("%s %s", ack.Status, ack.EventID)
}

// Migrate opens the configured store, which applies pending migrations.
func (r *Runner) Migrate(ctx context.Context, cmd *cli.Command) error {
	driver := cmd.String("driver")
	if driver == config.DriverMemory {
		return fmt.Errorf("the memory store has no schema")
	}
	store, err := app.OpenStore(ctx, driver, cmd.String("dsn"), cmd.Duration("timeout"), logger.Named("migrate"))
	if err != nil {
		return err
	}
	if err := store.Close(); err != nil {
		r.logger.Warn("closing store", "err", err)
	}
	return r.writePlainln("%s schema is up to date", driver)
}

// renderChart draws rows as a bordered table.
func renderChart(rows []chartRow) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "MOVE", "ITEM", "ARTIST", "PLAYS")
	for _, row := range rows {
		name := row.Title
		if name == "" {
			name = row.ItemID
		}
		t.Row(strconv.Itoa(row.Rank), formatChange(row.RankChange), name, row.Artist, strconv.FormatInt(row.MetricValue, 10))
	}
	return t.String()
}

// formatChange renders a rank movement: NEW, =, +n or -n.
func formatChange(change *int) string {
	switch {
	case change == nil:
		return "NEW"
	case *change == 0:
		return "="
	case *change > 0:
		return "+" + strconv.Itoa(*change)
	default:
		return strconv.Itoa(*change)
	}
}
