package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/charmbracelet/log"
	json "github.com/goccy/go-json"
	. "github.com/smartystreets/goconvey/convey"
)

func TestFormatChange(t *testing.T) {
	Convey("Rank movements are rendered compactly", t, func() {
		n := func(v int) *int { return &v }
		So(formatChange(nil), ShouldEqual, "NEW")
		So(formatChange(n(0)), ShouldEqual, "=")
		So(formatChange(n(3)), ShouldEqual, "+3")
		So(formatChange(n(-2)), ShouldEqual, "-2")
	})
}

func TestRenderChart(t *testing.T) {
	Convey("Chart rows fall back to the item id without a title", t, func() {
		out := renderChart([]chartRow{
			{ItemID: "a", Title: "Alpha", Artist: "Band", Rank: 1, MetricValue: 42},
			{ItemID: "b", Rank: 2, MetricValue: 7},
		})
		So(out, ShouldContainSubstring, "Alpha")
		So(out, ShouldContainSubstring, "Band")
		So(out, ShouldContainSubstring, "42")
		So(out, ShouldContainSubstring, "b")
		So(out, ShouldContainSubstring, "NEW")
	})
}

func TestCommands(t *testing.T) {
	Convey("Given a chartsnap server", t, func() {
		var (
			lastPlay  map[string]any
			lastLimit string
		)
		mux := http.NewServeMux()
		mux.HandleFunc("GET /charts/daily", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `[{"item_id":"a","title":"Alpha","rank":1,"prev_rank":null,"rank_change":null,"metric_value":5}]`)
		})
		mux.HandleFunc("GET /charts/weekly/history", func(w http.ResponseWriter, r *http.Request) {
			lastLimit = r.URL.Query().Get("limit")
			_, _ = io.WriteString(w, `{"cadence":"weekly","snapshot_times":["2024-03-03T00:00:00Z","2024-02-25T00:00:00Z"]}`)
		})
		mux.HandleFunc("POST /charts/snapshot/realtime", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"code":"rate_limited","message":"slow down"}`)
		})
		mux.HandleFunc("POST /charts/snapshot/daily", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"cadence":"daily","persisted":false,"entries":[]}`)
		})
		mux.HandleFunc("POST /plays", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&lastPlay)
			w.WriteHeader(http.StatusAccepted)
			_, _ = io.WriteString(w, `{"status":"accepted","event_id":"e1","duplicate":false}`)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		var out bytes.Buffer
		runner := NewRunner(RunnerOpts{Output: &out, Logger: log.New(io.Discard)})
		run := func(args ...string) error {
			return newApp(runner).Run(context.Background(), append([]string{"chartctl", "--addr", srv.URL}, args...))
		}

		Convey("chart prints the table", func() {
			So(run("chart", "daily"), ShouldBeNil)
			So(out.String(), ShouldContainSubstring, "Alpha")
		})

		Convey("chart --json prints raw rows", func() {
			So(run("chart", "--json", "daily"), ShouldBeNil)
			var rows []chartRow
			So(json.Unmarshal(out.Bytes(), &rows), ShouldBeNil)
			So(rows, ShouldHaveLength, 1)
			So(rows[0].PrevRank, ShouldBeNil)
		})

		Convey("An unknown cadence fails before any request", func() {
			So(run("chart", "hourly"), ShouldNotBeNil)
		})

		Convey("history passes the limit", func() {
			So(run("history", "--limit", "2", "weekly"), ShouldBeNil)
			So(lastLimit, ShouldEqual, "2")
			So(out.String(), ShouldContainSubstring, "2024-03-03T00:00:00Z")
		})

		Convey("Server errors surface their code", func() {
			err := run("snapshot", "realtime")
			So(errors.Is(err, ErrServer), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "rate_limited")
		})

		Convey("snapshot reports a run that published nothing", func() {
			So(run("snapshot", "daily"), ShouldBeNil)
			So(out.String(), ShouldContainSubstring, "nothing published for daily")
		})

		Convey("play sends the count", func() {
			So(run("play", "--count", "3", "song-1"), ShouldBeNil)
			So(lastPlay["item_id"], ShouldEqual, "song-1")
			So(lastPlay["count"], ShouldEqual, float64(3))
			So(out.String(), ShouldContainSubstring, "accepted e1")
		})
	})
}
