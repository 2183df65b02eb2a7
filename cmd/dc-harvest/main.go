// dc-harvest runs the DataCite dump tool for a time span and records the
// outcome in the state database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/dataesr/bso3-harvest-datacite-sub000"
	"github.com/dataesr/bso3-harvest-datacite-sub000/config"
	"github.com/dataesr/bso3-harvest-datacite-sub000/dateutil"
	"github.com/dataesr/bso3-harvest-datacite-sub000/harvest"
	"github.com/dataesr/bso3-harvest-datacite-sub000/state"
	"github.com/jinzhu/now"
	log "github.com/sirupsen/logrus"
)

var docs = strings.TrimLeft(`
# dc-harvest - harvest DataCite with dcdump

Requires dcdump in PATH:

    $ go install -v github.com/miku/dcdump/cmd/...@latest

Harvest yesterday, in daily slices:

    $ dc-harvest

Harvest a span, even if it has been harvested before:

    $ dc-harvest -s 2021-01-01 -e 2021-02-01 -i hour -f

`, "\n")

var (
	configFile  = flag.String("c", "", "config file (YAML), defaults to $BSO3_CONFIG")
	dir         = flag.String("d", "", "target directory, default derived from dump dir and dates")
	interval    = flag.String("i", "", "slice interval: minute, hour, day, week")
	force       = flag.Bool("f", false, "harvest again, even if the directory has been harvested")
	listStates  = flag.Bool("l", false, "list recorded harvests and exit")
	showVersion = flag.Bool("version", false, "show version")

	startDate dateutil.Date
	endDate   dateutil.Date
)

func main() {
	flag.Var(&startDate, "s", "start date, default: beginning of yesterday")
	flag.Var(&endDate, "e", "end date, default: beginning of today")
	flag.Usage = func() {
		io.WriteString(os.Stderr, docs)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Println(bso3.Version)
		os.Exit(0)
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal(err)
	}
	cfg.SetupLogging()
	if err := os.MkdirAll(filepath.Dir(cfg.StateDB), 0755); err != nil {
		log.Fatal(err)
	}
	db, err := state.Open(cfg.StateDB)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if *listStates {
		rows, err := db.Harvests().Get(ctx, nil)
		if err != nil {
			log.Fatal(err)
		}
		for _, r := range rows {
			fmt.Printf("%d\t%s\t%s\t%s\t%s\t%d/%d\n", r.ID, r.Status,
				r.StartDate.Format(time.DateOnly), r.EndDate.Format(time.DateOnly),
				r.CurrentDirectory, r.NumberSlices-r.NumberMissed, r.NumberSlices)
		}
		return
	}
	today := now.BeginningOfDay()
	if startDate.IsZero() {
		startDate.Time = today.AddDate(0, 0, -1)
	}
	if endDate.IsZero() {
		endDate.Time = today
	}
	if *interval == "" {
		*interval = cfg.Harvest.Interval
	}
	if *dir == "" {
		*dir = filepath.Join(cfg.DumpDir, fmt.Sprintf("%s-%s",
			startDate.Format(dateutil.FileLayout), endDate.Format(dateutil.FileLayout)))
	}
	iv := dateutil.Interval{Start: startDate.Time, End: endDate.Time}
	if err := iv.Validate(); err != nil {
		log.Fatal(err)
	}
	h := &harvest.Harvester{
		Tool: &harvest.Tool{
			Name:        cfg.Harvest.Tool,
			MaxRequests: cfg.Harvest.MaxRequests,
			Workers:     cfg.Harvest.Workers,
			Sleep:       cfg.Harvest.Sleep,
			Prefix:      cfg.Harvest.Prefix,
		},
		Repo: db.Harvests(),
	}
	req := harvest.Request{
		Directory: *dir,
		Start:     startDate.Time,
		End:       endDate.Time,
		Interval:  *interval,
		Force:     *force,
	}
	s, err := h.Start(ctx, req, false)
	switch {
	case errors.Is(err, harvest.ErrAlreadyExists):
		log.WithFields(log.Fields{"id": s.ID, "dir": s.CurrentDirectory}).Warn("already harvested, use -f to force")
	case err != nil:
		log.Fatal(err)
	default:
		log.WithFields(log.Fields{
			"id":     s.ID,
			"status": s.Status,
			"missed": s.NumberMissed,
		}).Info("harvest recorded")
		if s.Status == state.StatusError {
			os.Exit(2)
		}
	}
}
