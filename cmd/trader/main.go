package main

import (
	"context"
	"flag"
	"os"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/feed/gdax"
	"main/internal/journal"
	"main/internal/model"
	"main/internal/ops"
	"main/internal/reconcile"
	"main/internal/ticker"
	"main/pkg/conn"
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("trader: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.json", "path to JSON config")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if loaded.Profiling.Enabled() {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: loaded.Profiling.ApplicationName,
			ServerAddress:   loaded.Profiling.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return err
		}
		defer func() { _ = profiler.Stop() }()
	}

	rest, err := gdax.NewRestClient(loaded.Exchange.RestURL, gdax.Credentials{
		Key:        loaded.Exchange.Key,
		Secret:     loaded.Exchange.Secret,
		Passphrase: loaded.Exchange.Passphrase,
	})
	if err != nil {
		return err
	}
	stream := gdax.NewStream(loaded.Exchange.WsURL)

	var reconciler *reconcile.Reconciler
	if loaded.Features.EnableOrderFlow {
		reconciler = reconcile.New(rest)
		stream.OnMessage(reconciler.OnMessage)
		logRecentFills(ctx, rest, loaded.Instruments)
	}

	books := ticker.NewService(ctx, stream, rest)

	var trades *journal.Journal
	if loaded.Journal.Enabled() && loaded.Features.EnableJournal {
		trades, err = journal.Open(conn.Option{
			Host:     loaded.Journal.Host,
			Port:     loaded.Journal.Port,
			User:     loaded.Journal.User,
			Password: loaded.Journal.Password,
			Database: loaded.Journal.Database,
			SSLMode:  loaded.Journal.SSLMode,
		})
		if err != nil {
			return err
		}
		defer func() { _ = trades.Close() }()

		if reconciler != nil {
			events, stop := reconciler.Subscribe()
			defer stop()
			go recordFills(events, trades)
		}
	}

	stream.Start(ctx)
	for _, instrument := range loaded.Instruments {
		updates, stop, err := books.Subscribe(instrument)
		if err != nil {
			return err
		}
		defer stop()
		go watchInsideMarket(instrument, updates, trades)
	}

	logs.Infof("trader: running with %d instruments", len(loaded.Instruments))
	<-sys.Shutdown()
	logs.Info("trader: shutting down")
	return nil
}

// logRecentFills reports executions that happened while we were not
// connected, so restarts leave a trace of what was missed.
func logRecentFills(ctx context.Context, rest *gdax.RestClient, instruments []model.Instrument) {
	for _, instrument := range instruments {
		fills, err := rest.Fills(ctx, instrument)
		if err != nil {
			logs.Warnf("trader: list fills for %s: %v", instrument, err)
			continue
		}
		for _, fill := range fills {
			logs.Infof("trader: prior fill %s %s %s x %s (order %s)",
				fill.Instrument, fill.Side, fill.Size, fill.Price, fill.OrderID)
		}
	}
}

func recordFills(events <-chan reconcile.Event, trades *journal.Journal) {
	for ev := range events {
		filled, ok := ev.(reconcile.Filled)
		if !ok {
			continue
		}
		if err := trades.RecordFill(filled); err != nil {
			logs.Warnf("trader: record fill: %v", err)
		}
	}
}

func watchInsideMarket(instrument model.Instrument, updates <-chan model.InsideMarketChange, trades *journal.Journal) {
	for change := range updates {
		logs.Infof("%s inside market: bid %s x %s / ask %s x %s",
			instrument,
			change.New.Bid.Size, change.New.Bid.Price,
			change.New.Ask.Size, change.New.Ask.Price)
		if trades == nil {
			continue
		}
		if err := trades.RecordInsideMarket(change); err != nil {
			logs.Warnf("trader: record inside market: %v", err)
		}
	}
}
