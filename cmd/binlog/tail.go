package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/cdcflow/binlog"
	"github.com/cdcflow/binlog/internal/checkpoint"
	"github.com/cdcflow/binlog/internal/metrics"
)

func newTailCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream events, reconnecting and checkpointing the cursor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTail(cmd.Context())
		},
	}
	fs := cmd.Flags()
	connectionFlags(fs)
	fs.String("checkpoint-dir", "", "directory of cursor store, in memory when empty")
	fs.String("checkpoint-name", "default", "name of cursor in store")
	fs.Duration("checkpoint-interval", time.Second, "minimum interval between cursor saves")
	fs.String("metrics-addr", ":9104", "address to serve /metrics on, empty disables")
	fs.Duration("retry", 5*time.Second, "delay before reconnecting")
	return cmd
}

func runTail(ctx context.Context) error {
	opts, err := options()
	if err != nil {
		return err
	}
	store, err := checkpoint.Open(viper.GetString("checkpoint-dir"))
	if err != nil {
		return err
	}
	defer store.Close()
	name := viper.GetString("checkpoint-name")
	if cur, ok, err := store.Load(name); err != nil {
		return err
	} else if ok {
		glog.Infof("resuming from checkpoint %s", cur)
		opts.Start = cur
	}
	c, err := binlog.NewClient(opts)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if addr := viper.GetString("metrics-addr"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
	}
	g.Go(func() error {
		// non-blocking tail ends by itself; stop the metrics server too
		defer cancel()
		return tail(ctx, c, store, name, m)
	})
	return g.Wait()
}

// tail replicates until ctx is done, reconnecting after session errors.
func tail(ctx context.Context, c *binlog.Client, store *checkpoint.Store, name string, m *metrics.Metrics) error {
	interval := viper.GetDuration("checkpoint-interval")
	retry := viper.GetDuration("retry")
	var saved time.Time
	save := func() error {
		saved = time.Now()
		return store.Save(name, c.Cursor())
	}
	defer func() {
		if err := save(); err != nil {
			glog.Errorf("saving checkpoint: %v", err)
		}
	}()
	for {
		failed := false
		for e, err := range c.Replicate(ctx) {
			if err != nil {
				failed = true
				if ctx.Err() != nil {
					return nil
				}
				var cfgErr *binlog.ConfigError
				var modeErr *binlog.UnsupportedModeError
				if errors.As(err, &cfgErr) || errors.As(err, &modeErr) {
					return err
				}
				m.ObserveError(err)
				glog.Errorf("session ended at %s: %v", c.Cursor(), err)
				break
			}
			printEvent(os.Stdout, e)
			m.ObserveEvent(e)
			if time.Since(saved) >= interval {
				// cursor covers events before e
				if err := save(); err != nil {
					return err
				}
			}
		}
		m.ObserveCursor(c.Cursor())
		if err := save(); err != nil {
			return err
		}
		if !failed && viper.GetBool("non-blocking") {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retry):
		}
	}
}
