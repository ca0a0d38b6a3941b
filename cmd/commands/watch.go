package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/Paddel87/AIMAlocal-sub001/internal/app/channel"
	"github.com/Paddel87/AIMAlocal-sub001/internal/app/channel/ws"
	"github.com/Paddel87/AIMAlocal-sub001/internal/app/server"
	"github.com/Paddel87/AIMAlocal-sub001/internal/app/server/handlers"
	"github.com/Paddel87/AIMAlocal-sub001/internal/app/worker"
	"github.com/Paddel87/AIMAlocal-sub001/internal/core/domain"
	"github.com/Paddel87/AIMAlocal-sub001/internal/core/services"
	"github.com/Paddel87/AIMAlocal-sub001/pkg/middleware"
)

// WatchAction follows the status of the given jobs over the push channel.
func WatchAction(ctx context.Context, cmd *cli.Command) error {
	ids := append(cmd.StringSlice("job"), cmd.Args().Slice()...)

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if n := cmd.Int("recent"); n > 0 {
		if err := appCtx.requireRedis(); err != nil {
			return err
		}
		recent, err := appCtx.Snapshots.RecentJobs(ctx, int64(n))
		if err != nil {
			return fmt.Errorf("recent jobs: %w", err)
		}
		ids = append(ids, recent...)
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return errors.New("no jobs to watch: pass job ids or --recent")
	}

	statusAddr := cmd.String("status-addr")
	if statusAddr == "" {
		statusAddr = appCtx.Config.Status.Addr
	}
	return runWatch(ctx, appCtx, ids, worker.RunOptions{UntilDone: cmd.Bool("until-done")}, statusAddr)
}

// runWatch connects the push channel, serves the optional status endpoint
// and blocks in the job watcher.
func runWatch(ctx context.Context, appCtx *AppContext, ids []string, opts worker.RunOptions, statusAddr string) error {
	cfg := appCtx.Config
	log := appCtx.Log

	pushURL, err := withClientID(cfg.Channel.URL, uuid.NewString())
	if err != nil {
		return err
	}
	header := http.Header{}
	if appCtx.Token != "" {
		header.Set("Authorization", "Bearer "+appCtx.Token)
	}
	policy := channel.RetryPolicy{
		Interval:    cfg.Channel.ReconnectInterval,
		MaxAttempts: cfg.Channel.MaxReconnectAttempts,
	}

	mgr := channel.NewManager(log, channel.Config{
		URL:              pushURL,
		Header:           header,
		Retry:            policy,
		HandshakeTimeout: cfg.Channel.HandshakeTimeout,
		SendBuffer:       cfg.Channel.SendBuffer,
	}, ws.NewDialer(cfg.Channel.HandshakeTimeout, cfg.Channel.ReadLimit))

	rec := services.NewReconciler(log, mgr, appCtx.API)
	notifier := services.NewNotifier(log, services.NewLogSink(log))
	notifier.Attach(mgr)
	defer notifier.Detach()

	watcher := worker.NewJobWatcher(log, rec, appCtx.SnapshotStore(), appCtx.EventJournal(), notifier, policy)
	mgr.OnStateChange(watcher.OnState)
	mgr.OnEnvelope(watcher.OnEnvelope)

	if err := mgr.Connect(ctx); err != nil {
		return fmt.Errorf("connect push channel: %w", err)
	}
	defer mgr.Disconnect()

	if statusAddr != "" {
		var tokens middleware.TokenValidator
		if cfg.Auth.Secret != "" {
			tokens = appCtx.Tokens
		}
		srv := server.NewServer(log, cfg.Service.Name, statusAddr, handlers.NewStatusHandler(mgr, rec), tokens)
		srvCtx, stopSrv := context.WithCancel(ctx)
		srvDone := make(chan struct{})
		go func() {
			defer close(srvDone)
			if err := srv.Start(srvCtx); err != nil {
				log.Error("status server failed", "err", err)
			}
		}()
		defer func() {
			stopSrv()
			<-srvDone
		}()
	}

	return watcher.Run(ctx, ids, opts, func(p domain.Projection) {
		printProjection(os.Stdout, p)
	})
}

func printProjection(w io.Writer, p domain.Projection) {
	if p.Failed() {
		fmt.Fprintf(w, "%s\tunavailable\t%v\n", p.JobID, p.PullErr)
		return
	}
	line := fmt.Sprintf("%s\t%s", p.JobID, p.Status)
	if p.Progress != nil {
		line += fmt.Sprintf("\t%.0f%%", *p.Progress*100)
	}
	if p.Error != "" {
		line += "\t" + p.Error
	}
	fmt.Fprintf(w, "%s\t%s\n", p.UpdatedAt.Local().Format(time.TimeOnly), line)
}

// withClientID adds the client_id query parameter to the push URL.
func withClientID(raw, clientID string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid push url %q: %w", raw, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid push url %q: scheme must be ws or wss", raw)
	}
	q := u.Query()
	q.Set("client_id", clientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
