package cli

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

func newWatchCommand() *Command {
	cmd := &Command{
		Name:        "watch",
		Description: "Re-seed whenever the catalog file changes",
		Flags:       flag.NewFlagSet("watch", flag.ContinueOnError),
	}
	opts := bindOptions(cmd.Flags)
	overwrite := cmd.Flags.Bool("overwrite", true, "Update permissions and roles that drifted from the catalog")
	delay := cmd.Flags.Duration("delay", 2*time.Second, "Quiet period before re-seeding after a change")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if opts.catalogPath == "" {
			return errors.New("watch requires a catalog file (-catalog or RBACD_CATALOG_PATH)")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		env, err := open(ctx, opts, *overwrite)
		if err != nil {
			return err
		}
		defer env.Close()

		if _, err := seed(ctx, env); err != nil {
			return err
		}
		return watchCatalog(ctx, env, opts.catalogPath, *overwrite, *delay)
	}
	return cmd
}

// watchCatalog re-seeds after path changes and stays quiet for delay. The
// directory is watched since editors often replace files instead of writing
// them in place. An invalid catalog is logged and the previous one kept.
func watchCatalog(ctx context.Context, env *environment, path string, overwrite bool, delay time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	log.WithField("catalog", path).Info("watching catalog for changes")

	timer := time.NewTimer(delay)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !touches(event, path) {
				continue
			}
			log.WithField("op", event.Op.String()).Debug("catalog changed")
			timer.Reset(delay)
			pending = true

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			reload(ctx, env, path, overwrite)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watcher error")
		}
	}
}

func touches(event fsnotify.Event, path string) bool {
	if filepath.Clean(event.Name) != path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func reload(ctx context.Context, env *environment, path string, overwrite bool) {
	c, err := loadCatalog(path)
	if err != nil {
		log.WithError(err).Error("catalog rejected, keeping the previous one")
		return
	}
	if err := env.reseeder(c, overwrite); err != nil {
		log.WithError(err).Error("failed to rebuild seeder")
		return
	}
	if _, err := seed(ctx, env); err != nil {
		log.WithError(err).Error("re-seeding failed")
	}
}
