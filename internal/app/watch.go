package app

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"missionctl/internal/config"
)

// WatchRoster re-reads missionctl.yml when it changes and re-seeds agents
// from its roster. It blocks until ctx is done. The directory is watched so
// editors that replace the file on save are seen.
func (a *App) WatchRoster(ctx context.Context) error {
	path := config.Path(a.Workspace)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}
	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			a.reloadRoster(ctx, path)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			a.Logger.Printf("app: roster watch: %v", err)
		}
	}
}

func (a *App) reloadRoster(ctx context.Context, path string) {
	cfg, err := config.FromFile(path)
	if err != nil {
		a.Logger.Printf("app: reload %s failed: %v", path, err)
		return
	}
	_, changed, err := a.SetRoster(ctx, cfg.Roster)
	if err != nil {
		a.Logger.Printf("app: seed roster failed: %v", err)
		return
	}
	if changed {
		a.Logger.Printf("app: roster reloaded (%d agents)", len(cfg.Roster.Agents))
	}
}
