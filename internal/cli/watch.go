package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	formula "github.com/vogtb/go-spreadsheet/packages/formula"
	"github.com/vogtb/go-spreadsheet/packages/formula/internal/gridfile"
)

// defaultDebounce lets a burst of writes from an editor settle before the
// grid is reloaded
const defaultDebounce = 100 * time.Millisecond

// WatchEvent is printed after each reload
type WatchEvent struct {
	Path    string       `json:"path"`
	Changed []CellResult `json:"changed"`
	Error   string       `json:"error,omitempty"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var sheetName string

	cmd := &cobra.Command{
		Use:   "watch <grid-file>",
		Short: "Recompute a grid whenever its file changes",
		Long: `Print the computed grid, then watch the file. Each time it is saved
the grid is reloaded and the cells whose display changed are printed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newWatchSession(rootOpts, args[0], sheetName, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer session.Close()
			return session.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&sheetName, "sheet", "", "worksheet to read from a workbook (default: active sheet)")

	return cmd
}

type watchSession struct {
	opts      *RootOptions
	path      string
	sheetName string
	sheet     *formula.Sheet
	formatter *OutputFormatter
	watcher   *fsnotify.Watcher
	debounce  time.Duration
}

// newWatchSession loads and prints the grid and starts watching the
// directory that holds it. directories are watched rather than files so
// that editors which save by renaming a temp file are still seen.
func newWatchSession(rootOpts *RootOptions, path, sheetName string, w io.Writer) (*watchSession, error) {
	formatter := newFormatter(rootOpts, w)
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, formatter.Error(ExitCommandError, "watch failed", err)
	}
	sheet, err := loadSheet(rootOpts, abs, sheetName, nil)
	if err != nil {
		return nil, formatter.Error(GetExitCode(err), "watch failed", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, formatter.Error(ExitCommandError, "failed to start watcher", err)
	}
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		fsWatcher.Close()
		return nil, formatter.Error(ExitCommandError, "failed to watch "+path, err)
	}

	s := &watchSession{
		opts:      rootOpts,
		path:      abs,
		sheetName: sheetName,
		sheet:     sheet,
		formatter: formatter,
		watcher:   fsWatcher,
		debounce:  defaultDebounce,
	}
	initial := WatchEvent{Path: path, Changed: cellResults(sheet, sheet.Grid().Coords())}
	if err := s.print(initial); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	return s, nil
}

// Run processes file events until ctx is done
func (s *watchSession) Run(ctx context.Context) error {
	logger := s.opts.Logger()
	logger.Info("watching", "path", s.path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			pending = time.After(s.debounce)

		case <-pending:
			pending = nil
			if err := s.reload(); err != nil {
				return err
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}

// reload swaps the file's current contents into the sheet and prints the
// cells whose display changed. a file that fails to load leaves the sheet
// as it was.
func (s *watchSession) reload() error {
	grid, err := gridfile.Load(s.path, s.sheetName)
	if err != nil {
		s.opts.Logger().Warn("reload failed", "path", s.path, "error", err)
		return s.print(WatchEvent{Path: s.path, Changed: []CellResult{}, Error: err.Error()})
	}

	before := s.sheet.Grid().Clone()
	updates := s.sheet.Replace(grid)
	after := s.sheet.Grid()
	s.opts.Logger().Debug("grid reloaded", "path", s.path, "cells", len(after), "updates", len(updates))

	var changed []formula.CellCoord
	for key, cell := range after {
		if prev, ok := before[key]; !ok || prev != cell {
			changed = append(changed, key.Coord())
		}
	}
	for key := range before {
		if _, ok := after[key]; !ok {
			changed = append(changed, key.Coord())
		}
	}
	slices.SortFunc(changed, compareCoords)

	return s.print(WatchEvent{Path: s.path, Changed: cellResults(s.sheet, changed)})
}

func (s *watchSession) print(event WatchEvent) error {
	return s.formatter.Success(event, func(w io.Writer) error {
		if event.Error != "" {
			_, err := fmt.Fprintf(w, "# reload failed: %s\n", event.Error)
			return err
		}
		if _, err := fmt.Fprintf(w, "# %s: %d cell(s)\n", filepath.Base(event.Path), len(event.Changed)); err != nil {
			return err
		}
		return writeCells(w, event.Changed)
	})
}

// Close stops the watcher
func (s *watchSession) Close() error {
	return s.watcher.Close()
}

func compareCoords(a, b formula.CellCoord) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}
