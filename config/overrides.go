package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fsnotify/fsnotify"
)

// Overrides are live settings read from HUSH_OVERRIDES_FILE. Absent fields
// keep the environment value.
type Overrides struct {
	FeeBufferBps *json.Number `json:"feeBufferBps,omitempty"`
	FeeBufferMin *string      `json:"feeBufferMin,omitempty"`
	Debug        *bool        `json:"debug,omitempty"`
}

// ReadOverrides parses the overrides file.
func ReadOverrides(path string) (Overrides, error) {
	var o Overrides
	data, err := os.ReadFile(path)
	if err != nil {
		return o, fmt.Errorf("read overrides: %w", err)
	}
	if err := json.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("parse overrides %s: %w", path, err)
	}
	return o, nil
}

// Apply returns a copy of c with o layered on top.
func (c *Config) Apply(o Overrides) *Config {
	out := *c
	if o.FeeBufferBps != nil {
		out.FeeBufferBps = o.FeeBufferBps.String()
	}
	if o.FeeBufferMin != nil {
		out.FeeBufferMin = *o.FeeBufferMin
	}
	if o.Debug != nil {
		out.Debug = strconv.FormatBool(*o.Debug)
	}
	return &out
}

// Watch applies the overrides file on top of base now and on every change
// until ctx is done. A file that fails to parse is ignored and the last good
// settings stay in effect. The directory is watched so editors that replace
// the file are seen.
func Watch(ctx context.Context, path string, base *Config, apply func(*Config), log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	path = filepath.Clean(path)

	load := func() {
		o, err := ReadOverrides(path)
		if err != nil {
			log.WarnContext(ctx, "config.overrides.ignored", slog.String("err", err.Error()))
			return
		}
		apply(base.Apply(o))
		log.DebugContext(ctx, "config.overrides.applied", slog.String("path", path))
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch overrides: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch overrides: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		load()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				load()
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				apply(base)
				log.DebugContext(ctx, "config.overrides.cleared", slog.String("path", path))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.DebugContext(ctx, "config.overrides.watch_error", slog.String("err", err.Error()))
		}
	}
}
