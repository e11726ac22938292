package classify

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

// overrideFile is the TOML shape of the user category override file:
//
//	[categories]
//	"news.ycombinator.com" = "Work"
//	"example.com" = "Video"
type overrideFile struct {
	Categories map[string]string `toml:"categories"`
}

// LoadOverrides reads the override file into the classifier. A missing
// file clears the overrides.
func (c *Classifier) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.SetOverrides(nil)
			return nil
		}
		return fmt.Errorf("read overrides: %w", err)
	}

	var f overrideFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode overrides: %w", err)
	}

	c.SetOverrides(f.Categories)
	c.log.Info("category overrides loaded", "path", path, "count", len(f.Categories))
	return nil
}

// WatchOverrides reloads the override file whenever it changes, so edits
// take effect without restarting the daemon. Returns a stop function.
func (c *Classifier) WatchOverrides(path string) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory: editors replace files on save, which would
	// drop a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch overrides dir: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := c.LoadOverrides(path); err != nil {
					c.log.Warn("override reload failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.log.Warn("override watcher error", "error", err)
			}
		}
	}()

	return watcher.Close, nil
}
