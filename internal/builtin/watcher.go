// Copyright 2025 The Relay Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package builtin

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/relaymcp/relay/internal/capability"
	"github.com/relaymcp/relay/internal/log"
)

// FileWatcher maps filesystem writes to resource update notifications: a
// change to a watched file triggers NotifyUpdated for its URI, which the
// resources manager turns into notifications/resources/updated for
// subscribed clients.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	resources *capability.ResourcesManager
	logger    log.Logger

	mu    sync.Mutex
	paths map[string]string // absolute path -> resource URI

	done chan struct{}
	once sync.Once
}

// NewFileWatcher returns a started watcher delivering updates to m.
func NewFileWatcher(m *capability.ResourcesManager, logger log.Logger) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("unable to create file watcher: %w", err)
	}
	fw := &FileWatcher{
		watcher:   w,
		resources: m,
		logger:    logger,
		paths:     make(map[string]string),
		done:      make(chan struct{}),
	}
	go fw.run()
	return fw, nil
}

// Watch associates the file path with the resource URI. The parent directory
// is watched so the mapping survives editors that replace the file.
func (fw *FileWatcher) Watch(path, uri string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("unable to resolve %q: %w", path, err)
	}
	fw.mu.Lock()
	fw.paths[abs] = uri
	fw.mu.Unlock()
	if err := fw.watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("unable to watch %q: %w", abs, err)
	}
	return nil
}

func (fw *FileWatcher) run() {
	for {
		select {
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			fw.mu.Lock()
			uri, watched := fw.paths[abs]
			fw.mu.Unlock()
			if !watched {
				continue
			}
			fw.logger.Debug(fmt.Sprintf("file %s changed, notifying %s", abs, uri))
			fw.resources.NotifyUpdated(uri)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error(fmt.Sprintf("file watcher: %s", err))
		}
	}
}

// Close stops the watcher.
func (fw *FileWatcher) Close() error {
	var err error
	fw.once.Do(func() {
		close(fw.done)
		err = fw.watcher.Close()
	})
	return err
}
