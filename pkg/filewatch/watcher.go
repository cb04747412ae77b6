package filewatch

import (
	"context"
	"course_platform_backend/pkg/logger"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultDebounce = time.Second

// Watch 监听文件或目录的写入/创建/删除/重命名，防抖后调用 fn。
// 目录只监听第一层。ctx 取消或 watcher 关闭时返回。
func Watch(ctx context.Context, paths []string, debounce time.Duration, fn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, p := range paths {
		absPath, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		if err := watcher.Add(absPath); err != nil {
			return err
		}
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	const mask = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&mask == 0 {
				continue
			}
			// 防抖处理
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)
		case <-timer.C:
			fn()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Log.Error("File watcher error", zap.Error(err))
		}
	}
}

// WatchConfig 监听配置文件所在目录。编辑器保存时常常替换文件，直接监听文件会丢失后续事件。
func WatchConfig(ctx context.Context, configFile string, fn func()) error {
	if _, err := os.Stat(configFile); err != nil {
		return err
	}
	return Watch(ctx, []string{filepath.Dir(configFile)}, DefaultDebounce, fn)
}
