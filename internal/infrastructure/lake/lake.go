package lake

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	messagesDir    = "telegram_messages"
	imagesDir      = "images"
	detectionsFile = "image_detections.csv"
	dayLayout      = "2006-01-02"
)

// Lake resolves and writes files in the raw and processed zones.
//
// Layout:
//
//	<raw>/telegram_messages/<YYYY-MM-DD>/<channel>.json
//	<raw>/images/<channel>/<message_id>.jpg
//	<processed>/image_detections.csv
type Lake struct {
	rawRoot       string
	processedRoot string
}

// New builds a Lake; nothing is created on disk until a write happens.
func New(rawRoot, processedRoot string) *Lake {
	return &Lake{rawRoot: rawRoot, processedRoot: processedRoot}
}

// MessagesDir is the root of the per-day message files.
func (l *Lake) MessagesDir() string {
	return filepath.Join(l.rawRoot, messagesDir)
}

// MessageFile is the JSON file for a channel on a UTC day.
func (l *Lake) MessageFile(day time.Time, channel string) string {
	return filepath.Join(l.MessagesDir(), day.UTC().Format(dayLayout), channel+".json")
}

// ImagesDir is the root of the per-channel image directories.
func (l *Lake) ImagesDir() string {
	return filepath.Join(l.rawRoot, imagesDir)
}

// ImagePath is where the photo of a message is stored.
func (l *Lake) ImagePath(channel string, messageID int64) string {
	return filepath.Join(l.ImagesDir(), channel, strconv.FormatInt(messageID, 10)+".jpg")
}

// DetectionsFile is the tabular detection output in the processed zone.
func (l *Lake) DetectionsFile() string {
	return filepath.Join(l.processedRoot, detectionsFile)
}

// MessageFiles lists message files per date subdirectory, then per file, both sorted.
// A missing messages root yields no files.
func (l *Lake) MessageFiles() ([]string, error) {
	days, err := os.ReadDir(l.MessagesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list message days: %w", err)
	}

	var files []string
	for _, day := range days {
		if !day.IsDir() {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(l.MessagesDir(), day.Name(), "*.json"))
		if err != nil {
			return nil, fmt.Errorf("list message files in %s: %w", day.Name(), err)
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	return files, nil
}

// ImageRef identifies an image by the directory/filename convention.
type ImageRef struct {
	Channel string
	Stem    string
	Path    string
}

// ImageFiles lists every *.jpg under the per-channel image directories.
// Top-level entries that are not directories are skipped.
func (l *Lake) ImageFiles() ([]ImageRef, error) {
	channels, err := os.ReadDir(l.ImagesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list image channels: %w", err)
	}

	var refs []ImageRef
	for _, ch := range channels {
		if !ch.IsDir() {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(l.ImagesDir(), ch.Name(), "*.jpg"))
		if err != nil {
			return nil, fmt.Errorf("list images in %s: %w", ch.Name(), err)
		}
		sort.Strings(matches)
		for _, path := range matches {
			refs = append(refs, ImageRef{
				Channel: ch.Name(),
				Stem:    strings.TrimSuffix(filepath.Base(path), ".jpg"),
				Path:    path,
			})
		}
	}
	return refs, nil
}

// writeAtomic streams write into a temp file next to path and renames it into place,
// so readers never observe a partial file.
func writeAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// SaveImage writes a message photo through download and returns its path.
// On failure nothing is left at the destination.
func (l *Lake) SaveImage(channel string, messageID int64, download func(w io.Writer) error) (string, error) {
	path := l.ImagePath(channel, messageID)
	if err := writeAtomic(path, download); err != nil {
		return "", err
	}
	return path, nil
}
