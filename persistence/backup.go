package persistence

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// backupWriter rewrites the backup snapshot in the background. Each write goes
// to a temporary file that is renamed over the backup, so the backup is always
// a complete snapshot. Writes carry a generation and a write older than the
// last one on disk is dropped.
type backupWriter struct {
	fs   afero.Fs
	path string
	log  zerolog.Logger

	lock    sync.Mutex
	issued  uint64
	written uint64
	wg      sync.WaitGroup
}

func newBackupWriter(fs afero.Fs, path string, logger zerolog.Logger) *backupWriter {
	return &backupWriter{fs: fs, path: path, log: logger}
}

// write queues snapshot b and returns immediately.
func (w *backupWriter) write(b []byte) {
	w.lock.Lock()
	w.issued++
	gen := w.issued
	w.lock.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.lock.Lock()
		defer w.lock.Unlock()
		if gen < w.written {
			return
		}
		if err := w.replace(b); err != nil {
			w.log.Error().Err(err).Uint64("generation", gen).Msg("backupWriter.write")
			return
		}
		w.written = gen
	}()
}

// wait blocks until every queued write has finished.
func (w *backupWriter) wait() {
	w.wg.Wait()
}

func (w *backupWriter) replace(b []byte) error {
	tmp := w.path + ".tmp"
	f, err := w.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode)
	if err != nil {
		return errors.Wrap(err, "backupWriter.replace OpenFile")
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return errors.Wrap(err, "backupWriter.replace Write")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "backupWriter.replace Sync")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "backupWriter.replace Close")
	}
	if err := w.fs.Rename(tmp, w.path); err != nil {
		return errors.Wrap(err, "backupWriter.replace Rename")
	}
	return nil
}
