package persistence

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/jrsteele09/go-vault/kvstore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	// PrimarySuffix is appended to the container name for the primary snapshot.
	PrimarySuffix = ".vault"
	// BackupSuffix is appended to the container name for the backup snapshot.
	BackupSuffix = ".bak"

	fileMode = 0600
	dirMode  = 0700
)

// File persists a container as a JSON object in <dir>/<name>.vault, mirrored
// to <dir>/<name>.bak after every successful flush. The primary file handle is
// kept open and reused across flushes.
type File struct {
	fs          afero.Fs
	dir         string
	name        string
	primaryPath string
	log         zerolog.Logger

	lock   sync.Mutex
	handle afero.File

	backup *backupWriter
}

// FileOption configures a File backend.
type FileOption func(f *File)

// WithFs returns a FileOption that sets the filesystem. Defaults to the OS
// filesystem. File locking only applies to OS files.
func WithFs(fs afero.Fs) FileOption {
	return func(f *File) {
		f.fs = fs
	}
}

// WithFileLogger returns a FileOption that sets the logger.
func WithFileLogger(logger zerolog.Logger) FileOption {
	return func(f *File) {
		f.log = logger
	}
}

// NewFile returns a File backend for the named container stored in dir.
func NewFile(dir, name string, options ...FileOption) *File {
	f := &File{
		fs:          afero.NewOsFs(),
		dir:         dir,
		name:        name,
		primaryPath: filepath.Join(dir, name+PrimarySuffix),
		log:         log.Logger,
	}
	for _, opt := range options {
		opt(f)
	}
	f.log = f.log.With().Str("container", name).Logger()
	f.backup = newBackupWriter(f.fs, filepath.Join(dir, name+BackupSuffix), f.log)
	return f
}

// FileFactory returns a kvstore.BackendFactory building File backends in dir.
// An empty dir selects DefaultDir.
func FileFactory(dir string, options ...FileOption) kvstore.BackendFactory {
	return func(name string) (kvstore.Backend, error) {
		d := dir
		if d == "" {
			var err error
			if d, err = DefaultDir(); err != nil {
				return nil, err
			}
		}
		return NewFile(d, name, options...), nil
	}
}

// PrimaryPath returns the path of the primary snapshot.
func (f *File) PrimaryPath() string {
	return f.primaryPath
}

// BackupPath returns the path of the backup snapshot.
func (f *File) BackupPath() string {
	return f.backup.path
}

// Exists reports whether the primary or the backup snapshot is present.
// It never creates either file.
func (f *File) Exists() (bool, error) {
	for _, p := range []string{f.primaryPath, f.backup.path} {
		ok, err := afero.Exists(f.fs, p)
		if err != nil {
			return false, errors.Wrap(err, "File.Exists")
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Load reads the primary snapshot. An empty primary file means first run: the
// backup is used if it holds data, otherwise initial is written. An unreadable
// or undecodable primary is recovered from the backup, or replaced by an empty
// store if the backup is unusable too; the result is flushed straight away to
// repair the primary. Corruption is never returned as an error.
func (f *File) Load(ctx context.Context, initial map[string]any) (map[string]any, error) {
	if err := f.fs.MkdirAll(f.dir, dirMode); err != nil {
		return nil, errors.Wrap(err, "File.Load MkdirAll")
	}

	raw, err := f.readPrimary()
	if err == nil && len(raw) == 0 {
		if data, ok := f.readBackup(); ok && len(data) > 0 {
			f.log.Warn().Msg("File.Load primary empty, restored from backup")
			kvstore.RecordRecovery(f.name, kvstore.RecoveredFromBackup)
			f.repair(ctx, data)
			return data, nil
		}
		data := initial
		if data == nil {
			data = map[string]any{}
		}
		if err := f.Flush(ctx, data); err != nil {
			return nil, errors.Wrap(err, "File.Load initial flush")
		}
		return data, nil
	}

	if err == nil {
		data, decodeErr := kvstore.DecodeSnapshot(raw)
		if decodeErr == nil {
			return data, nil
		}
		err = decodeErr
	}

	f.log.Warn().Err(err).Str("path", f.primaryPath).Msg("File.Load primary unusable, recovering from backup")
	data, ok := f.readBackup()
	if ok {
		kvstore.RecordRecovery(f.name, kvstore.RecoveredFromBackup)
	} else {
		f.log.Error().Str("path", f.backup.path).Msg("File.Load backup unusable, starting empty")
		kvstore.RecordRecovery(f.name, kvstore.RecoveredEmpty)
		data = map[string]any{}
	}
	f.repair(ctx, data)
	return data, nil
}

// Flush writes data over the primary file under an exclusive lock, truncates
// it to the new length and syncs it. The backup is rewritten asynchronously.
func (f *File) Flush(ctx context.Context, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "File.Flush")
	}
	b, err := kvstore.EncodeSnapshot(data)
	if err != nil {
		return errors.Wrap(err, "File.Flush")
	}

	f.lock.Lock()
	defer f.lock.Unlock()

	h, err := f.open()
	if err != nil {
		return err
	}
	if err := lockFile(h); err != nil {
		return errors.Wrap(err, "File.Flush lock")
	}
	defer func() {
		if err := unlockFile(h); err != nil {
			f.log.Error().Err(err).Msg("File.Flush unlock")
		}
	}()

	if _, err := h.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "File.Flush Seek")
	}
	if _, err := h.Write(b); err != nil {
		return errors.Wrap(err, "File.Flush Write")
	}
	if err := h.Truncate(int64(len(b))); err != nil {
		return errors.Wrap(err, "File.Flush Truncate")
	}
	if err := h.Sync(); err != nil {
		return errors.Wrap(err, "File.Flush Sync")
	}

	f.backup.write(b)
	return nil
}

// Delete removes the primary and backup files. Both are attempted; a missing
// file is reported as kvstore.ErrNotFound.
func (f *File) Delete(_ context.Context) error {
	f.backup.wait()
	if err := f.Close(); err != nil {
		f.log.Warn().Err(err).Msg("File.Delete close")
	}

	var result *multierror.Error
	for _, p := range []string{f.primaryPath, f.backup.path} {
		if err := f.fs.Remove(p); err != nil {
			if os.IsNotExist(err) {
				err = errors.Wrap(kvstore.ErrNotFound, p)
			}
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return errors.Wrap(err, "File.Delete")
	}
	return nil
}

// Close waits for outstanding backup writes and closes the primary handle.
func (f *File) Close() error {
	f.backup.wait()
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.handle == nil {
		return nil
	}
	err := f.handle.Close()
	f.handle = nil
	if err != nil {
		return errors.Wrap(err, "File.Close")
	}
	return nil
}

// open must be called with the lock held.
func (f *File) open() (afero.File, error) {
	if f.handle != nil {
		return f.handle, nil
	}
	h, err := f.fs.OpenFile(f.primaryPath, os.O_RDWR|os.O_CREATE, fileMode)
	if err != nil {
		return nil, errors.Wrap(err, "File open")
	}
	f.handle = h
	return h, nil
}

func (f *File) readPrimary() ([]byte, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	h, err := f.open()
	if err != nil {
		return nil, err
	}
	if _, err := h.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "File.readPrimary Seek")
	}
	raw, err := io.ReadAll(h)
	if err != nil {
		return nil, errors.Wrap(err, "File.readPrimary ReadAll")
	}
	return raw, nil
}

func (f *File) readBackup() (map[string]any, bool) {
	raw, err := afero.ReadFile(f.fs, f.backup.path)
	if err != nil {
		if !os.IsNotExist(err) {
			f.log.Error().Err(err).Msg("File.readBackup")
		}
		return nil, false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, false
	}
	data, err := kvstore.DecodeSnapshot(raw)
	if err != nil {
		f.log.Error().Err(err).Msg("File.readBackup decode")
		return nil, false
	}
	return data, true
}

func (f *File) repair(ctx context.Context, data map[string]any) {
	if err := f.Flush(ctx, data); err != nil {
		f.log.Error().Err(err).Msg("File.Load repair flush failed")
	}
}
