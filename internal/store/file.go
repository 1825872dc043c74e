package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// File implements Store as one <recipient>.txt file per recipient.
type File struct {
	dir string
}

// NewFile creates a file store rooted at dir, creating it if needed.
// An empty dir means the working directory.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &File{dir: dir}, nil
}

// Path returns the file a recipient's message is stored in.
func (f *File) Path(recipient string) (string, error) {
	key, err := RecipientKey(recipient)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.dir, key+".txt"), nil
}

// Store writes the record to a temp file and renames it over the recipient file.
func (f *File) Store(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := prepare(env)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, "."+key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create message file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.WriteString(FormatRecord(env)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write message file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write message file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to set message file mode: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(f.dir, key+".txt")); err != nil {
		return fmt.Errorf("failed to move message file into place: %w", err)
	}
	return nil
}

// Load reads the recipient file back.
func (f *File) Load(ctx context.Context, recipient string) (Envelope, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}
	path, err := f.Path(recipient)
	if err != nil {
		return Envelope{}, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Envelope{}, ErrNotFound
	} else if err != nil {
		return Envelope{}, fmt.Errorf("failed to read message file: %w", err)
	}

	return ParseRecord(recipient, string(data)), nil
}

// Type returns the type of this store
func (f *File) Type() string {
	return "file"
}

// Close is a no-op for the file store.
func (f *File) Close() error {
	return nil
}
