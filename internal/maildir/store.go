package maildir

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-maildir"
)

// ErrMaildir marks a failure to create the local structure of a folder.
var ErrMaildir = errors.New("maildir error")

const (
	storeDirName    = "Maildir"
	folderSeparator = "."
	markerFile      = "maildirfolder"
	defaultMailbox  = "INBOX"
)

// Store is a local Maildir++ store rooted at <location>/Maildir.
type Store struct {
	root     string
	ids      *IDGenerator
	hostname string
	now      func() time.Time
}

// NewStore creates a store under location; an empty location means the
// current working directory. Nothing is created on disk until
// CreateStructure is called.
func NewStore(location string, ids *IDGenerator) *Store {
	root := storeDirName
	if location != "" {
		root = filepath.Join(location, storeDirName)
	}
	if ids == nil {
		ids = NewIDGenerator()
	}
	return &Store{
		root:     root,
		ids:      ids,
		hostname: getHostname(),
		now:      time.Now,
	}
}

func (s *Store) Root() string {
	return s.root
}

// Flatten maps a remote folder name onto its local folder. INBOX (any case)
// is the store root; anything else becomes a single ".a.b.c" directory with
// every occurrence of separator replaced by a dot. Literal dots in remote
// names are kept as is, so "A.B" and "A/B" share a directory.
func (s *Store) Flatten(name, separator string) Folder {
	if strings.EqualFold(name, defaultMailbox) {
		return Folder{path: s.root}
	}
	flat := name
	if separator != "" && separator != folderSeparator {
		flat = strings.ReplaceAll(flat, separator, folderSeparator)
	}
	// The local path separator cannot appear inside a single directory name.
	flat = strings.ReplaceAll(flat, string(filepath.Separator), "_")
	dir := folderSeparator + flat
	return Folder{path: filepath.Join(s.root, dir), name: dir}
}

// CreateStructure makes sure the folder directory, its marker file and the
// cur/new/tmp subfolders exist. Existing entries are reused. A failure leaves
// whatever was already created in place.
func (s *Store) CreateStructure(f Folder) error {
	if !s.contains(f) {
		return fmt.Errorf("%w: %q is not a folder of store %s", ErrMaildir, f.path, s.root)
	}

	if err := os.MkdirAll(f.path, 0o700); err != nil {
		return fmt.Errorf("%w: create folder %s: %w", ErrMaildir, f.path, err)
	}

	marker, err := os.OpenFile(filepath.Join(f.path, markerFile), os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("%w: create marker file in %s: %w", ErrMaildir, f.path, err)
	}
	if err := marker.Close(); err != nil {
		return fmt.Errorf("%w: create marker file in %s: %w", ErrMaildir, f.path, err)
	}

	if err := maildir.Dir(f.path).Init(); err != nil {
		return fmt.Errorf("%w: create subfolders of %s: %w", ErrMaildir, f.path, err)
	}
	return nil
}

func (s *Store) contains(f Folder) bool {
	if f.IsInbox() {
		return filepath.Clean(f.path) == filepath.Clean(s.root)
	}
	if f.name == folderSeparator || f.name == ".." {
		return false
	}
	return filepath.Dir(f.path) == filepath.Clean(s.root)
}

// NewMessagePath allocates a fresh filename in the given subfolder. Every call
// consumes one id.
func (s *Store) NewMessagePath(f Folder, sub SubFolder) string {
	name := fmt.Sprintf("%d.%d.%s", s.now().Unix(), s.ids.Next(), s.hostname)
	return filepath.Join(f.Sub(sub), name)
}

// Delivery describes one message written to new/.
type Delivery struct {
	Path  string
	Bytes int64
}

// ReadError reports that the message source failed, as opposed to the local write.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string { return "read message: " + e.Err.Error() }
func (e *ReadError) Unwrap() error { return e.Err }

// Deliver copies r verbatim into the folder's new/ subfolder. The message is
// written under tmp/ first and renamed once complete, so a failed copy never
// leaves a truncated file in new/.
func (s *Store) Deliver(f Folder, r io.Reader) (Delivery, error) {
	tmpPath := s.NewMessagePath(f, Tmp)
	newPath := filepath.Join(f.NewPath(), filepath.Base(tmpPath))

	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return Delivery{}, fmt.Errorf("create %s: %w", tmpPath, err)
	}

	src := &sourceReader{r: r}
	n, err := io.Copy(file, src)
	if err == nil {
		err = file.Sync()
	}
	if closeErr := file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		if src.err != nil {
			return Delivery{}, &ReadError{Err: src.err}
		}
		return Delivery{}, fmt.Errorf("write %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, newPath); err != nil {
		_ = os.Remove(tmpPath)
		return Delivery{}, fmt.Errorf("move %s to new: %w", tmpPath, err)
	}

	return Delivery{Path: newPath, Bytes: n}, nil
}

// sourceReader remembers the first non-EOF error returned by the source.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF && s.err == nil {
		s.err = err
	}
	return n, err
}
