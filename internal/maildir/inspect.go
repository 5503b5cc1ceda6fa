package maildir

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-maildir"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// FolderStats counts the messages of one local folder.
type FolderStats struct {
	Folder Folder
	New    int
	Cur    int
}

// MessageHeader is the header summary of one local message file.
type MessageHeader struct {
	File    string
	Date    time.Time
	From    string
	Subject string
	Size    int64
}

// Folders returns the folders present in the store: the inbox first when it
// has been created, then every dot directory in name order.
func (s *Store) Folders() ([]Folder, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	var folders []Folder
	if isMaildir(s.root) {
		folders = append(folders, Folder{path: s.root})
	}

	names := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !strings.HasPrefix(name, folderSeparator) || name == "." || name == ".." {
			continue
		}
		if isMaildir(filepath.Join(s.root, name)) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		folders = append(folders, Folder{path: filepath.Join(s.root, name), name: name})
	}
	return folders, nil
}

func (s *Store) Stats(f Folder) (FolderStats, error) {
	unseen, err := maildir.Dir(f.path).UnseenCount()
	if err != nil {
		return FolderStats{}, fmt.Errorf("count %s: %w", f, err)
	}
	cur, err := countFiles(f.CurPath())
	if err != nil {
		return FolderStats{}, fmt.Errorf("count %s: %w", f, err)
	}
	return FolderStats{Folder: f, New: unseen, Cur: cur}, nil
}

// Headers parses the header of every message in new/ and cur/, oldest
// filename first. Files whose header cannot be parsed are listed with an
// empty summary.
func (s *Store) Headers(f Folder) ([]MessageHeader, error) {
	var headers []MessageHeader
	for _, sub := range []SubFolder{New, Cur} {
		entries, err := os.ReadDir(f.Sub(sub))
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			headers = append(headers, readHeader(filepath.Join(f.Sub(sub), entry.Name())))
		}
	}
	sort.Slice(headers, func(i, j int) bool {
		return filepath.Base(headers[i].File) < filepath.Base(headers[j].File)
	})
	return headers, nil
}

func readHeader(path string) MessageHeader {
	summary := MessageHeader{File: path}
	file, err := os.Open(path)
	if err != nil {
		return summary
	}
	defer file.Close()

	if info, err := file.Stat(); err == nil {
		summary.Size = info.Size()
	}

	reader, err := mail.CreateReader(file)
	if err != nil && !message.IsUnknownCharset(err) {
		return summary
	}
	defer reader.Close()

	summary.Subject, _ = reader.Header.Subject()
	summary.Date, _ = reader.Header.Date()
	if from, err := reader.Header.AddressList("From"); err == nil {
		summary.From = formatAddresses(from)
	}
	return summary
}

func formatAddresses(addrs []*mail.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if addr == nil {
			continue
		}
		if addr.Name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", addr.Name, addr.Address))
		} else {
			parts = append(parts, addr.Address)
		}
	}
	return strings.Join(parts, ", ")
}

func isMaildir(path string) bool {
	for _, sub := range []SubFolder{Cur, New, Tmp} {
		info, err := os.Stat(filepath.Join(path, string(sub)))
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}

func countFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			n++
		}
	}
	return n, nil
}
