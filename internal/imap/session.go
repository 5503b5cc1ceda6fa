package imap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/emersion/go-imap"
)

type fetchOptions struct {
	partial bool
	size    int
}

// Session is one authenticated connection. It is not safe for concurrent use:
// message bodies are fetched from the folder selected last.
type Session struct {
	client    Client
	account   string
	delimiter string
	caps      map[string]bool
	fetch     fetchOptions
	logger    *slog.Logger
}

// Separator is the hierarchy delimiter of the default namespace, "" for a
// flat namespace.
func (s *Session) Separator() string {
	return s.delimiter
}

func (s *Session) Account() string {
	return s.account
}

func (s *Session) SupportsSort() bool {
	return s.caps["SORT"]
}

func (s *Session) Close() error {
	return s.client.Logout()
}

// ListFolders walks the folder tree depth-first, parents before children, in
// the order the server lists each level. A folder is returned when it exists
// and can hold messages; children are visited either way.
//
// A failure below the root does not stop the walk: the folders found so far
// are returned together with an ErrEnumeration error describing every branch
// that could not be listed.
func (s *Session) ListFolders() ([]Folder, error) {
	top, err := s.list("%")
	if err != nil {
		return nil, fmt.Errorf("%w: list root: %w", ErrEnumeration, err)
	}

	folders := []Folder{}
	var errs []error
	for _, info := range top {
		s.walk(newFolder(info, s.delimiter), &folders, &errs)
	}
	if len(errs) > 0 {
		return folders, fmt.Errorf("%w: %w", ErrEnumeration, errors.Join(errs...))
	}
	return folders, nil
}

func (s *Session) walk(folder Folder, folders *[]Folder, errs *[]error) {
	if folder.Exists() && folder.HoldsMessages() {
		*folders = append(*folders, folder)
	}
	if folder.Delimiter == "" || !folder.mayHaveChildren() {
		return
	}

	children, err := s.list(folder.Name + folder.Delimiter + "%")
	if err != nil {
		s.logger.Warn("list children failed", "folder", folder.Name, "err", err)
		*errs = append(*errs, fmt.Errorf("list children of %q: %w", folder.Name, err))
		return
	}
	for _, info := range children {
		if info.Name == folder.Name {
			continue
		}
		s.walk(newFolder(info, folder.Delimiter), folders, errs)
	}
}

func (s *Session) list(pattern string) ([]*imap.MailboxInfo, error) {
	ch := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.client.List("", pattern, ch)
	}()
	var infos []*imap.MailboxInfo
	for info := range ch {
		if info != nil {
			infos = append(infos, info)
		}
	}
	return infos, <-done
}

// FetchMessages opens the folder read-only and returns its messages, in
// arrival order when the server supports SORT and in mailbox order otherwise.
func (s *Session) FetchMessages(folder Folder) ([]Message, error) {
	status, err := s.client.Select(folder.Name, true)
	if err != nil {
		return nil, fmt.Errorf("%w: select %q: %w", ErrFetch, folder.Name, err)
	}
	if status.Messages == 0 {
		return []Message{}, nil
	}

	uids, err := s.orderedUIDs()
	if err != nil {
		return nil, fmt.Errorf("%w: list messages of %q: %w", ErrFetch, folder.Name, err)
	}
	if len(uids) == 0 {
		return []Message{}, nil
	}

	sizes, err := s.sizes(uids)
	if err != nil {
		return nil, fmt.Errorf("%w: message sizes of %q: %w", ErrFetch, folder.Name, err)
	}

	messages := make([]Message, 0, len(uids))
	for _, uid := range uids {
		messages = append(messages, &remoteMessage{
			client: s.client,
			uid:    uid,
			size:   sizes[uid],
			fetch:  s.fetch,
		})
	}
	return messages, nil
}

func (s *Session) orderedUIDs() ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	if s.SupportsSort() {
		uids, err := executeSort(s.client, s.caps, []string{sortArrival}, "UTF-8", criteria)
		if err == nil {
			return uids, nil
		}
		s.logger.Warn("sort by arrival failed, using mailbox order", "err", err)
	}

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, err
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (s *Session) sizes(uids []uint32) (map[uint32]uint32, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	items := []imap.FetchItem{imap.FetchUid, imap.FetchRFC822Size}
	ch := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqset, items, ch)
	}()
	sizes := make(map[uint32]uint32, len(uids))
	for msg := range ch {
		if msg == nil || msg.Uid == 0 {
			continue
		}
		sizes[msg.Uid] = msg.Size
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return sizes, nil
}

type remoteMessage struct {
	client Client
	uid    uint32
	size   uint32
	fetch  fetchOptions
}

func (m *remoteMessage) UID() uint32  { return m.uid }
func (m *remoteMessage) Size() uint32 { return m.size }

func (m *remoteMessage) Body() io.Reader {
	return &bodyReader{
		client:  m.client,
		uid:     m.uid,
		partial: m.fetch.partial && m.fetch.size > 0,
		chunk:   m.fetch.size,
	}
}
