package imap

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"imap2local/internal/config"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/responses"
	"github.com/emersion/go-sasl"
)

type mockClient struct {
	tree      map[string][]*imap.MailboxInfo
	listErr   map[string]error
	caps      map[string]bool
	messages  map[uint32][]byte
	sortOrder []uint32
	selectErr error
	fetchErr  map[uint32]error

	loggedOut  bool
	selected   string
	readOnly   bool
	executed   []*imap.Command
	bodyCalls  map[uint32]int
	listCalled []string
}

func newMockClient() *mockClient {
	return &mockClient{
		tree:      map[string][]*imap.MailboxInfo{},
		listErr:   map[string]error{},
		caps:      map[string]bool{"IMAP4rev1": true},
		messages:  map[uint32][]byte{},
		fetchErr:  map[uint32]error{},
		bodyCalls: map[uint32]int{},
	}
}

func (m *mockClient) Login(username, password string) error { return nil }
func (m *mockClient) Authenticate(auth sasl.Client) error  { return nil }

func (m *mockClient) Logout() error {
	m.loggedOut = true
	return nil
}

func (m *mockClient) Capability() (map[string]bool, error) { return m.caps, nil }

func (m *mockClient) List(ref, name string, ch chan *imap.MailboxInfo) error {
	defer close(ch)
	m.listCalled = append(m.listCalled, name)
	if err := m.listErr[name]; err != nil {
		return err
	}
	for _, info := range m.tree[name] {
		ch <- info
	}
	return nil
}

func (m *mockClient) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	if m.selectErr != nil {
		return nil, m.selectErr
	}
	m.selected = name
	m.readOnly = readOnly
	return &imap.MailboxStatus{Name: name, Messages: uint32(len(m.messages))}, nil
}

func (m *mockClient) UidSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	uids := []uint32{}
	for uid := range m.messages {
		uids = append(uids, uid)
	}
	return uids, nil
}

func (m *mockClient) UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)

	var section *imap.BodySectionName
	wantSize := false
	for _, item := range items {
		switch {
		case item == imap.FetchRFC822Size:
			wantSize = true
		case strings.HasPrefix(string(item), "BODY"):
			parsed, err := imap.ParseBodySectionName(item)
			if err != nil {
				return err
			}
			section = parsed
		}
	}

	for _, uid := range m.sortedUIDs() {
		if !seqset.Contains(uid) {
			continue
		}
		msg := &imap.Message{Uid: uid, Body: map[*imap.BodySectionName]imap.Literal{}}
		if wantSize {
			msg.Size = uint32(len(m.messages[uid]))
		}
		if section != nil {
			m.bodyCalls[uid]++
			if err := m.fetchErr[uid]; err != nil {
				return err
			}
			data := m.messages[uid]
			key := &imap.BodySectionName{BodyPartName: section.BodyPartName}
			if len(section.Partial) == 2 {
				start, size := section.Partial[0], section.Partial[1]
				if start > len(data) {
					start = len(data)
				}
				end := start + size
				if end > len(data) {
					end = len(data)
				}
				data = data[start:end]
				key.Partial = []int{section.Partial[0]}
			}
			msg.Body[key] = bytes.NewBuffer(append([]byte(nil), data...))
		}
		ch <- msg
	}
	return nil
}

func (m *mockClient) Execute(cmdr imap.Commander, h responses.Handler) (*imap.StatusResp, error) {
	cmd := cmdr.Command()
	m.executed = append(m.executed, cmd)
	fields := []interface{}{"SORT"}
	for _, uid := range m.sortOrder {
		fields = append(fields, uid)
	}
	if err := h.Handle(&imap.DataResp{Fields: fields}); err != nil {
		return nil, err
	}
	return &imap.StatusResp{Type: imap.StatusRespOk}, nil
}

func (m *mockClient) sortedUIDs() []uint32 {
	uids, _ := m.UidSearch(nil)
	for i := 1; i < len(uids); i++ {
		for j := i; j > 0 && uids[j] < uids[j-1]; j-- {
			uids[j], uids[j-1] = uids[j-1], uids[j]
		}
	}
	return uids
}

func mailbox(name string, attrs ...string) *imap.MailboxInfo {
	return &imap.MailboxInfo{Name: name, Delimiter: "/", Attributes: attrs}
}

func newTestService(mock *mockClient) *Service {
	return &Service{
		Connector: func(cfg config.Config) (Client, error) {
			return mock, nil
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.IMAP.Host = "imap.example.com"
	cfg.Auth.Username = "user@example.com"
	cfg.Auth.Password = "secret"
	return cfg
}

func folderTree(mock *mockClient) {
	mock.tree[""] = []*imap.MailboxInfo{mailbox("", imap.NoSelectAttr)}
	mock.tree["%"] = []*imap.MailboxInfo{
		mailbox("INBOX", imap.HasNoChildrenAttr),
		mailbox("Archive", imap.HasChildrenAttr),
		mailbox("Shared", imap.NoSelectAttr, imap.HasChildrenAttr),
		mailbox("Old", nonExistentAttr, imap.HasChildrenAttr),
	}
	mock.tree["Archive/%"] = []*imap.MailboxInfo{
		mailbox("Archive/2023", imap.HasNoChildrenAttr),
		mailbox("Archive/2024"),
	}
	mock.tree["Shared/%"] = []*imap.MailboxInfo{mailbox("Shared/Team", imap.NoInferiorsAttr)}
	mock.tree["Old/%"] = []*imap.MailboxInfo{mailbox("Old/Kept", imap.HasNoChildrenAttr)}
}

func folderNames(folders []Folder) []string {
	names := make([]string, 0, len(folders))
	for _, f := range folders {
		names = append(names, f.Name)
	}
	return names
}

func TestOpenRecordsSessionState(t *testing.T) {
	mock := newMockClient()
	folderTree(mock)
	mock.caps["SORT"] = true

	session, err := newTestService(mock).Open(testConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if session.Separator() != "/" {
		t.Fatalf("expected separator /, got %q", session.Separator())
	}
	if session.Account() != "user@example.com" {
		t.Fatalf("unexpected account %q", session.Account())
	}
	if !session.SupportsSort() {
		t.Fatalf("expected SORT support")
	}
	if err := session.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !mock.loggedOut {
		t.Fatalf("expected logout on close")
	}
}

func TestOpenConnectionFailure(t *testing.T) {
	svc := &Service{Connector: func(cfg config.Config) (Client, error) {
		return nil, errors.New("authentication failed")
	}}
	_, err := svc.Open(testConfig())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestListFoldersDepthFirst(t *testing.T) {
	mock := newMockClient()
	folderTree(mock)

	folders, delimiter, err := newTestService(mock).ListFolders(testConfig())
	if err != nil {
		t.Fatalf("list folders: %v", err)
	}
	if delimiter != "/" {
		t.Fatalf("unexpected delimiter %q", delimiter)
	}
	want := []string{"INBOX", "Archive", "Archive/2023", "Archive/2024", "Shared/Team", "Old/Kept"}
	if got := folderNames(folders); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for _, pattern := range mock.listCalled {
		if pattern == "INBOX/%" || pattern == "Archive/2023/%" || pattern == "Shared/Team/%" {
			t.Fatalf("listed children of a leaf folder: %s", pattern)
		}
	}
	if !mock.loggedOut {
		t.Fatalf("expected logout after listing")
	}
}

func TestListFoldersPartialFailure(t *testing.T) {
	mock := newMockClient()
	folderTree(mock)
	mock.listErr["Archive/%"] = errors.New("connection reset")

	session, err := newTestService(mock).Open(testConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	folders, err := session.ListFolders()
	if !errors.Is(err, ErrEnumeration) {
		t.Fatalf("expected enumeration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Archive") {
		t.Fatalf("expected failing branch in error, got %v", err)
	}
	want := []string{"INBOX", "Archive", "Shared/Team", "Old/Kept"}
	if got := folderNames(folders); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestListFoldersRootFailure(t *testing.T) {
	mock := newMockClient()
	folderTree(mock)
	mock.listErr["%"] = errors.New("broken pipe")

	session, err := newTestService(mock).Open(testConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	folders, err := session.ListFolders()
	if !errors.Is(err, ErrEnumeration) {
		t.Fatalf("expected enumeration error, got %v", err)
	}
	if folders != nil {
		t.Fatalf("expected no folders, got %v", folders)
	}
}

func TestListFoldersFlatNamespace(t *testing.T) {
	mock := newMockClient()
	mock.tree["%"] = []*imap.MailboxInfo{
		{Name: "INBOX"},
		{Name: "Sent"},
	}

	session, err := newTestService(mock).Open(testConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	folders, err := session.ListFolders()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if session.Separator() != "" {
		t.Fatalf("expected empty separator, got %q", session.Separator())
	}
	if got := folderNames(folders); strings.Join(got, ",") != "INBOX,Sent" {
		t.Fatalf("unexpected folders %v", got)
	}
}

func openWithMessages(t *testing.T, mock *mockClient, cfg config.Config) *Session {
	t.Helper()
	folderTree(mock)
	session, err := newTestService(mock).Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return session
}

func uidsOf(messages []Message) []uint32 {
	uids := make([]uint32, 0, len(messages))
	for _, m := range messages {
		uids = append(uids, m.UID())
	}
	return uids
}

func TestFetchMessagesMailboxOrder(t *testing.T) {
	mock := newMockClient()
	mock.messages = map[uint32][]byte{7: []byte("seven"), 3: []byte("three"), 5: []byte("five!")}
	session := openWithMessages(t, mock, testConfig())

	messages, err := session.FetchMessages(Folder{Name: "Archive"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if mock.selected != "Archive" || !mock.readOnly {
		t.Fatalf("expected read-only select of Archive, got %q readOnly=%v", mock.selected, mock.readOnly)
	}
	if got := uidsOf(messages); len(got) != 3 || got[0] != 3 || got[1] != 5 || got[2] != 7 {
		t.Fatalf("expected ascending uids, got %v", got)
	}
	if messages[0].Size() != 5 {
		t.Fatalf("expected size 5, got %d", messages[0].Size())
	}
	if len(mock.executed) != 0 {
		t.Fatalf("did not expect SORT without capability")
	}
}

func TestFetchMessagesArrivalOrder(t *testing.T) {
	mock := newMockClient()
	mock.caps["SORT"] = true
	mock.messages = map[uint32][]byte{1: []byte("a"), 2: []byte("b"), 3: []byte("c")}
	mock.sortOrder = []uint32{2, 3, 1}
	session := openWithMessages(t, mock, testConfig())

	messages, err := session.FetchMessages(Folder{Name: "INBOX"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := uidsOf(messages); len(got) != 3 || got[0] != 2 || got[1] != 3 || got[2] != 1 {
		t.Fatalf("expected arrival order, got %v", got)
	}
	if len(mock.executed) != 1 {
		t.Fatalf("expected one SORT command, got %d", len(mock.executed))
	}
	cmd := mock.executed[0]
	if cmd.Name != "UID" || cmd.Arguments[0] != imap.RawString("SORT") {
		t.Fatalf("unexpected command %s %v", cmd.Name, cmd.Arguments)
	}
	keys, ok := cmd.Arguments[1].([]interface{})
	if !ok || len(keys) != 1 || keys[0] != imap.RawString("ARRIVAL") {
		t.Fatalf("unexpected sort criteria %v", cmd.Arguments[1])
	}
}

func TestFetchMessagesEmptyFolder(t *testing.T) {
	mock := newMockClient()
	session := openWithMessages(t, mock, testConfig())

	messages, err := session.FetchMessages(Folder{Name: "Archive/2023"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if messages == nil || len(messages) != 0 {
		t.Fatalf("expected empty, non-nil result, got %v", messages)
	}
}

func TestFetchMessagesSelectFailure(t *testing.T) {
	mock := newMockClient()
	session := openWithMessages(t, mock, testConfig())
	mock.selectErr = errors.New("NO mailbox does not exist")

	_, err := session.FetchMessages(Folder{Name: "Gone"})
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestMessageBodyPartialFetch(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		partial   bool
		size      int
		wantCalls int
	}{
		{name: "uneven chunks", body: "Hello, World!!", partial: true, size: 4, wantCalls: 4},
		{name: "exact multiple", body: "12345678", partial: true, size: 4, wantCalls: 3},
		{name: "single chunk", body: "short", partial: true, size: 1000000, wantCalls: 1},
		{name: "partial disabled", body: "Hello, World!!", partial: false, size: 4, wantCalls: 1},
		{name: "empty body", body: "", partial: true, size: 4, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockClient()
			mock.messages = map[uint32][]byte{42: []byte(tt.body)}
			cfg := testConfig()
			cfg.Fetch.Partial = tt.partial
			cfg.Fetch.Size = tt.size
			session := openWithMessages(t, mock, cfg)

			messages, err := session.FetchMessages(Folder{Name: "INBOX"})
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			got, err := io.ReadAll(messages[0].Body())
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			if string(got) != tt.body {
				t.Fatalf("expected %q, got %q", tt.body, got)
			}
			if mock.bodyCalls[42] != tt.wantCalls {
				t.Fatalf("expected %d body fetches, got %d", tt.wantCalls, mock.bodyCalls[42])
			}
		})
	}
}

func TestMessageBodyFetchFailure(t *testing.T) {
	mock := newMockClient()
	mock.messages = map[uint32][]byte{1: []byte("one"), 2: []byte("two")}
	mock.fetchErr[1] = errors.New("connection reset")
	session := openWithMessages(t, mock, testConfig())

	messages, err := session.FetchMessages(Folder{Name: "INBOX"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, err := io.ReadAll(messages[0].Body()); err == nil {
		t.Fatalf("expected read error for message 1")
	}
	got, err := io.ReadAll(messages[1].Body())
	if err != nil || string(got) != "two" {
		t.Fatalf("expected message 2 to be readable, got %q, %v", got, err)
	}
}

func TestParseSortFields(t *testing.T) {
	uids, err := parseSortFields([]interface{}{"5", uint32(3), imap.RawString("9")})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(uids) != 3 || uids[0] != 5 || uids[1] != 3 || uids[2] != 9 {
		t.Fatalf("unexpected uids %v", uids)
	}
	if _, err := parseSortFields([]interface{}{[]interface{}{}}); err == nil {
		t.Fatalf("expected error for non-numeric field")
	}
}

func TestExecuteSortRequiresCapability(t *testing.T) {
	_, err := executeSort(newMockClient(), map[string]bool{}, []string{sortArrival}, "", nil)
	if !errors.Is(err, ErrSortUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestTrustsHost(t *testing.T) {
	tests := []struct {
		pattern string
		host    string
		want    bool
	}{
		{pattern: "", host: "imap.example.com", want: false},
		{pattern: "*", host: "imap.example.com", want: true},
		{pattern: "mail.local imap.example.com", host: "IMAP.example.com", want: true},
		{pattern: "mail.local", host: "imap.example.com", want: false},
	}
	for _, tt := range tests {
		if got := trustsHost(tt.pattern, tt.host); got != tt.want {
			t.Fatalf("trustsHost(%q, %q) = %v, want %v", tt.pattern, tt.host, got, tt.want)
		}
	}
}

func TestXOAuth2InitialResponse(t *testing.T) {
	mech, ir, err := newXOAuth2Client("user@example.com", "token123").Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if mech != "XOAUTH2" {
		t.Fatalf("unexpected mechanism %q", mech)
	}
	want := "user=user@example.com\x01auth=Bearer token123\x01\x01"
	if string(ir) != want {
		t.Fatalf("unexpected initial response %q", ir)
	}
}
