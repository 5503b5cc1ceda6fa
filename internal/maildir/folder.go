package maildir

import "path/filepath"

type SubFolder string

const (
	Cur SubFolder = "cur"
	New SubFolder = "new"
	Tmp SubFolder = "tmp"
)

// Folder is one flattened local Maildir directory. The zero name denotes the
// inbox, which is the store root itself.
type Folder struct {
	path string
	name string
}

func (f Folder) Path() string {
	return f.path
}

// Name is the flattened directory name (".Work.Projects"), or "" for the inbox.
func (f Folder) Name() string {
	return f.name
}

func (f Folder) IsInbox() bool {
	return f.name == ""
}

func (f Folder) Sub(sub SubFolder) string {
	return filepath.Join(f.path, string(sub))
}

func (f Folder) CurPath() string { return f.Sub(Cur) }
func (f Folder) NewPath() string { return f.Sub(New) }
func (f Folder) TmpPath() string { return f.Sub(Tmp) }

func (f Folder) String() string {
	if f.IsInbox() {
		return defaultMailbox
	}
	return f.name
}
