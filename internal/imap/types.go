package imap

import (
	"io"
	"strings"

	"github.com/emersion/go-imap"
)

const nonExistentAttr = "\\NonExistent"

// Folder is a snapshot of one remote mailbox taken during enumeration.
type Folder struct {
	Name       string
	Delimiter  string
	Attributes []string
}

func newFolder(info *imap.MailboxInfo, delimiter string) Folder {
	if info.Delimiter != "" {
		delimiter = info.Delimiter
	}
	return Folder{
		Name:       info.Name,
		Delimiter:  delimiter,
		Attributes: info.Attributes,
	}
}

// Exists is false for placeholder entries the server reports as \NonExistent.
func (f Folder) Exists() bool {
	return !f.has(nonExistentAttr)
}

// HoldsMessages reports whether the folder can be selected.
func (f Folder) HoldsMessages() bool {
	return !f.has(imap.NoSelectAttr)
}

func (f Folder) mayHaveChildren() bool {
	return !f.has(imap.NoInferiorsAttr) && !f.has(imap.HasNoChildrenAttr)
}

func (f Folder) has(attr string) bool {
	for _, a := range f.Attributes {
		if strings.EqualFold(a, attr) {
			return true
		}
	}
	return false
}

// Message is one remote message. Its body can be read once, in full.
type Message interface {
	UID() uint32
	Size() uint32
	Body() io.Reader
}
