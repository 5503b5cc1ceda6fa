package imap

import (
	"fmt"
	"io"

	"github.com/emersion/go-imap"
)

// bodyReader streams a message body. With partial fetch enabled the body is
// requested as BODY.PEEK[]<offset.chunk> ranges, so at most one chunk is held
// in memory; a short chunk marks the end of the message.
type bodyReader struct {
	client  Client
	uid     uint32
	partial bool
	chunk   int
	offset  int
	buf     []byte
	done    bool
	err     error
}

func (r *bodyReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.done {
			return 0, io.EOF
		}
		r.fill()
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *bodyReader) fill() {
	section := &imap.BodySectionName{Peek: true}
	if r.partial {
		section.Partial = []int{r.offset, r.chunk}
	}

	data, err := fetchSection(r.client, r.uid, section)
	if err != nil {
		r.err = err
		return
	}
	r.buf = data
	r.offset += len(data)
	if !r.partial || len(data) < r.chunk {
		r.done = true
	}
}

func fetchSection(c Client, uid uint32, section *imap.BodySectionName) ([]byte, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, ch)
	}()

	var data []byte
	var readErr error
	found := false
	for msg := range ch {
		if msg == nil || found || (msg.Uid != 0 && msg.Uid != uid) {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		found = true
		data, readErr = io.ReadAll(body)
	}
	if err := <-done; err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, readErr
	}
	if !found {
		return nil, fmt.Errorf("message %d not found", uid)
	}
	return data, nil
}
