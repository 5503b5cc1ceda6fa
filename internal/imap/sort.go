package imap

import (
	"errors"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/commands"
	"github.com/emersion/go-imap/responses"
)

// ErrSortUnsupported is returned when SORT is requested from a server that
// does not advertise it.
var ErrSortUnsupported = errors.New("imap server does not support SORT")

const sortArrival = "ARRIVAL"

// sortCommand is the RFC 5256 SORT command, sent wrapped in UID.
type sortCommand struct {
	Criteria []string
	Charset  string
	Search   *imap.SearchCriteria
}

func (cmd *sortCommand) Command() *imap.Command {
	search := cmd.Search
	if search == nil {
		search = imap.NewSearchCriteria()
	}
	charset := cmd.Charset
	if charset == "" {
		charset = "UTF-8"
	}
	keys := make([]interface{}, 0, len(cmd.Criteria))
	for _, key := range cmd.Criteria {
		keys = append(keys, imap.RawString(key))
	}
	args := []interface{}{keys, imap.RawString(charset)}
	args = append(args, search.Format()...)
	return &imap.Command{
		Name:      "SORT",
		Arguments: args,
	}
}

type sortResponse struct {
	UIDs []uint32
}

func (r *sortResponse) Handle(resp imap.Resp) error {
	name, fields, ok := imap.ParseNamedResp(resp)
	if !ok || name != "SORT" {
		return responses.ErrUnhandled
	}
	uids, err := parseSortFields(fields)
	if err != nil {
		return err
	}
	r.UIDs = append(r.UIDs, uids...)
	return nil
}

func parseSortFields(fields []interface{}) ([]uint32, error) {
	uids := make([]uint32, 0, len(fields))
	for _, field := range fields {
		uid, err := imap.ParseNumber(field)
		if err != nil {
			return nil, err
		}
		uids = append(uids, uid)
	}
	return uids, nil
}

func executeSort(c Client, caps map[string]bool, criteria []string, charset string, search *imap.SearchCriteria) ([]uint32, error) {
	if !caps["SORT"] {
		return nil, ErrSortUnsupported
	}

	cmd := &sortCommand{
		Criteria: criteria,
		Charset:  charset,
		Search:   search,
	}
	res := &sortResponse{}
	status, err := c.Execute(&commands.Uid{Cmd: cmd}, res)
	if err != nil {
		return nil, err
	}
	if statusErr := status.Err(); statusErr != nil {
		return nil, statusErr
	}
	return res.UIDs, nil
}
