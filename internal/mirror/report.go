package mirror

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
)

// TransferFailure is one message that was skipped. Index is 1-based in the
// order the folder's messages were listed.
type TransferFailure struct {
	Index int
	UID   uint32
	Err   error
}

func (f TransferFailure) Error() string {
	return fmt.Sprintf("message %d (uid %d): %v", f.Index, f.UID, f.Err)
}

func (f TransferFailure) Unwrap() error { return f.Err }

type FolderSummary struct {
	Remote   string
	Local    string
	Total    int
	Written  int
	Bytes    int64
	Failures []TransferFailure
	// Err is set when the folder was skipped or ended the run.
	Err error
}

// Report collects the outcome of a run, folder by folder.
type Report struct {
	Folders []FolderSummary
	// ListingErr is the enumeration error tolerated by AllowPartialListing.
	ListingErr error
}

func (r Report) Written() int {
	n := 0
	for _, f := range r.Folders {
		n += f.Written
	}
	return n
}

func (r Report) Failed() int {
	n := 0
	for _, f := range r.Folders {
		n += len(f.Failures)
	}
	return n
}

func (r Report) Bytes() int64 {
	var n int64
	for _, f := range r.Folders {
		n += f.Bytes
	}
	return n
}

// WriteSummary prints one line per folder followed by the totals.
func (r Report) WriteSummary(out io.Writer) {
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "FOLDER\tMESSAGES\tWRITTEN\tFAILED\tSIZE\tSTATUS")
	for _, f := range r.Folders {
		status := "ok"
		if f.Err != nil {
			status = f.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n",
			f.Remote, f.Total, f.Written, len(f.Failures), humanize.Bytes(uint64(f.Bytes)), status)
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "%d folders, %d messages written (%s), %d failed\n",
		len(r.Folders), r.Written(), humanize.Bytes(uint64(r.Bytes())), r.Failed())
	if r.ListingErr != nil {
		fmt.Fprintf(out, "warning: folder listing incomplete: %v\n", r.ListingErr)
	}
}
