package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"imap2local/internal/imap"
	"imap2local/internal/maildir"
)

// ErrTransfer marks a single message that could not be copied. It never ends
// a run on its own.
var ErrTransfer = errors.New("message transfer failed")

// Source is the remote side of a run. *imap.Session implements it.
type Source interface {
	Separator() string
	ListFolders() ([]imap.Folder, error)
	FetchMessages(folder imap.Folder) ([]imap.Message, error)
}

type Options struct {
	// AllowPartialListing continues with the folders that were found when
	// some branches of the tree could not be listed.
	AllowPartialListing bool
	// SkipFailedFolders records a folder that cannot be opened and moves on
	// instead of aborting the run.
	SkipFailedFolders bool
}

// Mirror copies every message of every remote folder into the local store.
// Remote state is never modified and local messages always land in new/.
type Mirror struct {
	Source  Source
	Store   *maildir.Store
	Options Options
	Out     io.Writer
	Logger  *slog.Logger
}

func New(source Source, store *maildir.Store, opts Options, out io.Writer, logger *slog.Logger) *Mirror {
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		Source:  source,
		Store:   store,
		Options: opts,
		Out:     out,
		Logger:  logger.With("component", "mirror"),
	}
}

// Run mirrors the folders in listing order, one message at a time. Connection,
// enumeration, folder creation and folder fetch failures end the run; a failed
// message is recorded in the report and the run continues with the next one.
// The report is returned even when the run ends early.
func (m *Mirror) Run(ctx context.Context) (Report, error) {
	var report Report

	folders, err := m.Source.ListFolders()
	if err != nil {
		if !m.Options.AllowPartialListing || len(folders) == 0 {
			return report, err
		}
		m.Logger.Warn("folder listing incomplete, continuing with partial list",
			"found", len(folders), "err", err)
		report.ListingErr = err
	}

	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		summary, err := m.mirrorFolder(ctx, folder)
		report.Folders = append(report.Folders, summary)
		if err != nil {
			return report, err
		}
	}

	fmt.Fprintln(m.Out, "Done!")
	return report, nil
}

func (m *Mirror) mirrorFolder(ctx context.Context, folder imap.Folder) (FolderSummary, error) {
	separator := folder.Delimiter
	if separator == "" {
		separator = m.Source.Separator()
	}
	local := m.Store.Flatten(folder.Name, separator)
	summary := FolderSummary{Remote: folder.Name, Local: local.Path()}
	logger := m.Logger.With("folder", folder.Name)

	fmt.Fprintf(m.Out, "Processing folder: %s\n", folder.Name)

	if err := m.Store.CreateStructure(local); err != nil {
		summary.Err = err
		return summary, err
	}

	messages, err := m.Source.FetchMessages(folder)
	if err != nil {
		summary.Err = err
		if m.Options.SkipFailedFolders {
			logger.Error("skipping folder", "err", err)
			return summary, nil
		}
		return summary, err
	}

	summary.Total = len(messages)
	if len(messages) == 0 {
		fmt.Fprintln(m.Out, "Folder empty. Moving on!")
		return summary, nil
	}

	for i, msg := range messages {
		if err := ctx.Err(); err != nil {
			fmt.Fprintln(m.Out)
			return summary, err
		}
		fmt.Fprintf(m.Out, "\rDownloading message %d of %d", i+1, len(messages))

		delivery, err := m.Store.Deliver(local, msg.Body())
		if err != nil {
			failure := TransferFailure{
				Index: i + 1,
				UID:   msg.UID(),
				Err:   fmt.Errorf("%w: %w", ErrTransfer, err),
			}
			summary.Failures = append(summary.Failures, failure)
			logger.Error("message transfer failed", "index", failure.Index, "uid", failure.UID, "err", err)
			continue
		}
		summary.Written++
		summary.Bytes += delivery.Bytes
		logger.Debug("message written", "uid", msg.UID(), "path", delivery.Path, "bytes", delivery.Bytes)
	}
	fmt.Fprintln(m.Out)

	return summary, nil
}
