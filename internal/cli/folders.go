package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"imap2local/internal/imap"
	"imap2local/internal/maildir"

	"github.com/spf13/cobra"
)

func newFoldersCmd(opts *rootOptions) *cobra.Command {
	var conn connectionFlags

	cmd := &cobra.Command{
		Use:   "folders",
		Short: "List the remote folders that sync would copy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := prepareConfig(cmd, opts, &conn)
			if err != nil {
				return err
			}

			logger := newLogger(cmd.ErrOrStderr(), opts.verbose)
			folders, delimiter, err := newIMAPService(logger).ListFolders(cfg)
			if folders == nil && err != nil {
				return err
			}

			printFolders(cmd.OutOrStdout(), folders, maildir.NewStore(cfg.Local.Root, nil), delimiter)
			return err
		},
	}

	conn.register(cmd)
	return cmd
}

func printFolders(out io.Writer, folders []imap.Folder, store *maildir.Store, delimiter string) {
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "REMOTE\tLOCAL")
	for _, f := range folders {
		sep := f.Delimiter
		if sep == "" {
			sep = delimiter
		}
		fmt.Fprintf(tw, "%s\t%s\n", f.Name, store.Flatten(f.Name, sep).Path())
	}
	_ = tw.Flush()
}
