package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"imap2local/internal/config"
	"imap2local/internal/maildir"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newLocalCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "local",
		Short: "Inspect the local Maildir store",
	}
	cmd.PersistentFlags().StringVarP(&output, "output", "o", "", "Directory holding the Maildir store (default from config)")

	openStore := func(cmd *cobra.Command) (*maildir.Store, error) {
		root, err := localRoot(opts)
		if err != nil {
			return nil, err
		}
		if cmd.Flags().Changed("output") {
			root = output
		}
		return maildir.NewStore(root, nil), nil
	}

	cmd.AddCommand(newLocalStatsCmd(openStore))
	cmd.AddCommand(newLocalLsCmd(openStore))
	return cmd
}

// localRoot reads the store location without resolving credentials, so
// inspecting the store never opens the keyring.
func localRoot(opts *rootOptions) (string, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return "", err
	}
	return cfg.Local.Root, nil
}

func newLocalStatsCmd(openStore func(*cobra.Command) (*maildir.Store, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count messages per local folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			folders, err := store.Folders()
			if err != nil {
				return err
			}

			stats := make([]maildir.FolderStats, 0, len(folders))
			for _, f := range folders {
				s, err := store.Stats(f)
				if err != nil {
					return err
				}
				stats = append(stats, s)
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

func newLocalLsCmd(openStore func(*cobra.Command) (*maildir.Store, error)) *cobra.Command {
	var separator string

	cmd := &cobra.Command{
		Use:   "ls <folder>",
		Short: "List the messages of a local folder, named as on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			headers, err := store.Headers(store.Flatten(args[0], separator))
			if err != nil {
				return err
			}
			printHeaders(cmd.OutOrStdout(), headers)
			return nil
		},
	}

	cmd.Flags().StringVar(&separator, "separator", "/", "Hierarchy separator used in the folder name")
	return cmd
}

func printStats(out io.Writer, stats []maildir.FolderStats) {
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "FOLDER\tNEW\tCUR\tPATH")
	total := 0
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Folder, humanize.Comma(int64(s.New)), humanize.Comma(int64(s.Cur)), s.Folder.Path())
		total += s.New + s.Cur
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "%s messages in %d folders\n", humanize.Comma(int64(total)), len(stats))
}

func printHeaders(out io.Writer, headers []maildir.MessageHeader) {
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tSIZE\tFROM\tSUBJECT")
	for _, h := range headers {
		date := ""
		if !h.Date.IsZero() {
			date = h.Date.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", date, humanize.Bytes(uint64(h.Size)), h.From, h.Subject)
	}
	_ = tw.Flush()
}
