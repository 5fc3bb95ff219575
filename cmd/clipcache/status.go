package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipcache/internal/authority"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the store's formats and attached processes",
		Long: `Displays the store sequence, its owner, the stored formats and every
attached process.

If a local server is running, the request is sent via the IPC socket. Pass
--server to target a specific server directly over gRPC.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, transport, err := connect(cmd, v)
			if err != nil {
				return err
			}
			defer s.Shutdown()

			snap, err := s.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			if v.GetBool("json") {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			printStatus(cmd.OutOrStdout(), snap, s.Process(), transport)
			return nil
		},
	}

	cmd.Flags().Bool("json", false, "output raw JSON")
	addClientFlags(cmd)
	return cmd
}

func printStatus(out io.Writer, snap authority.Snapshot, self authority.ProcessRef, transport string) {
	w := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Transport:\t%s\n", transport)
	fmt.Fprintf(w, "Sequence:\t%d\n", snap.Sequence)
	fmt.Fprintf(w, "Owner:\t%s\n", orDash(string(snap.Owner)))
	fmt.Fprintf(w, "Open by:\t%s\n", orDash(string(snap.Opener)))
	fmt.Fprintln(w)
	_ = w.Flush()

	if len(snap.Formats) == 0 {
		fmt.Fprintln(out, "Clipboard is empty.")
	} else {
		tw := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(tw, "FORMAT\tNAME\tSIZE\tSEQ\tKIND\n")
		for _, f := range snap.Formats {
			kind := "put"
			switch {
			case f.Delayed:
				kind = "delayed"
			case f.Synthesized:
				kind = "synthesized"
			}
			_, _ = fmt.Fprintf(tw, "0x%04x\t%s\t%d\t%d\t%s\n", uint32(f.Format), f.Name, f.Size, f.Sequence, kind)
		}
		_ = tw.Flush()
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "\tPROCESS\tSOURCE\tATTACHED\n")
	for _, p := range snap.Processes {
		marker := ""
		if p.Process == self {
			marker = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", marker, p.Process, p.Source, fmtAge(p.Attached, snap.Taken))
	}
	_ = tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func fmtAge(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	age := now.Sub(t).Round(time.Second)
	if age < time.Minute {
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	}
	if age < time.Hour {
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	}
	return t.Format("15:04:05")
}
