package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipcache/internal/clipboard"
	"go.klb.dev/clipcache/internal/format"
)

func newPutCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "put",
		Short: "Put stdin on the clipboard as one format",
		Long: `Reads stdin and stores it as --format. The clipboard is emptied first
unless --append is given, which adds the format to what is already there.

Text formats (CF_TEXT, CF_OEMTEXT, CF_UNICODETEXT) read UTF-8 and are
converted to the format's encoding; --raw stores stdin byte for byte.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			return withClipboard(cmd, v, func(ctx context.Context, s session, cb *clipboard.Clipboard) error {
				f, err := resolveFormat(ctx, s, v.GetString("format"))
				if err != nil {
					return err
				}
				return runPut(ctx, cb, f, data, v.GetBool("append"), v.GetBool("raw"))
			})
		},
	}

	f := cmd.Flags()
	f.String("format", "CF_UNICODETEXT", "format name or number")
	f.Bool("append", false, "keep the formats already on the clipboard")
	f.Bool("raw", false, "store stdin without text conversion")
	addClientFlags(cmd)

	return cmd
}

func runPut(ctx context.Context, cb *clipboard.Clipboard, f format.ID, data []byte, appendTo, raw bool) error {
	if err := cb.Open(ctx); err != nil {
		return err
	}
	defer cb.Close(ctx)
	if !appendTo {
		if err := cb.Empty(ctx); err != nil {
			return err
		}
	}
	var err error
	if clipboard.IsText(f) && !raw {
		_, err = cb.ImportString(ctx, f, string(data))
	} else {
		_, err = cb.Import(ctx, f, data)
	}
	return err
}

func newGetCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Write one clipboard format to stdout",
		Long: `Fetches --format, synthesizing it from another format when nobody put it
directly. Text formats are written as UTF-8 unless --raw is given.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClipboard(cmd, v, func(ctx context.Context, s session, cb *clipboard.Clipboard) error {
				f, err := resolveFormat(ctx, s, v.GetString("format"))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if clipboard.IsText(f) && !v.GetBool("raw") {
					text, err := cb.ExportString(ctx, f)
					if err != nil {
						return err
					}
					_, err = io.WriteString(out, text)
					return err
				}
				data, err := cb.Export(ctx, f)
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			})
		},
	}

	f := cmd.Flags()
	f.String("format", "CF_UNICODETEXT", "format name or number")
	f.Bool("raw", false, "write the stored bytes without text conversion")
	addClientFlags(cmd)

	return cmd
}

func newFormatsCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "formats",
		Short: "List stored and synthesizable formats",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindViper(cmd, v)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClipboard(cmd, v, func(ctx context.Context, s session, cb *clipboard.Clipboard) error {
				if v.GetBool("all") {
					_, err := io.WriteString(cmd.OutOrStdout(), format.Default.Describe())
					return err
				}
				stored, err := cb.Formats(ctx)
				if err != nil {
					return err
				}
				avail, err := cb.Available(ctx)
				if err != nil {
					return err
				}
				printFormats(cmd.OutOrStdout(), stored, avail)
				return nil
			})
		},
	}

	cmd.Flags().Bool("all", false, "list every known format instead")
	addClientFlags(cmd)
	return cmd
}

func printFormats(w io.Writer, stored, avail []format.ID) {
	isStored := make(map[format.ID]bool, len(stored))
	for _, f := range stored {
		isStored[f] = true
	}
	tw := tabwriter.NewWriter(w, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "ID\tNAME\tSTORED\n")
	for _, f := range avail {
		mark := "-"
		if isStored[f] {
			mark = "yes"
		}
		_, _ = fmt.Fprintf(tw, "0x%04x\t%s\t%s\n", uint32(f), f, mark)
	}
	_ = tw.Flush()
}

func newEmptyCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "empty",
		Short:   "Empty the clipboard",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClipboard(cmd, v, func(ctx context.Context, _ session, cb *clipboard.Clipboard) error {
				if err := cb.Open(ctx); err != nil {
					return err
				}
				defer cb.Close(ctx)
				return cb.Empty(ctx)
			})
		},
	}
	addClientFlags(cmd)
	return cmd
}

func newRegisterCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "register NAME",
		Short:   "Register a custom format name and print its id",
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := connect(cmd, v)
			if err != nil {
				return err
			}
			defer s.Shutdown()
			id, err := s.RegisterFormat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "0x%04x\n", uint32(id))
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}
