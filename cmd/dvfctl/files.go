package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newFilesCommand(root *rootOptions) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "files",
		Short: "Список загруженных файлов (оператор)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := root.client(root.logger(cmd))
			list, err := c.ListFiles(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "КЛЮЧ\tТИП\tИМЯ\tРАЗМЕР\tЗАГРУЖЕН")
			for _, f := range list.Files {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					f.Key(), f.Kind, f.OriginalName,
					humanize.IBytes(uint64(f.SizeBytes)), humanize.Time(f.UploadedAt))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Показано %d из %d\n", len(list.Files), list.Total)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "размер страницы (1-1000)")
	cmd.Flags().IntVar(&offset, "offset", 0, "смещение")

	return cmd
}
