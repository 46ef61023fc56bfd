package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newBooksCmd(appFn func() *app) *cobra.Command {
	booksCmd := &cobra.Command{
		Use:   "books",
		Short: "Browse the storybook catalogue",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List active storybooks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			books, err := a.bootstrap.ListBooks(cmd.Context())
			if err != nil {
				return fmt.Errorf("list books: %w", err)
			}
			if a.json {
				return a.printJSON(books)
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tTITLE\tPAGES\tROLES\tPRICE")
			for _, detail := range books {
				roles := make([]string, 0, len(detail.Roles))
				for _, role := range detail.Roles {
					roles = append(roles, role.Role)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					detail.Book.PublicationCode,
					detail.Book.Title,
					detail.Book.PageCount(),
					strings.Join(roles, ","),
					formatCents(detail.Book.PriceCents),
				)
			}
			return tw.Flush()
		},
	}

	showCmd := &cobra.Command{
		Use:   "show CODE",
		Short: "Show one storybook with its roles and gallery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			detail, err := a.bootstrap.GetBook(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get book %s: %w", args[0], err)
			}
			if a.json {
				return a.printJSON(detail)
			}
			book := detail.Book
			fmt.Fprintf(a.out, "%s (%s)\n", book.Title, book.PublicationCode)
			if book.Subtitle != "" {
				fmt.Fprintln(a.out, book.Subtitle)
			}
			fmt.Fprintf(a.out, "price: %s  pages: %d\n", formatCents(book.PriceCents), book.PageCount())
			fmt.Fprintln(a.out, "roles:")
			for _, role := range detail.Roles {
				fmt.Fprintf(a.out, "  %s: %s\n", role.Role, role.DisplayName)
			}
			if len(detail.Gallery) > 0 {
				fmt.Fprintln(a.out, "gallery:")
				for _, img := range detail.Gallery {
					fmt.Fprintf(a.out, "  %s\n", img)
				}
			}
			return nil
		},
	}

	booksCmd.AddCommand(listCmd, showCmd)
	return booksCmd
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
