package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kirillkom/school-docs/internal/core/domain"
	"github.com/kirillkom/school-docs/internal/core/heuristic"
	"github.com/kirillkom/school-docs/internal/export"
)

var getCmd = &cobra.Command{
	Use:   "get <document-id>",
	Short: "Show one document as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents, newest first",
	RunE:  runList,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write documents to an XLSX workbook",
	RunE:  runExport,
}

var classifyCmd = &cobra.Command{
	Use:   "classify <text-file|->",
	Short: "Classify text locally with the keyword rules",
	Args:  cobra.ExactArgs(1),
	RunE:  runClassify,
}

var (
	flagStatus string
	flagType   string
	flagLimit  int
	flagOutput string
	flagRules  string
)

func init() {
	rootCmd.AddCommand(getCmd, listCmd, exportCmd, classifyCmd)
	for _, cmd := range []*cobra.Command{listCmd, exportCmd} {
		cmd.Flags().StringVar(&flagStatus, "status", "", "Filter by status: processing, processed, failed")
		cmd.Flags().StringVar(&flagType, "type", "", "Filter by document type, e.g. \"Permission Slip\"")
		cmd.Flags().IntVar(&flagLimit, "limit", domain.DefaultListLimit, "Maximum number of documents (1-500)")
	}
	exportCmd.Flags().StringVarP(&flagOutput, "output", "o", "documents.xlsx", "Output workbook path")
	classifyCmd.Flags().StringVar(&flagRules, "rules", "", "Heuristic rules YAML (defaults to the built-in rules)")
}

func runGet(cmd *cobra.Command, args []string) error {
	doc, err := newClient().GetDocument(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), doc)
}

func listFilter() (domain.DocumentFilter, error) {
	filter := domain.DocumentFilter{Limit: flagLimit}
	switch status := domain.DocumentStatus(strings.ToLower(strings.TrimSpace(flagStatus))); status {
	case "", domain.StatusProcessing, domain.StatusProcessed, domain.StatusFailed:
		filter.Status = status
	default:
		return filter, fmt.Errorf("invalid status %q: must be processing, processed, or failed", flagStatus)
	}
	if flagType != "" {
		filter.DocType = domain.ParseDocType(flagType)
		if filter.DocType == domain.DocTypeOther && !strings.EqualFold(strings.TrimSpace(flagType), string(domain.DocTypeOther)) {
			return filter, fmt.Errorf("invalid type %q", flagType)
		}
	}
	if flagLimit < 1 || flagLimit > 500 {
		return filter, fmt.Errorf("invalid limit %d: must be between 1 and 500", flagLimit)
	}
	return filter, nil
}

func runList(cmd *cobra.Command, args []string) error {
	filter, err := listFilter()
	if err != nil {
		return err
	}
	docs, err := newClient().List(cmd.Context(), filter)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tTYPE\tDUE\tEVENT\tTITLE")
	for _, doc := range docs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			doc.ID, doc.Status, doc.DocType, dash(doc.DueDate), dash(doc.EventDate), doc.Title)
	}
	return w.Flush()
}

func runExport(cmd *cobra.Command, args []string) error {
	filter, err := listFilter()
	if err != nil {
		return err
	}
	raw, err := export.NewService(newClient()).ExportXLSX(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if err := os.WriteFile(flagOutput, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", flagOutput, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", flagOutput)
	return nil
}

func runClassify(cmd *cobra.Command, args []string) error {
	var (
		raw []byte
		err error
	)
	if args[0] == "-" {
		raw, err = readAllLimited(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	rules, err := heuristic.LoadRules(flagRules)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), heuristic.New(rules).Classify(string(raw)))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
