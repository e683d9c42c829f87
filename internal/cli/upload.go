package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/school-docs/internal/core/domain"
	"github.com/kirillkom/school-docs/internal/core/ports"
	"github.com/kirillkom/school-docs/internal/uploadtracker"
)

const maxPageFileBytes = 20 << 20

var uploadCmd = &cobra.Command{
	Use:   "upload <page>...",
	Short: "Upload page images (files or URLs) as one document and wait for classification",
	Long:  "Each argument is one page: a local image or PDF file, or an http(s) URL. Pages keep the order given.",
	Args:  cobra.RangeArgs(1, domain.MaxPages),
	RunE:  runUpload,
}

var (
	flagTitle  string
	flagDetach bool
)

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().StringVar(&flagTitle, "title", "", "Document title (defaults to the first page name)")
	uploadCmd.Flags().BoolVar(&flagDetach, "detach", false, "Print the document ID after upload without waiting")
}

func runUpload(cmd *cobra.Command, args []string) error {
	req, err := buildCreateRequest(flagTitle, args)
	if err != nil {
		return err
	}
	client := newClient()

	if flagDetach {
		doc, err := client.CreateDocument(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), doc.ID)
		return nil
	}

	tracker := uploadtracker.New(client)
	defer tracker.Close()

	renderer := NewRenderer(cmd.OutOrStdout())
	unsubscribe := tracker.Subscribe(renderer.Handle)

	id := tracker.Start(req.Title, req)
	final, err := tracker.Wait(cmd.Context(), id)
	unsubscribe()
	if err != nil {
		if cmd.Context().Err() != nil {
			tracker.Cancel(id)
		}
		return err
	}
	renderer.Finish(final)

	if final.Status == domain.UploadFailed {
		return fmt.Errorf("upload %s failed: %s", id, final.Error)
	}
	if final.DocumentID != "" {
		doc, err := client.GetDocument(context.WithoutCancel(cmd.Context()), final.DocumentID)
		if err == nil {
			return printJSON(cmd.OutOrStdout(), doc)
		}
	}
	return nil
}

// buildCreateRequest reads local pages into memory so the request can be encoded in one pass.
func buildCreateRequest(title string, pages []string) (ports.CreateDocumentRequest, error) {
	req := ports.CreateDocumentRequest{Title: strings.TrimSpace(title)}
	var uploads []ports.PageUpload
	for _, page := range pages {
		if isURL(page) {
			req.PageURLs = append(req.PageURLs, page)
			continue
		}
		raw, err := readPageFile(page)
		if err != nil {
			return req, err
		}
		uploads = append(uploads, ports.PageUpload{
			Filename: filepath.Base(page),
			MimeType: mime.TypeByExtension(strings.ToLower(filepath.Ext(page))),
			Body:     bytes.NewReader(raw),
		})
	}
	if len(req.PageURLs) > 0 && len(uploads) > 0 {
		return req, fmt.Errorf("pages must be either all URLs or all local files")
	}
	req.Uploads = uploads
	if req.Title == "" {
		req.Title = strings.TrimSuffix(filepath.Base(pages[0]), filepath.Ext(pages[0]))
	}
	return req, nil
}

func readPageFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer f.Close()
	raw, err := readAllLimited(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("page %s is empty", path)
	}
	return raw, nil
}

func readAllLimited(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxPageFileBytes+1))
	if err != nil {
		return nil, err
	}
	if len(raw) > maxPageFileBytes {
		return nil, fmt.Errorf("input exceeds %d bytes", maxPageFileBytes)
	}
	return raw, nil
}

func isURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
