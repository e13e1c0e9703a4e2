package cmd

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"docpipeline/internal/domain/entity"
	"docpipeline/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const defaultContentType = "application/octet-stream"

type submitOptions struct {
	tenant       string
	file         string
	documentType string
}

// newSubmitCmd creates and returns the submit command.
func newSubmitCmd() *cobra.Command {
	opts := &submitOptions{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Upload a document and enqueue it for processing",
		Long: `Upload a local file to object storage, register it as a document
and enqueue a processing job on the tenant queue.

A running worker picks the job up in FIFO order.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := GetConfig()
			if err != nil {
				return err
			}
			tenantID, err := uuid.Parse(opts.tenant)
			if err != nil {
				return fmt.Errorf("invalid tenant id: %w", err)
			}
			data, err := os.ReadFile(opts.file)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", opts.file, err)
			}

			app, err := newApplication(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			doc, err := uploadDocument(cmd.Context(), app.storage, app.documents, tenantID, opts, data)
			if err != nil {
				return err
			}
			job, err := app.manager.Submit(cmd.Context(), tenantID, doc.ID())
			if err != nil {
				return err
			}
			return printSubmission(cmd.OutOrStdout(), doc, job)
		},
	}

	cmd.Flags().StringVar(&opts.tenant, "tenant", "", "tenant id (UUID)")
	cmd.Flags().StringVar(&opts.file, "file", "", "path of the document to upload")
	cmd.Flags().StringVar(&opts.documentType, "type", "other", "document type, e.g. policy or quote")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// storagePath builds a collision-free object key under the tenant prefix.
func storagePath(tenantID uuid.UUID, filename string) string {
	return fmt.Sprintf("%s/%s/%s", tenantID, uuid.New(), filepath.Base(filename))
}

func contentType(filename string) string {
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return defaultContentType
}

// uploadDocument stores the file and creates its pending document row.
func uploadDocument(
	ctx context.Context,
	objects outbound.ObjectStorage,
	documents outbound.DocumentRepository,
	tenantID uuid.UUID,
	opts *submitOptions,
	data []byte,
) (*entity.Document, error) {
	filename := filepath.Base(opts.file)
	path := storagePath(tenantID, filename)

	doc, err := entity.NewDocument(tenantID, filename, path, opts.documentType, int64(len(data)))
	if err != nil {
		return nil, err
	}
	if err := objects.Upload(ctx, path, data, contentType(filename)); err != nil {
		return nil, err
	}
	if err := documents.Create(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func printSubmission(w io.Writer, doc *entity.Document, job *entity.ProcessingJob) error {
	_, err := fmt.Fprintf(w, "document %s\njob      %s (%s)\n", doc.ID(), job.ID(), job.Status())
	return err
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newSubmitCmd())
}
