package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"docpipeline/internal/adapter/outbound/extraction"
	"docpipeline/internal/adapter/outbound/memory"
	"docpipeline/internal/adapter/outbound/throttle"
	"docpipeline/internal/application/service"
	"docpipeline/internal/application/worker"
	"docpipeline/internal/config"
	"docpipeline/internal/domain/entity"
	"docpipeline/internal/port/inbound"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const previewLength = 60

// newLocalCmd creates and returns the local command.
func newLocalCmd() *cobra.Command {
	opts := &submitOptions{}
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Process one file end to end without a database or broker",
		Long: `Run the full pipeline for a single local file against the configured
parsing and embedding services. Jobs, documents, chunks and objects are kept
in memory and the resulting chunks are printed. Nothing is persisted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := GetConfig()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(opts.file)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", opts.file, err)
			}
			tenantID := uuid.New()
			if opts.tenant != "" {
				if tenantID, err = uuid.Parse(opts.tenant); err != nil {
					return fmt.Errorf("invalid tenant id: %w", err)
				}
			}

			store := memory.NewStore()
			manager, err := newLocalManager(cfg, store)
			if err != nil {
				return err
			}

			result, err := runLocal(cmd.Context(), manager, store, tenantID, opts, data)
			if err != nil {
				return err
			}
			return printLocalResult(cmd.OutOrStdout(), result, store)
		},
	}

	cmd.Flags().StringVar(&opts.file, "file", "", "path of the document to process")
	cmd.Flags().StringVar(&opts.documentType, "type", "other", "document type, e.g. policy or quote")
	cmd.Flags().StringVar(&opts.tenant, "tenant", "", "tenant id (random when empty)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// newLocalManager wires the real parser, chunker and embedder to in-memory state.
func newLocalManager(cfg *config.Config, store *memory.Store) (*worker.JobQueueManager, error) {
	parser, err := newParser(cfg.Parser)
	if err != nil {
		return nil, err
	}
	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	mc := managerConfig(cfg)
	mc.WantsExtraction = nil

	return worker.NewJobQueueManager(mc, worker.JobQueueDependencies{
		Jobs:       store.Jobs(),
		Documents:  store.Documents(),
		Chunks:     store.Chunks(),
		Transactor: store,
		Storage:    store.Objects(),
		Parser:     parser,
		Chunker:    newChunker(cfg.Chunking),
		Embedder:   embedder,
		Extraction: extraction.NoopTrigger{},
		Notifier:   memory.NewNotifier(),
		Progress:   service.NewProgressReporter(store.Jobs(), throttle.NewLocalThrottle(), progressConfig(cfg.Progress)),
	})
}

func runLocal(
	ctx context.Context,
	queue inbound.JobQueue,
	store *memory.Store,
	tenantID uuid.UUID,
	opts *submitOptions,
	data []byte,
) (*inbound.ProcessResult, error) {
	doc, err := uploadDocument(ctx, store.Objects(), store.Documents(), tenantID, opts, data)
	if err != nil {
		return nil, err
	}
	if _, err := queue.Submit(ctx, tenantID, doc.ID()); err != nil {
		return nil, err
	}
	result, err := queue.ProcessNext(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if result.Outcome == inbound.OutcomeFailed {
		return nil, fmt.Errorf("processing failed: %w", result.Err)
	}
	return result, nil
}

func printLocalResult(w io.Writer, result *inbound.ProcessResult, store *memory.Store) error {
	fmt.Fprintf(w, "pages: %d  chunks: %d\n\n", result.PageCount, result.ChunkCount)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tPAGE\tTYPE\tTOKENS\tDIMS\tPREVIEW")
	for _, c := range store.Chunks().List(result.Job.DocumentID()) {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%d\t%s\n",
			c.ChunkIndex, c.PageNumber, c.ChunkType, c.TokenCount, len(c.Embedding), preview(&c))
	}
	return tw.Flush()
}

func preview(c *entity.DocumentChunk) string {
	text := []rune(c.EmbeddingText())
	for i, r := range text {
		if r == '\n' || r == '\t' {
			text[i] = ' '
		}
	}
	if len(text) > previewLength {
		return string(text[:previewLength]) + "..."
	}
	return string(text)
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newLocalCmd())
}
