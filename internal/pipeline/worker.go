package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docrag/internal/chunker"
	"github.com/dgallion1/docrag/internal/doctree"
	"github.com/dgallion1/docrag/internal/embed"
	"github.com/dgallion1/docrag/internal/parser"
	"github.com/dgallion1/docrag/internal/structure"
	"github.com/dgallion1/docrag/internal/tokenizer"
	"github.com/dgallion1/docrag/internal/vectorstore"
)

// Config holds pipeline settings.
type Config struct {
	WorkerCount        int
	MaxQueueSize       int
	JobTTL             time.Duration
	Chunk              chunker.Config
	EmbedBatchSize     int
	MaxConcurrentEmbed int
	Parser             parser.Options
}

// Worker processes a single document job.
type Worker struct {
	store    vectorstore.Store
	embedder embed.Embedder
	tok      tokenizer.Tokenizer
	log      *slog.Logger
	cfg      Config

	// backoff is swapped in tests.
	backoff func(int) time.Duration
}

func NewWorker(store vectorstore.Store, embedder embed.Embedder, tok tokenizer.Tokenizer, log *slog.Logger, cfg Config) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 50
	}
	if cfg.MaxConcurrentEmbed <= 0 {
		cfg.MaxConcurrentEmbed = 4
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		tok:      tok,
		log:      log,
		cfg:      cfg,
		backoff:  Backoff,
	}
}

// Process runs the full ingest pipeline for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	start := time.Now()
	log := w.log.With("job_id", job.ID, "doc_id", job.DocID, "category", job.Category)

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	p, err := parser.ForFile(job.Filename, w.cfg.Parser)
	if err != nil {
		w.fail(log, job, "parsing", err)
		return
	}
	tree, err := p.Parse(bytes.NewReader(job.FileData()), job.Filename)
	if err != nil {
		w.fail(log, job, "parsing", fmt.Errorf("parse: %w", err))
		return
	}
	job.releaseFile()
	if job.Title != "" {
		tree.Title = job.Title
	}

	hash := ContentHashHex([]byte(flattenTreeText(tree)))
	job.setContentHash(hash)

	// Phase 1.5: Dedup check
	exists, err := w.store.HasContentHash(ctx, hash)
	if err != nil {
		log.Warn("dedup_check_failed_proceeding", slog.String("error", err.Error()))
	} else if exists && !job.Replace {
		log.Info("duplicate_document_skipped", slog.String("content_hash", hash))
		job.SetStatus(StatusDupSkipped, "dedup")
		return
	}

	// Phase 2: Structure and chunk
	job.SetStatus(StatusChunking, "chunking")
	blocks := structure.FromTree(tree)
	chunks, err := chunker.Chunk(blocks, w.cfg.Chunk.MaxTokens, w.cfg.Chunk.OverlapTokens, w.tok)
	if err != nil {
		w.fail(log, job, "chunking", err)
		return
	}
	job.SetTotalChunks(len(chunks))
	log.Info("document_chunked", slog.Int("blocks", len(blocks)), slog.Int("chunks", len(chunks)))
	if len(chunks) == 0 {
		w.fail(log, job, "chunking", fmt.Errorf("no extractable content"))
		return
	}

	// Phase 3: Embed
	job.SetStatus(StatusEmbedding, "embedding")
	vectors, hadErrors := w.embedChunks(ctx, log, job, chunks)

	records := make([]vectorstore.Record, 0, len(chunks))
	for i, c := range chunks {
		if vectors[i] == nil {
			continue
		}
		records = append(records, vectorstore.Record{
			ChunkID:     ChunkID(job.DocID, i),
			DocID:       job.DocID,
			DocTitle:    tree.Title,
			Folder:      job.Category,
			Text:        c.Text,
			PageStart:   c.PageStart,
			PageEnd:     c.PageEnd,
			HeadingPath: c.HeadingPath,
			TokenCount:  c.TokenCount,
			ContentHash: hash,
			Embedding:   vectors[i],
		})
	}
	if len(records) == 0 {
		job.SetStatus(StatusFailed, "embedding")
		return
	}

	// Phase 4: Store
	job.SetStatus(StatusStoring, "storing")
	if job.Replace {
		// A partial version never replaces a stored one.
		if hadErrors {
			w.fail(log, job, "embedding", fmt.Errorf("replacement incomplete: %d of %d chunks embedded, previous version kept", len(records), len(chunks)))
			return
		}
		n, err := w.store.ReplaceDocument(ctx, job.DocID, records)
		if err != nil {
			w.fail(log, job, "storing", fmt.Errorf("replace: %w", err))
			return
		}
		if n > 0 {
			log.Info("previous_chunks_replaced", slog.Int64("count", n))
		}
	} else if err := w.store.Upsert(ctx, records); err != nil {
		w.fail(log, job, "storing", fmt.Errorf("upsert: %w", err))
		return
	}
	job.SetStored(len(records))

	log.Info("document_ingested",
		slog.Int("stored", len(records)),
		slog.Int("total", len(chunks)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	if hadErrors {
		job.SetStatus(StatusPartial, "done")
	} else {
		job.SetStatus(StatusCompleted, "done")
	}
}

// embedChunks embeds chunk texts in batches with bounded concurrency.
// Vectors for failed batches stay nil.
func (w *Worker) embedChunks(ctx context.Context, log *slog.Logger, job *Job, chunks []doctree.Chunk) ([][]float32, bool) {
	vectors := make([][]float32, len(chunks))
	failed := make([]bool, (len(chunks)+w.cfg.EmbedBatchSize-1)/w.cfg.EmbedBatchSize)

	var g errgroup.Group
	g.SetLimit(w.cfg.MaxConcurrentEmbed)
	for b := range failed {
		lo := b * w.cfg.EmbedBatchSize
		hi := min(lo+w.cfg.EmbedBatchSize, len(chunks))
		g.Go(func() error {
			texts := make([]string, hi-lo)
			for i := range texts {
				texts[i] = chunks[lo+i].Text
			}
			vecs, err := retry(ctx, w.backoff, func() ([][]float32, error) {
				return w.embedder.Embed(ctx, texts)
			})
			if err == nil && len(vecs) != len(texts) {
				err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
			}
			if err != nil {
				log.Error("embedding_failed", slog.Int("batch", b), slog.String("error", err.Error()))
				job.AddError(fmt.Sprintf("chunks %d-%d: %s", lo, hi-1, err))
				failed[b] = true
				return nil
			}
			copy(vectors[lo:hi], vecs)
			job.AddEmbedded(len(vecs))
			return nil
		})
	}
	_ = g.Wait()

	for _, f := range failed {
		if f {
			return vectors, true
		}
	}
	return vectors, false
}

func (w *Worker) fail(log *slog.Logger, job *Job, phase string, err error) {
	log.Error("ingestion_failed", slog.String("phase", phase), slog.String("error", err.Error()))
	job.AddError(err.Error())
	job.SetStatus(StatusFailed, phase)
}

// flattenTreeText extracts all text from a DocTree into a single string for hashing.
func flattenTreeText(tree *doctree.DocTree) string {
	var sb strings.Builder
	var walk func(nodes []*doctree.DocNode)
	walk = func(nodes []*doctree.DocNode) {
		for _, n := range nodes {
			if n.Text != "" {
				if sb.Len() > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString(n.Text)
			}
			walk(n.Children)
		}
	}
	walk(tree.Children)
	return sb.String()
}
