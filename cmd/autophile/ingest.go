package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/autophile/internal/models"
	"github.com/markdave123-py/autophile/internal/services"
)

var (
	ingestUser    string
	ingestTimeout time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file.pdf]",
	Short: "Upload a PDF and wait for it to be processed",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestUser, "user", "", "owner recorded on the document")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 10*time.Minute, "give up waiting after this long")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), ingestTimeout)
	defer cancel()

	a, _, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer func() {
		stopWorkers()
		a.Ingestor.Wait()
	}()
	a.Ingestor.Start(workerCtx, 1)

	doc, duplicate, err := a.Documents.Upload(ctx, services.UploadInput{
		UserID:      ingestUser,
		FileName:    filepath.Base(args[0]),
		ContentType: "application/pdf",
		Body:        f,
	})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if duplicate {
		cmd.Printf("Already uploaded as %s (%s)\n", doc.ID, doc.Status)
		return nil
	}
	cmd.Printf("Uploaded %s as %s, processing...\n", doc.FileName, doc.ID)

	doc, err = waitTerminal(ctx, a.Documents, doc.ID)
	if err != nil {
		return err
	}
	if doc.Status == models.StatusFailed {
		return fmt.Errorf("document %s failed to process", doc.ID)
	}

	chunks, err := a.DBClient.CountChunks(ctx, doc.ID)
	if err != nil {
		return err
	}
	pages := 0
	if doc.PageCount != nil {
		pages = *doc.PageCount
	}
	cmd.Printf("Ready: %d pages, %d chunks\n", pages, chunks)
	return nil
}

func waitTerminal(ctx context.Context, docs *services.DocumentService, id string) (*models.Document, error) {
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
	for {
		doc, err := docs.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc.Status.Terminal() {
			return doc, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", id, ctx.Err())
		case <-tick.C:
		}
	}
}
