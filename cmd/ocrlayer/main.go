// Command ocrlayer makes scanned PDFs searchable.
//
//	ocrlayer [-out dir] file.pdf...       process locally
//	ocrlayer -enqueue file.pdf...         submit a job to the worker queue
//	ocrlayer -status <jobId>              show a stored job
//	ocrlayer -fetch <documentId> [-out d] download a stored searchable PDF
//
// Defaults come from the same environment variables as the worker.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/adverant/nexus/ocrlayer-worker/internal/config"
	"github.com/adverant/nexus/ocrlayer-worker/internal/logging"
	"github.com/adverant/nexus/ocrlayer-worker/internal/ocr/tesseract"
	"github.com/adverant/nexus/ocrlayer-worker/internal/pdfdoc"
	"github.com/adverant/nexus/ocrlayer-worker/internal/processor"
	"github.com/adverant/nexus/ocrlayer-worker/internal/queue"
	"github.com/adverant/nexus/ocrlayer-worker/internal/storage"
	"github.com/joho/godotenv"
)

var (
	outDir    = flag.String("out", ".", "directory for searchable PDFs")
	enqueue   = flag.Bool("enqueue", false, "submit the files as a worker job instead of processing locally")
	userID    = flag.String("user", "", "user id recorded on enqueued jobs")
	languages = flag.String("lang", "", "Tesseract languages, e.g. eng+deu (default from TESSERACT_LANGUAGES)")
	scale     = flag.Float64("scale", 0, "render scale relative to 72 dpi (default from RENDER_SCALE)")
	status    = flag.String("status", "", "print the stored status of a job id")
	fetch     = flag.String("fetch", "", "write the stored searchable PDF of a document id to -out")
	verbose   = flag.Bool("v", false, "debug logging")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: ocrlayer [flags] file.pdf...\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	_ = godotenv.Load(".env.nexus")

	cfg, err := config.LoadConfig()
	if err != nil {
		exit(err)
	}
	if *languages != "" {
		cfg.TesseractLanguages = strings.Split(*languages, "+")
	}
	if *scale > 0 {
		cfg.RenderScale = *scale
	}
	if err := cfg.Validate(); err != nil {
		exit(err)
	}

	logging.SetLevel("warn")
	if *verbose {
		logging.SetLevel("debug")
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *status != "":
		err = showStatus(ctx, cfg, *status)
	case *fetch != "":
		err = fetchOutput(ctx, cfg, *fetch, *outDir)
	case flag.NArg() == 0:
		flag.Usage()
		os.Exit(2)
	case *enqueue:
		err = submit(ctx, cfg, flag.Args())
	default:
		var failed int
		failed, err = runLocal(ctx, cfg, flag.Args(), *outDir)
		if err == nil && failed > 0 {
			os.Exit(1)
		}
	}
	if err != nil {
		exit(err)
	}
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "ocrlayer: %v\n", err)
	logging.Sync()
	os.Exit(1)
}

// runLocal processes files in-process and returns the number of failures
func runLocal(ctx context.Context, cfg *config.Config, files []string, dir string) (int, error) {
	renderer, err := pdfdoc.NewPopplerRenderer(cfg.PdftoppmPath, "")
	if err != nil {
		return 0, err
	}

	docs, err := readInputs(files)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	engines := tesseract.NewFactory(tesseract.Config{
		Languages: cfg.TesseractLanguages,
		PSM:       cfg.TesseractPSM,
		DPI:       cfg.OCRDPI(),
	}, logging.NewLogger("Tesseract"))

	orchestrator := processor.NewOrchestrator(engines, pdfdoc.NewLibrary(), renderer, processor.Options{
		RenderScale:  cfg.RenderScale,
		MaxPages:     cfg.MaxPages,
		VerifyOutput: cfg.VerifyOutput,
	}, logging.NewLogger("Orchestrator"))

	progress := processor.ProgressFunc(func(p processor.BatchProgress) {
		fmt.Fprintf(os.Stderr, "\r[%3d%%] %d/%d %s page %d/%d   ",
			p.Percent(), p.DocumentIndex, p.DocumentTotal, p.Filename, p.PageIndex, p.PageTotal)
	})

	outcomes, batchErr := orchestrator.ProcessBatch(ctx, docs, progress)
	fmt.Fprintln(os.Stderr)
	if outcomes == nil && batchErr != nil {
		return 0, batchErr
	}

	used := map[string]bool{}
	failed := 0
	for _, outcome := range outcomes {
		if !outcome.Succeeded() {
			failed++
			fmt.Printf("FAIL %s: %s\n", outcome.Filename, outcome.Reason())
			continue
		}
		res := outcome.Result
		path := outputPath(dir, res.Filename, used)
		if err := os.WriteFile(path, res.Data, 0o644); err != nil {
			failed++
			fmt.Printf("FAIL %s: %v\n", outcome.Filename, err)
			continue
		}
		fmt.Printf("OK   %s -> %s (%d/%d pages searchable, confidence %.2f)\n",
			outcome.Filename, path, res.SearchablePages(), res.PageCount, res.Confidence)
	}
	return failed, batchErr
}

func readInputs(files []string) ([]processor.DocumentInput, error) {
	docs := make([]processor.DocumentInput, 0, len(files))
	for _, name := range files {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, err
		}
		docs = append(docs, processor.DocumentInput{Filename: filepath.Base(name), Data: data})
	}
	return docs, nil
}

// outputPath returns a path in dir for name that no earlier output of this
// run used, numbering repeats as name-2.pdf, name-3.pdf, ...
func outputPath(dir, name string, used map[string]bool) string {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s-%d%s", stem, n, ext)
	}
	used[candidate] = true
	return filepath.Join(dir, candidate)
}

// submit enqueues the files as one job on the configured backend
func submit(ctx context.Context, cfg *config.Config, files []string) error {
	docs, err := readInputs(files)
	if err != nil {
		return err
	}

	payload := &queue.JobPayload{UserID: *userID}
	for _, doc := range docs {
		if int64(len(doc.Data)) > cfg.MaxFileSize {
			return fmt.Errorf("%s exceeds MAX_FILE_SIZE (%d bytes)", doc.Filename, cfg.MaxFileSize)
		}
		payload.Documents = append(payload.Documents, queue.JobDocument{
			Filename:   doc.Filename,
			MimeType:   "application/pdf",
			FileSize:   int64(len(doc.Data)),
			FileBuffer: doc.Data,
		})
	}

	var jobID string
	switch cfg.QueueBackend {
	case config.QueueBackendAsynq:
		enqueuer, err := queue.NewEnqueuer(cfg.RedisURL, cfg.QueueName, cfg.MaxRetries, cfg.BatchTimeout())
		if err != nil {
			return err
		}
		defer enqueuer.Close()
		if jobID, err = enqueuer.Enqueue(ctx, payload); err != nil {
			return err
		}

	default:
		client, err := queue.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		if jobID, err = queue.EnqueueRedisList(ctx, client, cfg.QueueName, payload, cfg.MaxRetries); err != nil {
			return err
		}
	}

	fmt.Printf("enqueued job %s (%d documents) on %s\n", jobID, len(payload.Documents), cfg.QueueName)
	return nil
}

func openStorage(cfg *config.Config) (*storage.PostgresClient, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return storage.NewPostgresClient(cfg.DatabaseURL)
}

func showStatus(ctx context.Context, cfg *config.Config, jobID string) error {
	db, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	job, err := db.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}
	fmt.Printf("job %s: %s (%d documents, %d succeeded, %d failed)\n",
		job.ID, job.Status, job.DocumentCount, job.Succeeded, job.Failed)
	if job.ErrorCode != "" {
		fmt.Printf("error: %s %s\n", job.ErrorCode, job.ErrorMessage)
	}
	fmt.Printf("updated %s\n", job.UpdatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func fetchOutput(ctx context.Context, cfg *config.Config, documentID, dir string) error {
	db, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	name, data, err := db.GetDocumentOutput(ctx, documentID)
	if err != nil {
		return err
	}
	if name == "" {
		name = documentID + processor.OutputSuffix
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bytes)\n", path, len(data))
	return nil
}
