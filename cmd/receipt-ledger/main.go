package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/receipt-ledger/internal/category"
	"github.com/zombor/receipt-ledger/internal/receipt"
	"github.com/zombor/receipt-ledger/internal/scanning"
	"github.com/zombor/receipt-ledger/internal/scanning/tesseract"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

type config struct {
	port        int
	dbPath      string
	storagePath string
	logLevel    string
	logFormat   string

	selfHostedURLs   string
	selfHostedModel  string
	selfHostedHealth string
	ollamaURL        string
	ollamaModel      string
	selfHostedTime   time.Duration
	probeTimeout     time.Duration

	geminiKeys   string
	geminiModel  string
	openaiKeys   string
	openaiURL    string
	openaiModel  string
	cloudTimeout time.Duration

	textBackend   string
	visionBackend string
	retryAttempts int
	retryBackoff  time.Duration
	lexiconPath   string

	localOCR       bool
	tesseractLangs string

	scanFile  string
	parseFile string
	provider  string
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("receipt-ledger")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "receipt-ledger.db", "Database file path")
		storagePath = fs.StringLong("storage", "./receipts", "Receipt image directory")
		logLevel    = fs.StringLong("log-level", "info", "Log level: debug, info, warn, error")
		logFormat   = fs.StringLong("log-format", "text", "Log format: text or json")

		selfHostedURLs   = fs.StringLong("selfhosted-urls", "http://localhost:8000", "Comma-separated OpenAI-compatible OCR servers, most preferred first")
		selfHostedModel  = fs.StringLong("selfhosted-model", "lightonai/LightOnOCR-2-1B", "Model served by the self-hosted OCR servers")
		selfHostedHealth = fs.StringLong("selfhosted-health", "/health", "Liveness path of the self-hosted OCR servers")
		ollamaURL        = fs.StringLong("ollama-url", "", "Ollama base URL used when no self-hosted server answers (optional)")
		ollamaModel      = fs.StringLong("ollama-model", "qwen2.5vl:7b", "Ollama vision model")
		selfHostedTime   = fs.DurationLong("selfhosted-timeout", 180*time.Second, "Self-hosted inference timeout")
		probeTimeout     = fs.DurationLong("probe-timeout", 2*time.Second, "Self-hosted liveness probe timeout")

		geminiKeys   = fs.StringLong("gemini-keys", "", "Comma-separated Gemini API keys (or GEMINI_API_KEY_1..3 / GEMINI_API_KEY)")
		geminiModel  = fs.StringLong("gemini-model", "gemini-2.0-flash", "Gemini model name")
		openaiKeys   = fs.StringLong("openai-keys", "", "Comma-separated OpenAI API keys (or OPENAI_API_KEY)")
		openaiURL    = fs.StringLong("openai-url", "https://api.openai.com", "OpenAI-compatible API base URL")
		openaiModel  = fs.StringLong("openai-model", "gpt-4o-mini", "OpenAI vision model")
		cloudTimeout = fs.DurationLong("cloud-timeout", 60*time.Second, "Cloud inference timeout")

		textBackend   = fs.StringLong("text-backend", "gemini", "Backend that structures transcribed text: gemini or openai")
		visionBackend = fs.StringLong("vision-backend", "gemini", "Backend that structures images directly: gemini or openai")
		retryAttempts = fs.IntLong("retry-attempts", 2, "Tries per credential when rate limited")
		retryBackoff  = fs.DurationLong("retry-backoff", 15*time.Second, "Wait before retrying a rate limited credential")
		lexiconPath   = fs.StringLong("lexicon", "", "Category keyword lexicon YAML (defaults to the built-in one)")

		localOCR       = fs.BoolLong("local-ocr", "Enable /api/ocr/local with Tesseract")
		tesseractLangs = fs.StringLong("tesseract-langs", "kor,eng", "Comma-separated Tesseract languages")

		scanFile    = fs.StringLong("scan", "", "Extract one receipt image, print JSON and exit")
		parseFile   = fs.StringLong("parse", "", "Parse one OCR text file deterministically, print JSON and exit")
		provider    = fs.StringLong("provider", "", "With --scan, target a single backend (local, gemini, openai)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_LEDGER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	cfg := config{
		port:             *port,
		dbPath:           *dbPath,
		storagePath:      *storagePath,
		logLevel:         *logLevel,
		logFormat:        *logFormat,
		selfHostedURLs:   *selfHostedURLs,
		selfHostedModel:  *selfHostedModel,
		selfHostedHealth: *selfHostedHealth,
		ollamaURL:        *ollamaURL,
		ollamaModel:      *ollamaModel,
		selfHostedTime:   *selfHostedTime,
		probeTimeout:     *probeTimeout,
		geminiKeys:       *geminiKeys,
		geminiModel:      *geminiModel,
		openaiKeys:       *openaiKeys,
		openaiURL:        *openaiURL,
		openaiModel:      *openaiModel,
		cloudTimeout:     *cloudTimeout,
		textBackend:      *textBackend,
		visionBackend:    *visionBackend,
		retryAttempts:    *retryAttempts,
		retryBackoff:     *retryBackoff,
		lexiconPath:      *lexiconPath,
		localOCR:         *localOCR,
		tesseractLangs:   *tesseractLangs,
		scanFile:         *scanFile,
		parseFile:        *parseFile,
		provider:         *provider,
	}

	logger, err := newLogger(cfg.logLevel, cfg.logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (valid: text, json)", format)
	}
}

func run(cfg config) error {
	lexicon := category.DefaultLexicon()
	if cfg.lexiconPath != "" {
		var err error
		if lexicon, err = category.LoadLexicon(cfg.lexiconPath); err != nil {
			return err
		}
		slog.Info("Loaded category lexicon", "path", cfg.lexiconPath)
	}
	classifier := category.NewClassifier(lexicon)
	parser := scanning.NewTextParser(classifier)

	if cfg.parseFile != "" {
		data, err := os.ReadFile(cfg.parseFile)
		if err != nil {
			return fmt.Errorf("reading %s: %w", cfg.parseFile, err)
		}
		return printJSON(parser.ParseText(string(data)))
	}

	orchestratorCfg, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	orchestratorCfg.Classifier = classifier
	orchestrator := scanning.NewOrchestrator(orchestratorCfg)
	defer orchestrator.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.scanFile != "" {
		return scanOnce(ctx, orchestrator, cfg.scanFile, cfg.provider)
	}

	slog.Info("Initializing database...", "path", cfg.dbPath)
	db, err := receipt.NewBoltDB(cfg.dbPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	slog.Info("Initializing storage...", "path", cfg.storagePath)
	store, err := receipt.NewLocalStorage(cfg.storagePath)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	var opts []receipt.ServiceOption
	if cfg.localOCR {
		langs := splitList(cfg.tesseractLangs)
		slog.Info("Local OCR enabled", "languages", langs)
		opts = append(opts, receipt.WithLineSource(tesseract.New(langs...)))
	}
	service := receipt.NewService(db, orchestrator, parser, store, opts...)
	server := receipt.NewServer(service)

	addr := fmt.Sprintf(":%d", cfg.port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "backends", orchestrator.Backends())
	if err := server.Start(ctx, addr); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	slog.Info("Shut down")
	return nil
}

// buildPipeline wires every configured backend into the escalation order.
func buildPipeline(cfg config) (scanning.Config, error) {
	var pc scanning.Config

	selfHostedOpts := []scanning.Option{
		scanning.WithTimeout(cfg.selfHostedTime),
		scanning.WithProbeTimeout(cfg.probeTimeout),
		scanning.WithHealthPath(cfg.selfHostedHealth),
	}
	for i, url := range splitList(cfg.selfHostedURLs) {
		name := "lighton"
		if i > 0 {
			name = fmt.Sprintf("lighton-%d", i+1)
		}
		p, err := scanning.NewChatCompletions(name, scanning.KindSelfHosted, url, cfg.selfHostedModel, selfHostedOpts...)
		if err != nil {
			return pc, fmt.Errorf("configuring self-hosted server %s: %w", url, err)
		}
		pc.Transcribe.Candidates = append(pc.Transcribe.Candidates, p)
	}
	if cfg.ollamaURL != "" {
		p, err := scanning.NewOllama(cfg.ollamaURL, cfg.ollamaModel,
			scanning.WithTimeout(cfg.selfHostedTime), scanning.WithProbeTimeout(cfg.probeTimeout))
		if err != nil {
			return pc, fmt.Errorf("configuring ollama: %w", err)
		}
		pc.Transcribe.Fallback = p
	}

	backends := map[string]scanning.Backend{}
	if len(pc.Transcribe.Candidates) > 0 {
		backends["local"] = scanning.Backend{Provider: pc.Transcribe.Candidates[0]}
	}
	if keys := geminiKeys(cfg.geminiKeys); len(keys) > 0 {
		slog.Info("Gemini configured", "model", cfg.geminiModel, "keys", len(keys))
		backends["gemini"] = scanning.Backend{
			Provider: scanning.NewGemini(cfg.geminiModel, cfg.cloudTimeout),
			Pool:     scanning.NewCredentialPool(keys),
		}
	}
	if keys := openAIKeys(cfg.openaiKeys); len(keys) > 0 {
		p, err := scanning.NewChatCompletions("openai", scanning.KindCloudChatVision, cfg.openaiURL, cfg.openaiModel,
			scanning.WithTimeout(cfg.cloudTimeout))
		if err != nil {
			return pc, fmt.Errorf("configuring openai: %w", err)
		}
		slog.Info("OpenAI configured", "model", cfg.openaiModel, "keys", len(keys))
		backends["openai"] = scanning.Backend{Provider: p, Pool: scanning.NewCredentialPool(keys)}
	}
	pc.Direct = backends

	var ok bool
	if pc.StructureText, ok = backends[strings.ToLower(cfg.textBackend)]; !ok {
		slog.Warn("Text structuring backend not configured, transcripts will be returned as text only", "backend", cfg.textBackend)
	}
	if pc.StructureImage, ok = backends[strings.ToLower(cfg.visionBackend)]; !ok {
		slog.Warn("Vision structuring backend not configured", "backend", cfg.visionBackend)
	}
	if len(pc.Transcribe.Candidates) == 0 && pc.Transcribe.Fallback == nil && pc.StructureImage.Provider == nil {
		return pc, errors.New("no extraction backend configured: set --selfhosted-urls, --ollama-url, --gemini-keys or --openai-keys")
	}

	pc.Retry = &scanning.RetryPolicy{
		MaxAttemptsPerCredential: cfg.retryAttempts,
		Backoff:                  cfg.retryBackoff,
	}
	return pc, nil
}

func scanOnce(ctx context.Context, orchestrator *scanning.Orchestrator, path, provider string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	extraction, err := orchestrator.Extract(ctx, data, "", scanning.ExtractOptions{Provider: provider})
	if err != nil {
		var exhausted *scanning.ExhaustedError
		if errors.As(err, &exhausted) {
			_ = printJSON(map[string]any{"error": err.Error(), "attempts": exhausted.Attempts})
		}
		return err
	}
	return printJSON(extraction)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// geminiKeys collects keys from the flag, then GEMINI_API_KEY_1..3, then
// GEMINI_API_KEY. The credential pool drops duplicates.
func geminiKeys(flagValue string) []string {
	keys := splitList(flagValue)
	for i := 1; i <= 3; i++ {
		if k := os.Getenv(fmt.Sprintf("GEMINI_API_KEY_%d", i)); k != "" {
			keys = append(keys, k)
		}
	}
	if k := os.Getenv("GEMINI_API_KEY"); k != "" {
		keys = append(keys, k)
	}
	return keys
}

func openAIKeys(flagValue string) []string {
	keys := splitList(flagValue)
	if k := os.Getenv("OPENAI_API_KEY"); k != "" {
		keys = append(keys, k)
	}
	return keys
}
