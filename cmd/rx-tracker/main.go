package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/rx-tracker/internal/assistant"
	"github.com/zombor/rx-tracker/internal/extraction"
	"github.com/zombor/rx-tracker/internal/llm"
	"github.com/zombor/rx-tracker/internal/record"
	"github.com/zombor/rx-tracker/internal/scanning"
	"github.com/zombor/rx-tracker/internal/server"
	"github.com/zombor/rx-tracker/internal/storage"
	"github.com/zombor/rx-tracker/internal/throttle"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env is fine; flags and the environment still apply
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	flags := ff.NewFlagSet("rx-tracker")
	var (
		port         = flags.IntLong("port", 8080, "HTTP server port")
		dbPath       = flags.StringLong("db", "rx-tracker.db", "Database file path")
		storagePath  = flags.StringLong("storage", "./documents", "Image storage directory path")
		logLevel     = flags.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		timeout      = flags.DurationLong("timeout", 60*time.Second, "Timeout for each remote call")
		maxDimension = flags.IntLong("max-dimension", scanning.DefaultMaxDimension, "Longest side of images sent to OCR, in pixels")
		jpegQuality  = flags.IntLong("jpeg-quality", scanning.DefaultJPEGQuality, "JPEG quality of prepared images")
		ocrURL       = flags.StringLong("ocr-url", scanning.DefaultOCRURL, "OCR.space compatible endpoint")
		ocrKey       = flags.StringLong("ocr-key", "", "OCR API key (or set OCR_SPACE_API_KEY env var)")
		ocrLanguage  = flags.StringLong("ocr-language", "eng", "OCR language code")
		ocrEngine    = flags.IntLong("ocr-engine", scanning.DefaultOCREngine, "OCR engine number")
		ocrTable     = flags.BoolLong("ocr-table", "Hint that documents are laid out as tables")
		ocrRPS       = flags.Float64Long("ocr-rps", 1, "Maximum OCR requests per second (0 for no limit)")
		llmProvider  = flags.StringLong("llm", "openai", "Language model provider: 'openai', 'gemini' or 'ollama'")
		llmRPS       = flags.Float64Long("llm-rps", 1, "Maximum language model requests per second (0 for no limit)")
		openAIURL    = flags.StringLong("openai-url", llm.DefaultOpenAIBaseURL, "OpenAI compatible API base URL")
		openAIKey    = flags.StringLong("openai-key", "", "OpenAI compatible API key (or set GROQ_API_KEY env var)")
		openAIModel  = flags.StringLong("openai-model", llm.DefaultOpenAIModel, "OpenAI compatible model name")
		geminiKey    = flags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel  = flags.StringLong("gemini-model", llm.DefaultGeminiModel, "Google Gemini model name")
		ollamaURL    = flags.StringLong("ollama-url", llm.DefaultOllamaURL, "Ollama API base URL")
		ollamaModel  = flags.StringLong("ollama-model", llm.DefaultOllamaModel, "Ollama model name")
		authUser     = flags.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = flags.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion  = flags.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(flags, os.Args[1:],
		ff.WithEnvVarPrefix("RX_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(flags))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// Initialize database
	slog.Info("Initializing database...", "path", *dbPath)
	kv, err := storage.NewBoltKV(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer kv.Close()

	// Initialize image storage
	slog.Info("Initializing storage...", "path", *storagePath)
	files, err := storage.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize OCR
	apiKey := firstNonEmpty(*ocrKey, os.Getenv("OCR_SPACE_API_KEY"))
	if apiKey == "" {
		slog.Error("OCR API key is required. Set --ocr-key flag or OCR_SPACE_API_KEY environment variable")
		os.Exit(1)
	}
	recognizer, err := scanning.NewOCRSpace(scanning.OCRConfig{
		URL:      *ocrURL,
		APIKey:   apiKey,
		Language: *ocrLanguage,
		Engine:   *ocrEngine,
		Timeout:  *timeout,
		Limiter:  throttle.New(*ocrRPS, 1),
	}, files)
	if err != nil {
		slog.Error("Failed to initialize OCR", "error", err)
		os.Exit(1)
	}

	// Initialize language model
	var completer llm.Completer
	switch *llmProvider {
	case "openai":
		key := firstNonEmpty(*openAIKey, os.Getenv("GROQ_API_KEY"))
		slog.Info("Initializing OpenAI compatible provider...", "url", *openAIURL, "model", *openAIModel)
		completer, err = llm.NewOpenAI(llm.OpenAIConfig{
			BaseURL: *openAIURL,
			APIKey:  key,
			Model:   *openAIModel,
			Timeout: *timeout,
			Limiter: throttle.New(*llmRPS, 1),
		})
	case "gemini":
		key := firstNonEmpty(*geminiKey, os.Getenv("GEMINI_API_KEY"))
		slog.Info("Initializing Gemini provider...", "model", *geminiModel)
		completer, err = llm.NewGemini(key, *geminiModel, *timeout)
	case "ollama":
		slog.Info("Initializing Ollama provider...", "url", *ollamaURL, "model", *ollamaModel)
		completer, err = llm.NewOllama(*ollamaURL, *ollamaModel, *timeout)
	default:
		slog.Error("Invalid language model provider", "provider", *llmProvider, "valid", "openai, gemini or ollama")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize language model", "provider", *llmProvider, "error", err)
		os.Exit(1)
	}
	defer completer.Close()

	// Initialize services
	documents := record.NewService(
		record.NewStore(kv),
		files,
		scanning.NewPreparer(files, *maxDimension, *jpegQuality),
		recognizer,
		extraction.New(completer),
	)
	if *ocrTable {
		documents.SetRecognitionOptions(scanning.Options{DetectOrientation: true, IsTable: true})
	}
	chats := assistant.NewChats(assistant.NewChatStore(kv), completer)
	tips := assistant.NewTips(kv, completer)

	basicAuth := server.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	srv := server.New(documents, chats, tips, basicAuth)

	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if err := srv.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutting down...")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
