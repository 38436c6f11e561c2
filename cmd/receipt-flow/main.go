package main

import (
	"context"
	"errors"
	"fmt"
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

	"github.com/zombor/receipt-flow/internal/document"
	"github.com/zombor/receipt-flow/internal/identity"
	"github.com/zombor/receipt-flow/internal/scanning"
)

const version = "0.1.0"

func main() {
	// A missing .env is fine; flags and the environment still apply
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootFlags := ff.NewFlagSet("receipt-flow")
	var (
		jwtSecret   = rootFlags.StringLong("jwt-secret", "", "HMAC secret used to sign and verify session tokens (at least 16 bytes)")
		logLevel    = rootFlags.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		showVersion = rootFlags.BoolLong("version", "Show version information")
	)
	root := &ff.Command{
		Name:  "receipt-flow",
		Usage: "receipt-flow [FLAGS] <SUBCOMMAND> ...",
		Flags: rootFlags,
		Exec: func(ctx context.Context, args []string) error {
			if *showVersion {
				fmt.Println(version)
				return nil
			}
			return ff.ErrHelp
		},
	}

	serveFlags := ff.NewFlagSet("serve").SetParent(rootFlags)
	var (
		port        = serveFlags.IntLong("port", 8080, "HTTP server port")
		dbPath      = serveFlags.StringLong("db", "receipt-flow.db", "Database file path")
		storagePath = serveFlags.StringLong("storage", "./receipts", "Storage directory path")
		recognizer  = serveFlags.StringLong("recognizer", "tesseract", "OCR backend: 'gemini', 'ollama', 'tesseract' or 'none'")
		geminiKey   = serveFlags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = serveFlags.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL   = serveFlags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = serveFlags.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		tesseract   = serveFlags.StringLong("tesseract-bin", "tesseract", "Path to the tesseract binary")
		tessdataDir = serveFlags.StringLong("tessdata-dir", "", "Tesseract language data directory (optional)")
		ocrLang     = serveFlags.StringLong("ocr-lang", "eng", "OCR language")
		ocrWidth    = serveFlags.IntLong("ocr-width", scanning.DefaultTargetWidth, "Width images are resized to before OCR")
		ocrTimeout  = serveFlags.DurationLong("ocr-timeout", 60*time.Second, "Maximum time spent recognizing one image")
	)
	serve := &ff.Command{
		Name:      "serve",
		Usage:     "receipt-flow serve [FLAGS]",
		ShortHelp: "run the HTTP API",
		Flags:     serveFlags,
		Exec: func(ctx context.Context, args []string) error {
			setupLogging(*logLevel)
			return runServe(ctx, serveConfig{
				port:        *port,
				dbPath:      *dbPath,
				storagePath: *storagePath,
				recognizer:  *recognizer,
				geminiKey:   *geminiKey,
				geminiModel: *geminiModel,
				ollamaURL:   *ollamaURL,
				ollamaModel: *ollamaModel,
				tesseract:   *tesseract,
				tessdataDir: *tessdataDir,
				jwtSecret:   *jwtSecret,
				ocr: scanning.Config{
					Language:    *ocrLang,
					TargetWidth: *ocrWidth,
					Timeout:     *ocrTimeout,
				},
			})
		},
	}

	tokenFlags := ff.NewFlagSet("token").SetParent(rootFlags)
	var (
		userID = tokenFlags.StringLong("user", "", "User ID the token is issued to")
		name   = tokenFlags.StringLong("name", "", "Display name (optional)")
		role   = tokenFlags.StringLong("role", string(document.RoleEmployee), "Role: employee, accountant, admin or owner")
		ttl    = tokenFlags.DurationLong("ttl", 24*time.Hour, "Token lifetime")
	)
	token := &ff.Command{
		Name:      "token",
		Usage:     "receipt-flow token --user ID [--role ROLE] [FLAGS]",
		ShortHelp: "issue a session token",
		Flags:     tokenFlags,
		Exec: func(ctx context.Context, args []string) error {
			setupLogging(*logLevel)
			provider, err := identity.NewJWT(*jwtSecret)
			if err != nil {
				return err
			}
			r, err := document.ParseRole(*role)
			if err != nil {
				return err
			}
			signed, err := provider.Issue(document.Identity{UserID: *userID, Name: *name, Role: r}, *ttl)
			if err != nil {
				return err
			}
			fmt.Println(signed)
			return nil
		},
	}

	root.Subcommands = []*ff.Command{serve, token}

	err := root.ParseAndRun(ctx, os.Args[1:], ff.WithEnvVarPrefix("RECEIPT_FLOW"))
	switch {
	case err == nil:
	case errors.Is(err, ff.ErrHelp):
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

type serveConfig struct {
	port        int
	dbPath      string
	storagePath string
	recognizer  string
	geminiKey   string
	geminiModel string
	ollamaURL   string
	ollamaModel string
	tesseract   string
	tessdataDir string
	jwtSecret   string
	ocr         scanning.Config
}

func newRecognizer(cfg serveConfig) (scanning.Recognizer, error) {
	switch cfg.recognizer {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
		}
		slog.Info("Initializing Gemini recognizer...", "model", cfg.geminiModel)
		return scanning.NewGemini(apiKey, cfg.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama recognizer...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		return scanning.NewOllama(cfg.ollamaURL, cfg.ollamaModel)
	case "tesseract":
		slog.Info("Initializing tesseract recognizer...", "binary", cfg.tesseract)
		return scanning.NewTesseract(cfg.tesseract, cfg.tessdataDir), nil
	case "none":
		slog.Warn("OCR disabled, every scan falls back to manual entry")
		return scanning.Nop{}, nil
	default:
		return nil, fmt.Errorf("invalid recognizer %q: valid values are gemini, ollama, tesseract or none", cfg.recognizer)
	}
}

func runServe(ctx context.Context, cfg serveConfig) error {
	auth, err := identity.NewJWT(cfg.jwtSecret)
	if err != nil {
		return fmt.Errorf("configuring tokens: %w", err)
	}

	// Initialize database
	slog.Info("Initializing database...", "path", cfg.dbPath)
	db, err := document.NewBoltDB(cfg.dbPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	rec, err := newRecognizer(cfg)
	if err != nil {
		return fmt.Errorf("initializing recognizer: %w", err)
	}
	engine := scanning.NewEngine(rec, cfg.ocr)
	defer engine.Close()

	// Initialize storage
	slog.Info("Initializing storage...", "path", cfg.storagePath)
	storage, err := document.NewLocalStorage(cfg.storagePath)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	service := document.NewService(document.NewStore(db), engine, storage)
	server := document.NewServer(service, auth)

	addr := fmt.Sprintf(":%d", cfg.port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if err := server.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	slog.Info("Shutting down...")
	return nil
}
