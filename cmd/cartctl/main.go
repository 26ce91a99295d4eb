// cartctl is a CLI for driving a storefront cart session.
// Each command performs a single operation, making it composable for scripts.
//
// Commands:
//
//	cartctl show
//	cartctl add -product ID [-variant N] [-qty N]
//	cartctl update -product ID [-variant N] -qty N
//	cartctl remove -product ID [-variant N]
//	cartctl clear
//	cartctl login -token TOKEN
//	cartctl logout
//	cartctl agent [-listen ADDR]
//
// Examples:
//
//	cartctl add -product 60 -qty 2
//	cartctl update -product 60 -qty 5
//	cartctl login -token "$SESSION_TOKEN"
//	cartctl show
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cartsync/internal/agent"
	"cartsync/internal/catalog"
	"cartsync/internal/config"
	"cartsync/internal/engine"
	"cartsync/internal/hydrate"
	"cartsync/internal/localstore"
	"cartsync/internal/middleware"
	"cartsync/internal/model"
	"cartsync/internal/remote"
	"cartsync/internal/transport"
)

// Global flags (apply to all commands)
var (
	quiet   bool
	noColor bool
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		disableColors()
	}
}

func disableColors() {
	colorReset, colorRed, colorGreen = "", "", ""
	colorYellow, colorCyan, colorGray, colorBold = "", "", "", ""
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "show":
		runShow(args)
	case "add":
		runAdd(args)
	case "update":
		runUpdate(args)
	case "remove":
		runRemove(args)
	case "clear":
		runClear(args)
	case "login":
		runLogin(args)
	case "logout":
		runLogout(args)
	case "agent":
		runAgent(args)
	case "-h", "-help", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `cartctl - storefront cart session tool

Usage:
  cartctl <command> [options]

Commands:
  show      Show the current cart
  add       Add a product variant to the cart
  update    Set the quantity of a cart item (0 removes it)
  remove    Remove a product variant from the cart
  clear     Empty the cart
  login     Authenticate; anonymous cart items merge into the account cart
  logout    Drop the saved session and return to anonymous
  agent     Serve cart tools over MCP (stdio, or HTTP with -listen)

Configuration comes from the environment (CART_API_URL et al.), with
.env support in development.

Run 'cartctl <command> -h' for command-specific options.
`)
}

// =============================================================================
// SESSION WIRING
// =============================================================================

// session groups everything a command needs.
type session struct {
	engine *engine.Engine
	token  *remote.RotatingToken
	cfg    *config.Config
}

// sessionFile is where login persists the credential between
// invocations, next to the cart file.
func sessionFile(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.CartFile), "session")
}

// newSession wires the engine from configuration. A credential saved by
// a previous login takes precedence over SESSION_TOKEN; when one is
// present the engine logs in, which merges any anonymous cart.
func newSession(ctx context.Context) (*session, error) {
	logger := initLogger()

	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	tokenValue := cfg.Store.SessionToken
	if saved, err := os.ReadFile(sessionFile(cfg)); err == nil {
		if s := strings.TrimSpace(string(saved)); s != "" {
			tokenValue = s
		}
	}
	token := remote.NewRotatingToken(tokenValue)

	var rt http.RoundTripper
	if cfg.Store.BrowserTLS {
		rt = transport.NewBrowserTransport(30 * time.Second)
	}

	remoteClient, err := remote.New(remote.Config{
		BaseURL:   cfg.Store.CartURL,
		Tokens:    token,
		Transport: rt,
	})
	if err != nil {
		return nil, fmt.Errorf("creating cart client: %w", err)
	}

	catalogClient, err := catalog.New(catalog.Config{
		BaseURL:   cfg.Store.CatalogURL,
		Transport: rt,
	})
	if err != nil {
		return nil, fmt.Errorf("creating catalog client: %w", err)
	}

	store := localstore.New(cfg.CartFile)

	eng := engine.New(engine.Config{
		Remote:   remoteClient,
		Local:    store,
		Hydrator: hydrate.New(catalogClient, logger),
		Logger:   logger,
		Quiet:    cfg.QuietPeriod,
	})

	if tokenValue != "" {
		if err := eng.Login(ctx); err != nil {
			printWarning("login failed, continuing anonymously: %v", err)
		}
	}

	return &session{engine: eng, token: token, cfg: cfg}, nil
}

// settle waits for debounced updates to reach the server before the
// process exits.
func (s *session) settle() {
	deadline := time.Now().Add(30 * time.Second)
	for s.engine.PendingUpdates() > 0 {
		if time.Now().After(deadline) {
			printWarning("timed out waiting for pending updates")
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

func runShow(args []string) {
	fs := newFlagSet("show", "Usage: cartctl show [options]")
	fs.Parse(args)
	applyGlobals()

	sess, err := newSession(context.Background())
	if err != nil {
		fatal("%v", err)
	}

	snapshot, err := sess.engine.FetchCart(context.Background())
	if err != nil {
		fatal("Failed to fetch cart: %v", err)
	}
	printCart(sess.engine.Mode().String(), snapshot)
}

func runAdd(args []string) {
	fs := newFlagSet("add", "Usage: cartctl add -product ID [options]")
	var productID string
	var variant, qty int
	fs.StringVar(&productID, "product", "", "Product ID (required)")
	fs.IntVar(&variant, "variant", 0, "Variant index")
	fs.IntVar(&qty, "qty", 1, "Quantity to add")
	fs.Parse(args)
	applyGlobals()

	if productID == "" {
		fs.Usage()
		os.Exit(1)
	}

	sess, err := newSession(context.Background())
	if err != nil {
		fatal("%v", err)
	}

	if err := sess.engine.AddToCart(context.Background(), productID, variant, qty); err != nil {
		fatal("Failed to add item: %v", err)
	}
	printSuccess("Added %s x%d", productID, qty)
	printCart(sess.engine.Mode().String(), sess.engine.Snapshot())
}

func runUpdate(args []string) {
	fs := newFlagSet("update", "Usage: cartctl update -product ID -qty N [options]")
	var productID string
	var variant, qty int
	fs.StringVar(&productID, "product", "", "Product ID (required)")
	fs.IntVar(&variant, "variant", 0, "Variant index")
	fs.IntVar(&qty, "qty", -1, "New absolute quantity; 0 removes the item (required)")
	fs.Parse(args)
	applyGlobals()

	if productID == "" || qty < 0 {
		fs.Usage()
		os.Exit(1)
	}

	sess, err := newSession(context.Background())
	if err != nil {
		fatal("%v", err)
	}

	if err := sess.engine.UpdateItem(context.Background(), productID, variant, qty); err != nil {
		fatal("Failed to update item: %v", err)
	}
	sess.settle()
	printSuccess("Set %s to x%d", productID, qty)
	printCart(sess.engine.Mode().String(), sess.engine.Snapshot())
}

func runRemove(args []string) {
	fs := newFlagSet("remove", "Usage: cartctl remove -product ID [options]")
	var productID string
	var variant int
	fs.StringVar(&productID, "product", "", "Product ID (required)")
	fs.IntVar(&variant, "variant", 0, "Variant index")
	fs.Parse(args)
	applyGlobals()

	if productID == "" {
		fs.Usage()
		os.Exit(1)
	}

	sess, err := newSession(context.Background())
	if err != nil {
		fatal("%v", err)
	}

	if err := sess.engine.RemoveItem(context.Background(), productID, variant); err != nil {
		fatal("Failed to remove item: %v", err)
	}
	printSuccess("Removed %s", productID)
	printCart(sess.engine.Mode().String(), sess.engine.Snapshot())
}

func runClear(args []string) {
	fs := newFlagSet("clear", "Usage: cartctl clear [options]")
	fs.Parse(args)
	applyGlobals()

	sess, err := newSession(context.Background())
	if err != nil {
		fatal("%v", err)
	}

	if err := sess.engine.ClearCart(context.Background()); err != nil {
		fatal("Failed to clear cart: %v", err)
	}
	printSuccess("Cart cleared")
}

func runLogin(args []string) {
	fs := newFlagSet("login", "Usage: cartctl login -token TOKEN [options]")
	var token string
	fs.StringVar(&token, "token", "", "Session token (required)")
	fs.Parse(args)
	applyGlobals()

	if token == "" {
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()

	// Load config only to resolve the session file location; the saved
	// credential is picked up by newSession below.
	cfg, err := config.Load(ctx)
	if err != nil {
		fatal("%v", err)
	}
	path := sessionFile(cfg)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		fatal("Failed to prepare session dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		fatal("Failed to save session: %v", err)
	}

	sess, err := newSession(ctx)
	if err != nil {
		fatal("%v", err)
	}
	if sess.engine.Mode() != engine.Authenticated {
		os.Remove(path)
		fatal("Login failed: session rejected by store")
	}

	printSuccess("Logged in")
	printCart(sess.engine.Mode().String(), sess.engine.Snapshot())
}

func runLogout(args []string) {
	fs := newFlagSet("logout", "Usage: cartctl logout [options]")
	fs.Parse(args)
	applyGlobals()

	cfg, err := config.Load(context.Background())
	if err != nil {
		fatal("%v", err)
	}
	if err := os.Remove(sessionFile(cfg)); err != nil && !os.IsNotExist(err) {
		fatal("Failed to drop session: %v", err)
	}
	printSuccess("Logged out")
}

// =============================================================================
// AGENT COMMAND
// =============================================================================

func runAgent(args []string) {
	fs := newFlagSet("agent", "Usage: cartctl agent [-listen ADDR] [options]")
	var listen string
	fs.StringVar(&listen, "listen", "", "Serve MCP over HTTP on this address instead of stdio")
	fs.Parse(args)
	applyGlobals()

	ctx := context.Background()
	sess, err := newSession(ctx)
	if err != nil {
		fatal("%v", err)
	}
	a := agent.New(sess.engine, sess.token, initLogger())

	if listen == "" {
		if err := a.Run(ctx); err != nil {
			fatal("Agent error: %v", err)
		}
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", a.NewMCPHandler())

	logger := initLogger()
	// Recovery outermost so it also catches panics in logging.
	handler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.Logging(logger),
		middleware.MaxBody(1<<20),
	)(mux)

	server := &http.Server{
		Addr:         listen,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		printInfo("MCP server listening on %s", listen)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			fatal("Server error: %v", err)
		}
	case <-shutdown:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			fatal("Shutdown error: %v", err)
		}
	}
	printInfo("MCP server stopped")
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

// newFlagSet creates a flag set with the shared flags registered.
func newFlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.BoolVar(&quiet, "q", false, "Quiet mode - minimal output")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\nOptions:\n", usage)
		fs.PrintDefaults()
	}
	return fs
}

func applyGlobals() {
	if noColor {
		disableColors()
	}
}

func printCart(mode string, snapshot model.Snapshot) {
	if quiet {
		for _, line := range snapshot {
			fmt.Printf("%s\t%d\t%d\n", line.ProductID, line.VariantIndex, line.Quantity)
		}
		return
	}

	fmt.Printf("%sCart%s (%s%s%s)\n", colorBold, colorReset, colorCyan, mode, colorReset)
	if len(snapshot) == 0 {
		fmt.Printf("  %s(empty)%s\n", colorGray, colorReset)
		return
	}
	for _, line := range snapshot {
		label := line.Name
		if line.VariantLabel != "" {
			label += " / " + line.VariantLabel
		}
		price := ""
		if line.Name != model.PlaceholderName {
			price = model.FormatMinorUnits(line.Price)
		}
		fmt.Printf("  %-40s x%-4d %s%s%s\n", label, line.Quantity, colorGreen, price, colorReset)
	}
	fmt.Printf("  %s%d items total%s\n", colorGray, snapshot.TotalQuantity(), colorReset)
}

func printSuccess(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printWarning(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stderr, "%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format; development uses text. Logs go to stderr
// so command output stays parseable.
func initLogger() *slog.Logger {
	level := slog.LevelWarn
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if os.Getenv("ENVIRONMENT") == "production" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
