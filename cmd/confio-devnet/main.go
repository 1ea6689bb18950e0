// Command confio-devnet serves a development ledger with the Confío
// programs installed. Every accepted group commits its own round; the
// optional block interval also advances rounds while idle so time-based
// programs such as vesting can be exercised.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"confio/config"
	"confio/core/events"
	"confio/core/ledger"
	"confio/core/state"
	"confio/crypto"
	"confio/native"
	"confio/observability"
	"confio/observability/logging"
	telemetry "confio/observability/otel"
	"confio/rpc"
	"confio/storage"
)

func main() {
	listen := flag.String("listen", "127.0.0.1:4001", "address for the node API")
	dataDir := flag.String("data", "", "LevelDB directory; empty keeps state in memory")
	token := flag.String("token", "", "API token required on /v2 requests (default LEDGER_NODE_TOKEN)")
	fund := flag.String("fund", "", "genesis allocations as address=micro-units pairs, comma separated")
	blockInterval := flag.Duration("block-interval", 0, "produce an empty round this often when idle (0 disables)")
	flag.Parse()

	cfg, err := config.FromEnv(os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	logger := logging.Setup("confio-devnet", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.FromTelemetry("confio-devnet", cfg.Env, cfg.Telemetry))
	if err != nil {
		logger.Error("telemetry init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	if *token == "" {
		*token = cfg.Node.Token
	}
	opts := options{
		listen:        *listen,
		dataDir:       *dataDir,
		token:         *token,
		fund:          *fund,
		blockInterval: *blockInterval,
	}
	if err := run(ctx, opts, logger); err != nil {
		logger.Error("devnet stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

type options struct {
	listen        string
	dataDir       string
	token         string
	fund          string
	blockInterval time.Duration
}

// allocation is one genesis funding entry.
type allocation struct {
	addr   crypto.Address
	amount uint64
}

func parseFunding(raw string) ([]allocation, error) {
	var out []allocation
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		rawAddr, rawAmount, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("funding %q: expected address=amount", pair)
		}
		addr, err := crypto.DecodeAddress(strings.TrimSpace(rawAddr))
		if err != nil {
			return nil, fmt.Errorf("funding %q: %w", pair, err)
		}
		amount, err := strconv.ParseUint(strings.TrimSpace(rawAmount), 10, 64)
		if err != nil || amount == 0 {
			return nil, fmt.Errorf("funding %q: amount must be a positive integer", pair)
		}
		out = append(out, allocation{addr: addr, amount: amount})
	}
	return out, nil
}

func openStore(dataDir string) (*state.Store, func(), error) {
	if dataDir == "" {
		store, err := state.Open(nil)
		return store, func() {}, err
	}
	db, err := storage.NewLevelDB(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", dataDir, err)
	}
	store, err := state.Open(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db.Close, nil
}

// logCommitted reports contract log lines as structured events.
func logCommitted(logger *slog.Logger) events.Emitter {
	return events.EmitterFunc(func(e events.Event) {
		c, ok := e.(events.Committed)
		if !ok {
			return
		}
		attrs := []any{
			slog.Uint64("round", c.Round),
			slog.String("txid", c.TxID.String()),
			slog.Uint64("app", c.AppID),
			slog.String("verb", c.Line.Verb),
		}
		if c.Line.Address != nil {
			attrs = append(attrs, slog.String("address", c.Line.Address.String()))
		}
		logger.Info("contract event", attrs...)
	})
}

func newLedger(store *state.Store, logger *slog.Logger) *ledger.Ledger {
	l := ledger.New(store, ledger.DefaultConfig(),
		ledger.WithLogger(logger),
		ledger.WithEmitter(logCommitted(logger)),
		ledger.WithMetrics(observability.Ledger()))
	native.Register(l)
	return l
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	allocations, err := parseFunding(opts.fund)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(opts.dataDir)
	if err != nil {
		return err
	}
	defer closeStore()

	l := newLedger(store, logger)
	for _, a := range allocations {
		if err := l.Fund(a.addr, a.amount); err != nil {
			return fmt.Errorf("fund %s: %w", a.addr, err)
		}
		logger.Info("genesis allocation", slog.String("address", a.addr.String()), slog.Uint64("amount", a.amount))
	}

	ln, err := net.Listen("tcp", opts.listen)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           rpc.NewServer(l, rpc.Config{Token: opts.token, Logger: logger}).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if opts.blockInterval > 0 {
		go produceBlocks(ctx, l, opts.blockInterval, logger)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("devnet listening",
			slog.String("addr", ln.Addr().String()),
			slog.String("genesis", l.Config().GenesisID),
			slog.Any("programs", native.Names()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("devnet stopped", slog.Uint64("round", l.Status().LastRound))
	return nil
}

func produceBlocks(ctx context.Context, l *ledger.Ledger, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.ProduceBlock(); err != nil {
				logger.Warn("block production failed", slog.Any("error", err))
			}
		}
	}
}
