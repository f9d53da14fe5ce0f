package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"betflow/internal/agent"
	"betflow/internal/ai"
	"betflow/internal/blackbox"
	"betflow/internal/browser"
	"betflow/internal/bus"
	"betflow/internal/config"
	"betflow/internal/engine"
	"betflow/internal/ledger"
	"betflow/internal/locator"
	"betflow/internal/logger"
	"betflow/internal/models"
	"betflow/internal/money"
	"betflow/internal/monitor"
	"betflow/internal/telegram"
	"betflow/internal/watchdog"
)

const ConfigFile = "config.yaml"
const VersionFile = "version.latest"

func main() {
	// 1. Configuration and logging
	cfg, err := config.Load(ConfigFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	cfg.Version = readVersion()

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := logger.Setup(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, level)
	log.Info().Str("version", cfg.Version).Msg("betflow starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Core state: event bus, agent FSM, ledger, money manager
	eventBus := bus.New(cfg.Bus.QueueSize, log)
	eventBus.Start()
	defer eventBus.Stop()

	fsm := agent.NewMachine(log)
	fsm.Observe(func(from, to agent.State) {
		eventBus.Publish(models.EventStateChanged, models.StateChange{
			From: string(from), To: string(to),
		})
	})

	store, err := ledger.Open(cfg.Ledger.SQLitePath, decimal.NewFromFloat(cfg.Ledger.InitialBalance), log)
	if err != nil {
		log.Fatal().Err(err).Msg("open ledger")
	}
	defer store.Close()

	policy := money.NewFractionalPolicy(cfg.Staking.Fraction, cfg.Staking.Ceiling)
	wallet := money.NewManager(store, policy, cfg.Ledger.DriftEpsilon, log)

	// 3. Browser stack: selectors, session, healing resolver, actuator
	selectors, err := locator.NewSelectorStore(cfg.Selectors.Path, cfg.Selectors.BackupDir,
		cfg.Selectors.BackupCount, cfg.Healing.HistoryPath, cfg.Healing.HistoryLimit, log)
	if err != nil {
		log.Fatal().Err(err).Msg("load selector store")
	}

	session := browser.NewSession(browser.Mode(cfg.Browser.Mode), cfg.Browser.RemoteURL,
		cfg.Browser.Headless, time.Duration(cfg.Browser.ActionTimeoutSec)*time.Second, log)

	oracle := ai.NewClient(cfg.Secrets.GeminiAPIKey, log)
	var vision locator.VisionOracle
	if oracle.Enabled() {
		vision = oracle
	} else {
		log.Warn().Msg("no Gemini key, vision healing and AI signal parsing disabled")
	}

	resolver := locator.NewResolver(selectors, session, vision,
		10*time.Second, cfg.Healing.MaxAttempts, log)
	resolver.OnHeal(func(rec models.HealRecord) {
		eventBus.Publish(models.EventHealApplied, rec)
	})

	actuator := browser.NewActuator(session, resolver, cfg.Bookmaker.BaseURL, cfg.Bookmaker.LoginURL,
		browser.Credentials{User: cfg.Secrets.BookmakerUser, Pass: cfg.Secrets.BookmakerPass}, log)
	defer actuator.Close()

	guardian := browser.NewGuardian(actuator,
		time.Duration(cfg.Guardian.IntervalSec)*time.Second, cfg.Guardian.FailureThreshold,
		func() { fsm.ForceState(agent.StateRecovering) },
		func() {
			if err := fsm.Transition(agent.StateListening); err != nil {
				log.Warn().Err(err).Msg("recovered outside of RECOVERING")
			}
		},
		log)

	// 4. Engine and its audit trail
	audit := blackbox.NewRecorder(cfg.Blackbox.Path, log)
	defer audit.Close()

	eng := engine.New(actuator, wallet, eventBus, audit, fsm, log)

	// 5. Outbound surfaces: Telegram notifications, websocket monitor
	tg := telegram.NewClient(cfg.Secrets.TelegramBotToken, cfg.Secrets.TelegramChatID, log)
	patterns := telegram.NewPatternCache(cfg.Patterns.Path, log)

	feed := monitor.NewServer(cfg.Monitor.ListenAddr, log)
	feed.Start()
	eventBus.SubscribeAll(feed.HandleEvent)

	eventBus.Subscribe(models.EventBetSuccess, func(evt models.Event) {
		if out, ok := evt.Payload.(models.BetOutcome); ok {
			tg.Notify(fmt.Sprintf("✅ Bet placed: %s (%s)\nStake: %s @ %.2f\nTx: `%s`",
				out.Teams, out.Market, out.Stake.StringFixed(2), out.Odds, out.TxID))
		}
	})
	eventBus.Subscribe(models.EventBetFailed, func(evt models.Event) {
		if out, ok := evt.Payload.(models.BetOutcome); ok {
			tg.Notify(fmt.Sprintf("❌ Bet failed: %s (%s)\nReason: %s", out.Teams, out.Market, out.Reason))
		}
	})
	eventBus.Subscribe(models.EventHealApplied, func(evt models.Event) {
		if rec, ok := evt.Payload.(models.HealRecord); ok {
			tg.Notify(fmt.Sprintf("🔧 Selector healed (%s): %s", rec.Tier, rec.Key))
		}
	})

	// 6. Boot sequence: launch browser, log in, go LISTENING
	if err := fsm.Transition(agent.StateIdle); err != nil {
		log.Fatal().Err(err).Msg("boot transition")
	}
	launchCtx, launchCancel := context.WithTimeout(ctx, 2*time.Minute)
	if err := actuator.Launch(launchCtx); err != nil {
		launchCancel()
		log.Fatal().Err(err).Msg("browser launch")
	}
	if err := actuator.EnsureLoggedIn(launchCtx); err != nil {
		log.Warn().Err(err).Msg("initial login failed, will retry on first signal")
	}
	launchCancel()

	if err := fsm.Transition(agent.StateListening); err != nil {
		log.Fatal().Err(err).Msg("listening transition")
	}
	guardian.Start()
	defer guardian.Stop()

	go watchdog.Pulse(ctx, cfg.Liveness.Path, time.Duration(cfg.Liveness.IntervalSec)*time.Second, log)

	// 7. Schedules: balance reconcile and maintenance window
	sched := cron.New()
	if cfg.Schedule.ReconcileCron != "" {
		if _, err := sched.AddFunc(cfg.Schedule.ReconcileCron, func() {
			rctx, rcancel := context.WithTimeout(ctx, 2*time.Minute)
			defer rcancel()
			if err := eng.ReconcileBalance(rctx); err != nil {
				log.Error().Err(err).Msg("scheduled reconcile failed")
			}
		}); err != nil {
			log.Error().Err(err).Str("cron", cfg.Schedule.ReconcileCron).Msg("bad reconcile schedule")
		}
	}
	if cfg.Schedule.MaintenanceCron != "" {
		if _, err := sched.AddFunc(cfg.Schedule.MaintenanceCron, func() {
			runMaintenance(ctx, fsm, actuator, log)
		}); err != nil {
			log.Error().Err(err).Str("cron", cfg.Schedule.MaintenanceCron).Msg("bad maintenance schedule")
		}
	}
	sched.Start()
	defer sched.Stop()

	// 8. Signal intake: Telegram -> parse -> engine, one bet at a time
	signals := make(chan models.Signal, 8)
	go func() {
		for sig := range signals {
			out := eng.ProcessSignal(ctx, sig)
			log.Info().Str("tx_id", out.TxID).Str("reason", out.Reason).Msg("signal settled")
		}
	}()

	onSignal := func(raw string) {
		sig := parseSignal(patterns, oracle, raw, log)
		if sig == nil {
			return
		}
		select {
		case signals <- *sig:
		default:
			log.Warn().Str("teams", sig.Teams).Msg("signal queue full, dropping")
		}
	}

	app := &commands{
		fsm:      fsm,
		wallet:   wallet,
		actuator: actuator,
		sel:      selectors,
		started:  time.Now(),
		version:  cfg.Version,
		log:      log,
	}
	go tg.Listen(ctx, app.handle, onSignal)

	tg.Notify(fmt.Sprintf("🚀 Betflow %s online", cfg.Version))

	// 9. Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	log.Info().Msg("shutdown signal received")
	fsm.ForceState(agent.StateShutdown)
	tg.Notify("🛑 Betflow shutting down")
	close(signals)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	feed.Stop(stopCtx)
	stopCancel()
	cancel()
}

// runMaintenance parks the agent, verifies the session, and returns to
// LISTENING. Skipped entirely while a bet pipeline is in flight.
func runMaintenance(ctx context.Context, fsm *agent.Machine, actuator *browser.Actuator, log zerolog.Logger) {
	if err := fsm.Transition(agent.StateMaintenance); err != nil {
		log.Info().Err(err).Msg("maintenance window skipped, agent busy")
		return
	}
	mctx, mcancel := context.WithTimeout(ctx, time.Minute)
	defer mcancel()
	if err := actuator.HealthCheck(mctx); err != nil {
		log.Warn().Err(err).Msg("maintenance health check failed")
	}
	if err := fsm.Transition(agent.StateListening); err != nil {
		log.Warn().Err(err).Msg("could not leave maintenance")
	}
}

// parseSignal resolves raw text to a Signal, cheapest path first: the
// persisted pattern cache, then the AI parser. A nil result means the
// message is not a bet instruction.
func parseSignal(patterns *telegram.PatternCache, oracle *ai.Client, raw string, log zerolog.Logger) *models.Signal {
	if sig, ok := patterns.Lookup(raw); ok {
		log.Debug().Str("teams", sig.Teams).Msg("signal resolved from pattern cache")
		return sig
	}
	if !oracle.Enabled() {
		log.Warn().Msg("message ignored, AI parser disabled")
		return nil
	}
	sig, err := oracle.ParseSignal(raw)
	if err != nil {
		log.Error().Err(err).Msg("signal parse failed")
		return nil
	}
	if sig == nil {
		return nil
	}
	patterns.Remember(raw, *sig)
	return sig
}

// commands implements the Telegram command surface.
type commands struct {
	fsm      *agent.Machine
	wallet   *money.Manager
	actuator *browser.Actuator
	sel      *locator.SelectorStore
	started  time.Time
	version  string
	log      zerolog.Logger
}

func (a *commands) handle(cmd string) string {
	parts := strings.Fields(cmd)
	switch parts[0] {
	case "/ping":
		return "pong 🏓"
	case "/status":
		return a.status()
	case "/balance":
		bal, err := a.wallet.Bankroll()
		if err != nil {
			return "⚠️ ledger unavailable: " + err.Error()
		}
		return fmt.Sprintf("💰 Bankroll: %s", bal.StringFixed(2))
	case "/state":
		return fmt.Sprintf("Agent state: *%s*", a.fsm.Current())
	case "/pause":
		if err := a.fsm.Transition(agent.StateIdle); err != nil {
			return "⚠️ cannot pause now: " + err.Error()
		}
		return "⏸ Paused. New signals are rejected until /resume."
	case "/resume":
		if err := a.fsm.Transition(agent.StateListening); err != nil {
			return "⚠️ cannot resume now: " + err.Error()
		}
		return "▶️ Listening for signals."
	case "/settle":
		return a.settle(parts[1:])
	case "/heals":
		return a.heals()
	default:
		return "Unknown command. Try /ping /status /balance /state /pause /resume /settle /heals"
	}
}

func (a *commands) status() string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Betflow %s*\n", a.version)
	fmt.Fprintf(&b, "State: %s\n", a.fsm.Current())
	fmt.Fprintf(&b, "Uptime: %s\n", time.Since(a.started).Round(time.Second))
	fmt.Fprintf(&b, "Browser worker: alive=%v\n", a.actuator.WorkerAlive(time.Minute))
	if bal, err := a.wallet.Bankroll(); err == nil {
		fmt.Fprintf(&b, "Bankroll: %s\n", bal.StringFixed(2))
	}
	if pending, err := a.wallet.Pending(); err == nil {
		fmt.Fprintf(&b, "Pending bets: %d", len(pending))
	}
	return b.String()
}

// settle closes a pending journal entry after the bet resolved on the
// bookmaker side: `/settle <tx_id> win <payout>` or `/settle <tx_id> loss`.
func (a *commands) settle(args []string) string {
	if len(args) < 2 {
		return "Usage: /settle <tx_id> win <payout> | /settle <tx_id> loss"
	}
	txID := args[0]
	switch args[1] {
	case "win":
		if len(args) < 3 {
			return "Usage: /settle <tx_id> win <payout>"
		}
		payout, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return "⚠️ payout must be a positive number"
		}
		amount, err := money.FromFloat(payout)
		if err != nil {
			return "⚠️ payout must be a positive number"
		}
		if err := a.wallet.Win(txID, amount); err != nil {
			return "⚠️ settle failed: " + err.Error()
		}
		return fmt.Sprintf("✅ %s settled as WIN, %.2f credited", txID, payout)
	case "loss":
		if err := a.wallet.Loss(txID); err != nil {
			return "⚠️ settle failed: " + err.Error()
		}
		return fmt.Sprintf("✅ %s settled as LOSS", txID)
	default:
		return "Usage: /settle <tx_id> win <payout> | /settle <tx_id> loss"
	}
}

func (a *commands) heals() string {
	hist := a.sel.History()
	if len(hist) == 0 {
		return "No selector heals recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*Last %d selector heals:*\n", len(hist))
	for i := len(hist) - 1; i >= 0 && i >= len(hist)-5; i-- {
		h := hist[i]
		fmt.Fprintf(&b, "%s  %s (%s)\n", h.At.Format("01-02 15:04"), h.Key, h.Tier)
	}
	return b.String()
}

func readVersion() string {
	version, err := os.ReadFile(VersionFile)
	if err != nil {
		return "v0.0.0-dev"
	}
	return strings.TrimSpace(string(version))
}
