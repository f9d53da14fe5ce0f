package browser

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Guardian watches the live session and the queue worker. It is the
// in-process supervisor pair: the session check guards the browser, the
// worker check guards the goroutine that guards the browser.
type Guardian struct {
	actuator    *Actuator
	interval    time.Duration
	threshold   int
	onDegrade   func() // optional hook, e.g. agent FSM -> RECOVERING
	onRecovered func() // optional hook, e.g. agent FSM back to LISTENING

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
	log      zerolog.Logger
}

func NewGuardian(actuator *Actuator, interval time.Duration, threshold int,
	onDegrade, onRecovered func(), log zerolog.Logger) *Guardian {

	return &Guardian{
		actuator:    actuator,
		interval:    interval,
		threshold:   threshold,
		onDegrade:   onDegrade,
		onRecovered: onRecovered,
		stop:        make(chan struct{}),
		log:         log.With().Str("component", "guardian").Logger(),
	}
}

func (g *Guardian) Start() {
	g.wg.Add(1)
	go g.loop()
}

func (g *Guardian) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
	g.wg.Wait()
}

func (g *Guardian) loop() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			if !g.actuator.WorkerAlive(3 * g.interval) {
				// The supervisor loop inside the queue restarts the
				// worker; here we only make the condition visible.
				g.log.Error().Msg("browser worker heartbeat stale")
			}

			ctx, cancel := context.WithTimeout(context.Background(), g.interval)
			err := g.actuator.HealthCheck(ctx)
			cancel()

			if err == nil {
				if failures > 0 {
					g.log.Info().Int("failures", failures).Msg("session healthy again")
				}
				failures = 0
				continue
			}

			failures++
			g.log.Warn().Err(err).Int("consecutive", failures).Msg("session health check failed")

			if failures < g.threshold {
				continue
			}

			failures = 0
			if g.onDegrade != nil {
				g.onDegrade()
			}

			recoverCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			if err := g.actuator.Recover(recoverCtx); err != nil {
				g.log.Error().Err(err).Msg("session recovery failed")
			} else {
				g.log.Info().Msg("session recovered")
				if g.onRecovered != nil {
					g.onRecovered()
				}
			}
			cancel()
		}
	}
}
