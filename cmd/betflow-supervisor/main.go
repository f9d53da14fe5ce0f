package main

import (
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"betflow/internal/config"
	"betflow/internal/logger"
	"betflow/internal/watchdog"
)

const ConfigFile = "config.yaml"
const LogFile = "supervisor.log"

// defaultAgentBin is overridable with BETFLOW_AGENT_BIN for dev setups.
const defaultAgentBin = "./betflow"

const restartBackoff = 10 * time.Second

// The supervisor is the outermost watchdog layer: a separate process
// that can recover from failure modes no in-process guardian survives,
// a deadlocked main loop included. It spawns the agent in its own
// process group, watches the liveness file the agent keeps fresh, and
// kills the whole group when the pulse goes stale.
func main() {
	cfg, err := config.Load(ConfigFile)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.Setup(LogFile, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, zerolog.InfoLevel)

	bin := defaultAgentBin
	if v := os.Getenv("BETFLOW_AGENT_BIN"); v != "" {
		bin = v
	}

	maxStale := time.Duration(cfg.Liveness.MaxStaleSec) * time.Second
	checkEvery := time.Duration(cfg.Liveness.IntervalSec) * time.Second

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	log.Info().Str("agent", bin).Dur("max_stale", maxStale).Msg("supervisor started")

	for {
		if !runOnce(bin, cfg.Liveness.Path, maxStale, checkEvery, stop, log) {
			log.Info().Msg("supervisor exiting")
			return
		}
		log.Info().Dur("backoff", restartBackoff).Msg("restarting agent")
		select {
		case <-stop:
			return
		case <-time.After(restartBackoff):
		}
	}
}

// runOnce runs one agent lifetime. It returns true when the agent
// should be restarted and false on a supervisor shutdown request.
func runOnce(bin, livenessPath string, maxStale, checkEvery time.Duration,
	stop <-chan os.Signal, log zerolog.Logger) bool {

	// A pulse left behind by a previous run must not count against the
	// fresh process.
	_ = os.Remove(livenessPath)

	cmd := exec.Command(bin)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// Own process group so the kill reaches the browser children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		log.Error().Err(err).Msg("failed to start agent")
		return true
	}
	log.Info().Int("pid", cmd.Process.Pid).Msg("agent started")

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	started := time.Now()
	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			log.Warn().Err(err).Msg("agent exited on its own")
			return true

		case <-stop:
			log.Info().Msg("shutdown requested, terminating agent")
			terminate(cmd, done, log)
			return false

		case <-ticker.C:
			// Grace period while the agent is still booting and has not
			// written its first pulse.
			age, err := watchdog.Staleness(livenessPath)
			if err != nil {
				if time.Since(started) > maxStale {
					log.Error().Msg("agent never produced a pulse, killing")
					kill(cmd, done, log)
					return true
				}
				continue
			}
			if age > maxStale {
				log.Error().Dur("stale", age).Msg("liveness pulse stale, killing agent")
				kill(cmd, done, log)
				return true
			}
		}
	}
}

// terminate asks nicely first, then kills the group.
func terminate(cmd *exec.Cmd, done <-chan error, log zerolog.Logger) {
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		log.Warn().Msg("agent ignored SIGTERM, escalating")
		kill(cmd, done, log)
	}
}

// kill takes down the whole process group and reaps the child.
func kill(cmd *exec.Cmd, done <-chan error, log zerolog.Logger) {
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		log.Error().Err(err).Msg("kill failed")
	}
	<-done
}
