package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/born-ml/cumat/internal/backend"
	"github.com/born-ml/cumat/internal/device"
	"github.com/born-ml/cumat/internal/linalg"
	"github.com/born-ml/cumat/internal/memory"
)

// envBackend names the environment variable holding the default backend.
const envBackend = "CUMAT_BACKEND"

type app struct {
	out io.Writer
	log zerolog.Logger

	backend     string
	logLevel    string
	hostLimit   uint64
	deviceLimit uint64
}

func newRootCmd(out io.Writer, log zerolog.Logger) *cobra.Command {
	a := &app{out: out, log: log}

	root := &cobra.Command{
		Use:           "cumat",
		Short:         "Device-resident float32 matrices with pluggable BLAS backends",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			lvl, err := zerolog.ParseLevel(a.logLevel)
			if err != nil {
				return fmt.Errorf("invalid --log-level %q: %w", a.logLevel, err)
			}
			a.log = a.log.Level(lvl)
			return nil
		},
	}

	defBackend := os.Getenv(envBackend)
	if defBackend == "" {
		defBackend = "cpu"
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.backend, "backend", defBackend, "backend to use: cpu, cuda, webgpu, opencl, best (env "+envBackend+")")
	pf.StringVar(&a.logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	pf.Uint64Var(&a.hostLimit, "host-limit", 0, "max bytes of live host buffers (0: system memory)")
	pf.Uint64Var(&a.deviceLimit, "device-limit", 0, "max bytes of live device buffers (0: unlimited)")

	root.AddCommand(
		a.transposeCmd(),
		a.multiplyCmd(),
		a.backendsCmd(),
		a.saveCmd(),
		a.loadCmd(),
		a.versionCmd(),
	)
	return root
}

// openBackend opens the backend named by --backend.
func (a *app) openBackend() (device.Backend, error) {
	opts := []backend.Option{backend.WithLogger(a.log)}
	if strings.EqualFold(a.backend, "best") {
		return backend.OpenBest(opts...)
	}
	kind, err := backend.ParseKind(a.backend)
	if err != nil {
		return nil, err
	}
	return backend.Open(kind, opts...)
}

// session opens the selected backend and returns a session that owns it,
// allocating through a tracker limited by --host-limit and --device-limit.
func (a *app) session() (*linalg.Session, *memory.Tracker, error) {
	b, err := a.openBackend()
	if err != nil {
		return nil, nil, err
	}

	cfg := memory.DefaultConfig()
	if a.hostLimit > 0 {
		cfg.HostLimit = a.hostLimit
	}
	cfg.DeviceLimit = a.deviceLimit

	tracker := memory.NewTracker(b, memory.WithConfig(cfg), memory.WithLogger(a.log))
	s, err := linalg.NewSession(tracker, linalg.WithOwnedBackend(), linalg.WithLogger(a.log))
	if err != nil {
		_ = b.Release()
		return nil, nil, err
	}
	a.log.Debug().
		Str("backend", b.Name()).
		Uint64("host_limit", cfg.HostLimit).
		Uint64("device_limit", cfg.DeviceLimit).
		Msg("session ready")
	return s, tracker, nil
}
