package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/born-ml/cumat/internal/backend"
	"github.com/born-ml/cumat/internal/device"
	"github.com/born-ml/cumat/internal/linalg"
	"github.com/born-ml/cumat/internal/matrix"
	"github.com/born-ml/cumat/internal/snapshot"
)

// maxPrint bounds the element count printed by multiply and load.
const maxPrint = 256

func (a *app) transposeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transpose",
		Short: "Transpose a 2x4 matrix on the device and print it",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			s, _, err := a.session()
			if err != nil {
				return err
			}
			defer s.Close()

			x, err := s.FromHost([]float32{1, 2, 3, 4, 1, 2, 3, 4}, 2, 4)
			if err != nil {
				return err
			}
			defer x.Release()

			fmt.Fprintf(a.out, "x (%dx%d):\n", x.Rows(), x.Cols())
			if err := x.Print(a.out); err != nil {
				return err
			}
			if err := x.CopyToDevice(); err != nil {
				return err
			}
			if err := s.Transpose(x); err != nil {
				return err
			}
			if err := x.CopyToHost(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "transpose(x) (%dx%d):\n", x.Rows(), x.Cols())
			return x.Print(a.out)
		},
	}
}

func (a *app) multiplyCmd() *cobra.Command {
	var (
		m, k, n int
		seed    uint64
		variant string
	)
	cmd := &cobra.Command{
		Use:   "multiply",
		Short: "Multiply random matrices on the device",
		Long: `Multiply random matrices on the device.

Variants:
  nn  z = x * y     x is m×k, y is k×n
  tn  z = xᵀ * y    x is k×m, y is k×n
  nt  z = x * yᵀ    x is m×k, y is n×k`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return a.multiply(m, k, n, seed, variant)
		},
	}
	f := cmd.Flags()
	f.IntVar(&m, "m", 2, "rows of z")
	f.IntVar(&k, "k", 4, "inner dimension")
	f.IntVar(&n, "n", 2, "columns of z")
	f.Uint64Var(&seed, "seed", 1, "random seed for the operands")
	f.StringVar(&variant, "variant", "nn", "nn, tn or nt")
	return cmd
}

func (a *app) multiply(m, k, n int, seed uint64, variant string) error {
	xr, xc, yr, yc := m, k, k, n
	var op func(s *linalg.Session, x, y, z *matrix.Matrix) error
	switch variant {
	case "nn":
		op = (*linalg.Session).Multiply
	case "tn":
		xr, xc = k, m
		op = (*linalg.Session).MultiplyTransposeLeft
	case "nt":
		yr, yc = n, k
		op = (*linalg.Session).MultiplyTransposeRight
	default:
		return fmt.Errorf("unknown --variant %q", variant)
	}

	s, tracker, err := a.session()
	if err != nil {
		return err
	}
	defer s.Close()

	x, err := s.New(xr, xc, matrix.WithSeed(seed))
	if err != nil {
		return err
	}
	defer x.Release()
	y, err := s.New(yr, yc, matrix.WithSeed(seed+1))
	if err != nil {
		return err
	}
	defer y.Release()
	z, err := s.New(m, n)
	if err != nil {
		return err
	}
	defer z.Release()

	for _, in := range []*matrix.Matrix{x, y} {
		if err := in.FillRandomUniform(-1, 1); err != nil {
			return err
		}
		if err := in.CopyToDevice(); err != nil {
			return err
		}
	}

	start := time.Now()
	if err := op(s, x, y, z); err != nil {
		return err
	}
	elapsed := time.Since(start)
	if err := z.CopyToHost(); err != nil {
		return err
	}

	flops := 2 * float64(m) * float64(k) * float64(n)
	stats := tracker.Stats()
	a.log.Info().
		Str("variant", variant).
		Dur("elapsed", elapsed).
		Float64("gflops", flops/elapsed.Seconds()/1e9).
		Uint64("device_peak", stats.DevicePeak).
		Msg("multiply done")

	fmt.Fprintf(a.out, "z (%dx%d):\n", z.Rows(), z.Cols())
	if z.ElementCount() > maxPrint {
		fmt.Fprintln(a.out, z)
		return nil
	}
	return z.Print(a.out)
}

func (a *app) backendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List backends and whether they can be opened",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			for _, k := range device.Kinds() {
				status := "unavailable"
				if backend.IsAvailable(k) {
					status = "available"
				}
				fmt.Fprintf(a.out, "%-8s %s\n", k, status)
			}
			return nil
		},
	}
}

func (a *app) saveCmd() *cobra.Command {
	var (
		rows, cols  int
		seed        uint64
		compression string
	)
	cmd := &cobra.Command{
		Use:   "save <file>",
		Short: "Write a random matrix snapshot, round-tripped through the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := snapshot.ParseCompression(compression)
			if err != nil {
				return err
			}
			s, _, err := a.session()
			if err != nil {
				return err
			}
			defer s.Close()

			x, err := s.New(rows, cols, matrix.WithSeed(seed))
			if err != nil {
				return err
			}
			defer x.Release()
			if err := x.FillRandomUniform(0, 1); err != nil {
				return err
			}
			if err := x.CopyToDevice(); err != nil {
				return err
			}
			x.FreeHost()
			if err := x.CopyToHost(); err != nil {
				return err
			}
			if err := snapshot.WriteFile(args[0], x, snapshot.Options{Compression: c}); err != nil {
				return err
			}
			a.log.Info().Str("file", args[0]).Stringer("compression", c).Msg("snapshot written")
			fmt.Fprintf(a.out, "saved %dx%d matrix to %s\n", rows, cols, args[0])
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&rows, "rows", 4, "rows")
	f.IntVar(&cols, "cols", 4, "columns")
	f.Uint64Var(&seed, "seed", 1, "random seed")
	f.StringVar(&compression, "compression", "zstd", "none, zstd or lz4")
	return cmd
}

func (a *app) loadCmd() *cobra.Command {
	var transpose bool
	cmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Read a matrix snapshot and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			s, _, err := a.session()
			if err != nil {
				return err
			}
			defer s.Close()

			x, err := snapshot.ReadFile(args[0], s.Allocator())
			if err != nil {
				return err
			}
			defer x.Release()

			if transpose {
				if err := x.CopyToDevice(); err != nil {
					return err
				}
				if err := s.Transpose(x); err != nil {
					return err
				}
				if err := x.CopyToHost(); err != nil {
					return err
				}
			}
			fmt.Fprintf(a.out, "%s (%dx%d):\n", args[0], x.Rows(), x.Cols())
			if x.ElementCount() > maxPrint {
				fmt.Fprintln(a.out, x)
				return nil
			}
			return x.Print(a.out)
		},
	}
	cmd.Flags().BoolVar(&transpose, "transpose", false, "transpose on the device before printing")
	return cmd
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.out, "cumat %s\n", version)
		},
	}
}
