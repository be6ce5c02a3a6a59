package linalg_test

import (
	"fmt"
	"log"
	"os"

	"github.com/born-ml/cumat/backend"
	"github.com/born-ml/cumat/linalg"
)

func ExampleSession_Transpose() {
	s, err := linalg.Open(backend.CPU)
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	x, err := s.FromHost([]float32{1, 2, 3, 4, 1, 2, 3, 4}, 2, 4)
	if err != nil {
		log.Fatal(err)
	}
	defer x.Release()

	if err := x.CopyToDevice(); err != nil {
		log.Fatal(err)
	}
	if err := s.Transpose(x); err != nil {
		log.Fatal(err)
	}
	if err := x.CopyToHost(); err != nil {
		log.Fatal(err)
	}
	fmt.Println(x.Rows(), x.Cols())
	_ = x.Print(os.Stdout)
	// Output:
	// 4 2
	// 1 1
	// 2 2
	// 3 3
	// 4 4
}

func ExampleSession_Multiply() {
	s, err := linalg.Open(backend.CPU)
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	x, _ := s.FromHost([]float32{1, 2, 3, 4, 1, 2, 3, 4}, 2, 4)
	y, _ := s.FromHost([]float32{1, 1, 2, 2, 3, 3, 4, 4}, 4, 2)
	z, _ := s.New(2, 2)
	for _, m := range []interface{ CopyToDevice() error }{x, y} {
		if err := m.CopyToDevice(); err != nil {
			log.Fatal(err)
		}
	}
	if err := s.Multiply(x, y, z); err != nil {
		log.Fatal(err)
	}
	if err := z.CopyToHost(); err != nil {
		log.Fatal(err)
	}
	_ = z.Print(os.Stdout)
	// Output:
	// 30 30
	// 30 30
}
