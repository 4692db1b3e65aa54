package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"time"

	"github.com/delaneyj/cancelparty/arena"
	"github.com/delaneyj/cancelparty/token"
	"github.com/jamiealquiza/tachymeter"
	"github.com/jedib0t/go-pretty/v6/table"
)

func main() {
	flag.Parse()

	f, err := os.Create("default.pgo")
	if err != nil {
		log.Fatal(err)
	}
	pprof.StartCPUProfile(f)
	defer pprof.StopCPUProfile()

	log.Printf("warming up")

	benchmarkToken(true)
	benchmarkArena(true)
}

var (
	nn    = []int{1, 10, 100, 1_000, 10_000}
	iters = 100
)

func nothing() {}

func benchmarkToken(shouldRender bool) {
	tbl := table.NewWriter()
	tbl.SetTitle("Weak Tokens")
	tbl.SetOutputMirror(os.Stdout)
	tbl.AppendHeader(table.Row{"benchmark", "avg", "min", "p75", "p99", "max"})

	for _, n := range nn {
		tach := tachymeter.New(&tachymeter.Config{Size: iters})
		for i := 0; i < iters; i++ {
			s := token.NewSource()
			c := s.Token()

			start := time.Now()
			for j := 0; j < n; j++ {
				c.WhenCancelled(nothing)
			}
			s.Cancel()
			tach.AddTime(time.Since(start))
		}
		appendCalc(tbl, fmt.Sprintf("register+cancel: %d", n), tach)

		tach = tachymeter.New(&tachymeter.Config{Size: iters})
		for i := 0; i < iters; i++ {
			s := token.NewSource()
			g := token.NewSource()
			c := s.Token()
			gc := g.Token()

			start := time.Now()
			for j := 0; j < n; j++ {
				c.WhenCancelledBefore(nothing, gc)
			}
			g.Cancel()
			s.Cancel()
			tach.AddTime(time.Since(start))
		}
		appendCalc(tbl, fmt.Sprintf("guard suppress: %d", n), tach)
	}

	if shouldRender {
		tbl.Render()
	}
}

func benchmarkArena(shouldRender bool) {
	tbl := table.NewWriter()
	tbl.SetTitle("Arena Tokens")
	tbl.SetOutputMirror(os.Stdout)
	tbl.AppendHeader(table.Row{"benchmark", "avg", "min", "p75", "p99", "max"})

	for _, n := range nn {
		tach := tachymeter.New(&tachymeter.Config{Size: iters})
		for i := 0; i < iters; i++ {
			s := arena.NewSource()
			c := s.Token()

			start := time.Now()
			for j := 0; j < n; j++ {
				c.WhenCancelled(nothing)
			}
			s.Cancel()
			tach.AddTime(time.Since(start))
		}
		appendCalc(tbl, fmt.Sprintf("register+cancel: %d", n), tach)

		tach = tachymeter.New(&tachymeter.Config{Size: iters})
		for i := 0; i < iters; i++ {
			s := arena.NewSource()
			g := arena.NewSource()
			c := s.Token()
			gc := g.Token()

			start := time.Now()
			for j := 0; j < n; j++ {
				c.WhenCancelledBefore(nothing, gc)
			}
			g.Cancel()
			s.Cancel()
			tach.AddTime(time.Since(start))
		}
		appendCalc(tbl, fmt.Sprintf("guard suppress: %d", n), tach)

		tach = tachymeter.New(&tachymeter.Config{Size: iters})
		for i := 0; i < iters; i++ {
			s := arena.NewSource()
			c := s.Token()

			start := time.Now()
			for j := 0; j < n; j++ {
				c.WhenCancelled(nothing)
			}
			s.Release()
			tach.AddTime(time.Since(start))
		}
		appendCalc(tbl, fmt.Sprintf("register+release: %d", n), tach)
	}

	if shouldRender {
		tbl.Render()
	}
}

func appendCalc(tbl table.Writer, name string, tach *tachymeter.Tachymeter) {
	calc := tach.Calc()
	tbl.AppendRows([]table.Row{
		{
			name,
			calc.Time.Avg,
			calc.Time.Min,
			calc.Time.P75,
			calc.Time.P99,
			calc.Time.Max,
		},
	})
}
