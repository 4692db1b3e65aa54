package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math/rand"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/delaneyj/cancelparty/arena"
	"github.com/delaneyj/cancelparty/token"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

const (
	tokensKey        = "tokens"
	linksKey         = "links"
	cancelPercentKey = "cancel-percent"
	workersKey       = "workers"
	seedKey          = "seed"
)

func main() {
	cmd := &cli.Command{
		Name:  "soak",
		Usage: "Build a randomized web of cancellation tokens and verify the firing invariants",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  tokensKey,
				Usage: "Number of sources to create",
				Value: 200,
			},
			&cli.UintFlag{
				Name:  linksKey,
				Usage: "Number of conditional registrations to weave",
				Value: 2_000,
			},
			&cli.UintFlag{
				Name:  cancelPercentKey,
				Usage: "Percentage of sources to cancel; the rest are abandoned",
				Value: 50,
			},
			&cli.UintFlag{
				Name:  workersKey,
				Usage: "Concurrent cancelling goroutines (1 gives a deterministic firing order)",
				Value: 4,
			},
			&cli.IntFlag{
				Name:  seedKey,
				Usage: "Random seed for the web layout and cancel set",
				Value: 1,
			},
		},
		Action: soak,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

type soakConfig struct {
	tokens        int
	links         int
	cancelPercent int
	workers       int
	seed          int64
}

type soakResult struct {
	name        string
	cancelled   int
	released    int
	fired       int
	expected    int // -1 when not verifiable (workers > 1)
	duplicates  int
	violations  int
	fingerprint uint64
	took        time.Duration
}

func soak(ctx context.Context, cmd *cli.Command) error {
	cfg := soakConfig{
		tokens:        int(cmd.Uint(tokensKey)),
		links:         int(cmd.Uint(linksKey)),
		cancelPercent: int(cmd.Uint(cancelPercentKey)),
		workers:       int(cmd.Uint(workersKey)),
		seed:          int64(cmd.Int(seedKey)),
	}
	if cfg.tokens < 2 {
		return fmt.Errorf("need at least 2 tokens, got %d", cfg.tokens)
	}
	if cfg.workers < 1 {
		return fmt.Errorf("need at least 1 worker, got %d", cfg.workers)
	}

	log.Printf("soaking %s tokens, %s links, %d%% cancelled, %d workers, seed %d",
		humanize.Comma(int64(cfg.tokens)), humanize.Comma(int64(cfg.links)),
		cfg.cancelPercent, cfg.workers, cfg.seed)

	results := []soakResult{
		runTokenSoak(cfg),
		runArenaSoak(cfg),
	}

	tbl := tablewriter.NewWriter(os.Stdout)
	tbl.SetHeader([]string{
		"impl", "tokens", "links", "cancelled", "released",
		"fired", "expected", "dupes", "violations", "fingerprint", "time",
	})

	failed := false
	for _, r := range results {
		expected := "n/a"
		if r.expected >= 0 {
			expected = humanize.Comma(int64(r.expected))
		}
		tbl.Append([]string{
			r.name,
			humanize.Comma(int64(cfg.tokens)),
			humanize.Comma(int64(cfg.links)),
			humanize.Comma(int64(r.cancelled)),
			humanize.Comma(int64(r.released)),
			humanize.Comma(int64(r.fired)),
			expected,
			fmt.Sprint(r.duplicates),
			fmt.Sprint(r.violations),
			fmt.Sprintf("%016x", r.fingerprint),
			fmt.Sprint(r.took),
		})
		if r.duplicates > 0 || r.violations > 0 {
			failed = true
		}
	}
	tbl.Render()

	if cfg.workers == 1 && results[0].fingerprint != results[1].fingerprint {
		// Both implementations weave and fire in registration order, so a
		// single-worker run must produce byte-identical firing sequences.
		failed = true
		log.Printf("fingerprint mismatch between implementations")
	}
	if failed {
		return fmt.Errorf("soak found invariant violations")
	}
	log.Printf("all invariants held")
	return nil
}

// web is the seed-derived layout shared by both implementation runs: which
// links connect which tokens, and which tokens get cancelled in what order.
type web struct {
	links    [][2]int // trigger, guard per link id
	cancels  []int    // token indices in cancel order
	chosen   []bool   // chosen[i] reports whether token i gets cancelled
	cancelAt []int    // rank of token i in cancels, -1 if abandoned instead
}

func buildWeb(cfg soakConfig) web {
	rng := rand.New(rand.NewSource(cfg.seed))

	w := web{
		links:    make([][2]int, cfg.links),
		chosen:   make([]bool, cfg.tokens),
		cancelAt: make([]int, cfg.tokens),
	}
	for i := range w.links {
		w.links[i] = [2]int{rng.Intn(cfg.tokens), rng.Intn(cfg.tokens)}
	}
	for i := 0; i < cfg.tokens; i++ {
		w.cancelAt[i] = -1
		if rng.Intn(100) < cfg.cancelPercent {
			w.chosen[i] = true
			w.cancels = append(w.cancels, i)
		}
	}
	rng.Shuffle(len(w.cancels), func(i, j int) {
		w.cancels[i], w.cancels[j] = w.cancels[j], w.cancels[i]
	})
	for rank, i := range w.cancels {
		w.cancelAt[i] = rank
	}
	return w
}

// firingLog collects link firings in observed order and flags any link that
// fires more than once.
type firingLog struct {
	mu         sync.Mutex
	order      []int
	seen       mapset.Set[int]
	duplicates int
}

func newFiringLog() *firingLog {
	return &firingLog{seen: mapset.NewSet[int]()}
}

func (l *firingLog) record(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, id)
	if !l.seen.Add(id) {
		l.duplicates++
	}
}

func (l *firingLog) fingerprint() uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, id := range l.order {
		binary.LittleEndian.PutUint64(buf[:], uint64(id))
		d.Write(buf[:])
	}
	return d.Sum64()
}

// verify replays the single-worker schedule: a link must fire iff its trigger
// was cancelled and its guard had not resolved first. Returns the expected
// firing count and the size of the mismatch with what actually fired.
func verify(w web, l *firingLog) (expected, violations int) {
	shouldFire := mapset.NewSet[int]()
	for id, link := range w.links {
		trigger, guard := link[0], link[1]
		if trigger == guard {
			continue
		}
		if w.cancelAt[trigger] < 0 {
			continue
		}
		// Abandoned guards resolve after every cancel in this schedule.
		if w.cancelAt[guard] >= 0 && w.cancelAt[guard] < w.cancelAt[trigger] {
			continue
		}
		shouldFire.Add(id)
	}
	return shouldFire.Cardinality(), int(shouldFire.SymmetricDifference(l.seen).Cardinality())
}

func runArenaSoak(cfg soakConfig) soakResult {
	w := buildWeb(cfg)
	l := newFiringLog()

	srcs := make([]*arena.Source, cfg.tokens)
	for i := range srcs {
		srcs[i] = arena.NewSource()
	}
	for id, link := range w.links {
		id := id
		srcs[link[0]].Token().WhenCancelledBefore(func() { l.record(id) }, srcs[link[1]].Token())
	}

	start := time.Now()
	cancelAll(cfg.workers, w.cancels, func(i int) { srcs[i].Cancel() })

	released := 0
	for i, chosen := range w.chosen {
		if !chosen {
			srcs[i].Release()
			released++
		}
	}
	took := time.Since(start)

	r := soakResult{
		name:        "arena",
		cancelled:   len(w.cancels),
		released:    released,
		fired:       len(l.order),
		expected:    -1,
		duplicates:  l.duplicates,
		fingerprint: l.fingerprint(),
		took:        took,
	}
	if cfg.workers == 1 {
		r.expected, r.violations = verify(w, l)
	}
	return r
}

func runTokenSoak(cfg soakConfig) soakResult {
	w := buildWeb(cfg)
	l := newFiringLog()

	srcs := make([]*token.Source, cfg.tokens)
	toks := make([]*token.Token, cfg.tokens)
	for i := range srcs {
		srcs[i] = token.NewSource()
		toks[i] = srcs[i].Token()
	}
	for id, link := range w.links {
		id := id
		toks[link[0]].WhenCancelledBefore(func() { l.record(id) }, toks[link[1]])
	}

	start := time.Now()
	cancelAll(cfg.workers, w.cancels, func(i int) { srcs[i].Cancel() })

	// Abandon the rest and wait for the collector to immortalize them.
	for i, chosen := range w.chosen {
		if !chosen {
			srcs[i] = nil
		}
	}
	released, timedOut := awaitImmortal(toks, w.chosen)
	took := time.Since(start)

	r := soakResult{
		name:        "token",
		cancelled:   len(w.cancels),
		released:    released,
		fired:       len(l.order),
		expected:    -1,
		duplicates:  l.duplicates,
		fingerprint: l.fingerprint(),
		took:        took,
	}
	if timedOut {
		r.violations++
		log.Printf("token: abandoned sources not fully reclaimed in time")
	}
	if cfg.workers == 1 {
		var v int
		r.expected, v = verify(w, l)
		r.violations += v
	}
	return r
}

func cancelAll(workers int, cancels []int, cancel func(int)) {
	idxCh := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range idxCh {
				cancel(idx)
			}
		}()
	}
	for _, idx := range cancels {
		idxCh <- idx
	}
	close(idxCh)
	wg.Wait()
}

func awaitImmortal(toks []*token.Token, chosen []bool) (released int, timedOut bool) {
	deadline := time.Now().Add(10 * time.Second)
	for {
		runtime.GC()
		released = 0
		for i, tok := range toks {
			if !chosen[i] && tok.State() == token.StateImmortal {
				released++
			}
		}
		pending := 0
		for i := range toks {
			if !chosen[i] {
				pending++
			}
		}
		if released == pending {
			return released, false
		}
		if time.Now().After(deadline) {
			return released, true
		}
		time.Sleep(10 * time.Millisecond)
	}
}
