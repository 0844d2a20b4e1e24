// Package synth generates realistic indoor result tables for demos, load
// runs and property tests. Output is a pure function of the seed.
package synth

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/okian/quiver/internal/domain/model"
	"github.com/okian/quiver/pkg/logger"
)

// Indoor round shape: 60 arrows, 10 points maximum each.
const (
	Arrows   = 60
	MaxScore = Arrows * 10
)

// Profile describes the field of one division at a synthetic event.
type Profile struct {
	Division  model.Division
	Men       int
	Women     int
	MeanMen   float64
	MeanWomen float64
	SD        float64
}

// DefaultProfiles approximates a large open indoor tournament.
var DefaultProfiles = []Profile{
	{Division: model.Recurve, Men: 60, Women: 30, MeanMen: 560, MeanWomen: 548, SD: 22},
	{Division: model.Compound, Men: 50, Women: 20, MeanMen: 584, MeanWomen: 578, SD: 9},
	{Division: model.Barebow, Men: 20, Women: 8, MeanMen: 500, MeanWomen: 480, SD: 40},
	{Division: model.Longbow, Men: 6, Women: 3, MeanMen: 400, MeanWomen: 370, SD: 55},
}

// Generator builds synthetic events.
type Generator struct {
	seed     uint64
	profiles []Profile
	workers  int
	log      logger.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithProfiles replaces DefaultProfiles.
func WithProfiles(p ...Profile) Option {
	return func(g *Generator) { g.profiles = p }
}

// WithWorkers sets how many events are generated concurrently.
func WithWorkers(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.log = l
		}
	}
}

// New returns a generator seeded with seed.
func New(seed uint64, opts ...Option) *Generator {
	g := &Generator{
		seed:     seed,
		profiles: DefaultProfiles,
		workers:  4,
		log:      logger.Nop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// EventIDs returns n event ids of the form prefix01, prefix02, ...
func EventIDs(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s%02d", prefix, i+1)
	}
	return ids
}

// Event generates one event. The i-th event of a generator is the same no
// matter how many others are generated alongside it.
func (g *Generator) Event(i int, eventID string) []model.Record {
	rng := rand.New(rand.NewPCG(g.seed, uint64(i)+1))
	faker := gofakeit.New(g.seed ^ (uint64(i)+1)<<32)

	var out []model.Record
	for _, p := range g.profiles {
		out = append(out, g.field(rng, faker, eventID, p, model.Men, p.Men, p.MeanMen)...)
		out = append(out, g.field(rng, faker, eventID, p, model.Women, p.Women, p.MeanWomen)...)
	}
	return out
}

func (g *Generator) field(rng *rand.Rand, faker *gofakeit.Faker, eventID string, p Profile, class model.Class, n int, mean float64) []model.Record {
	out := make([]model.Record, n)
	for i := range out {
		score := clamp(int(math.Round(mean+rng.NormFloat64()*p.SD)), 1, MaxScore)
		tens, nines := golds(rng, score)
		out[i] = model.Record{
			EventID:  eventID,
			Division: p.Division,
			Class:    class,
			Athlete:  fmt.Sprintf("%s, %s", faker.LastName(), faker.FirstName()),
			Score:    score,
			Tens:     tens,
			Nines:    nines,
		}
	}
	return out
}

// golds splits a score into plausible ten and nine counts. The share of tens
// grows with the average arrow value, and 10*tens + 9*nines never exceeds
// the score.
func golds(rng *rand.Rand, score int) (tens, nines int) {
	avg := float64(score) / Arrows
	share := clampf((avg-7)/3, 0, 1)
	tens = clamp(int(math.Round(Arrows*share*share+rng.NormFloat64()*2)), 0, Arrows)
	for tens > 0 && 10*tens > score {
		tens--
	}
	nines = clamp(int(math.Round(float64(Arrows-tens)*share*0.6+rng.NormFloat64()*2)), 0, Arrows-tens)
	for nines > 0 && 10*tens+9*nines > score {
		nines--
	}
	return tens, nines
}

// Generate builds the events in order. Events are generated on a small pool
// of goroutines and written back by index.
func (g *Generator) Generate(ctx context.Context, eventIDs []string) ([]model.Record, error) {
	g.log.Info(ctx, "generating synthetic events",
		logger.Int("events", len(eventIDs)),
		logger.Int("workers", g.workers))

	type result struct {
		index   int
		records []model.Record
	}
	jobs := make(chan int)
	results := make(chan result, len(eventIDs))

	workers := min(g.workers, len(eventIDs))
	for w := 0; w < workers; w++ {
		go func() {
			for i := range jobs {
				results <- result{index: i, records: g.Event(i, eventIDs[i])}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range eventIDs {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()

	perEvent := make([][]model.Record, len(eventIDs))
	for range eventIDs {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("generating events: %w", ctx.Err())
		case r := <-results:
			perEvent[r.index] = r.records
		}
	}

	var out []model.Record
	for _, recs := range perEvent {
		out = append(out, recs...)
	}
	g.log.Info(ctx, "generated synthetic events", logger.Int("records", len(out)))
	return out, nil
}

func clamp(v, lo, hi int) int { return max(lo, min(hi, v)) }

func clampf(v, lo, hi float64) float64 { return max(lo, min(hi, v)) }
