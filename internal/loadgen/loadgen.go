// Package loadgen produces synthetic factory event batches for local testing and load runs.
package loadgen

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/PratikDhanave/factory-events-service/internal/models"
)

// Options shapes a generated batch.
type Options struct {
	Count         int
	Start         time.Time
	Step          time.Duration
	Machines      int
	Lines         int
	Factories     int
	SentinelRatio float64 // share of events reporting unmeasured defects
	DupRatio      float64 // share of events that repeat an earlier event verbatim
	UUIDs         bool    // random event ids instead of bulk-event-NNNN
	Seed          int64
}

// DefaultOptions mirrors the reference data set: 1000 events one minute apart
// across 10 machines, 5 lines and 3 factories.
func DefaultOptions() Options {
	return Options{
		Count:     1000,
		Start:     time.Date(2026, 1, 16, 8, 0, 0, 0, time.UTC),
		Step:      time.Minute,
		Machines:  10,
		Lines:     5,
		Factories: 3,
		Seed:      1,
	}
}

// Generate builds a batch from opts. The same opts always yield the same batch.
func Generate(opts Options) []models.EventInput {
	rng := rand.New(rand.NewSource(opts.Seed))
	out := make([]models.EventInput, 0, opts.Count)

	for i := 0; i < opts.Count; i++ {
		if i > 0 && opts.DupRatio > 0 && rng.Float64() < opts.DupRatio {
			out = append(out, out[rng.Intn(len(out))])
			continue
		}

		eventTime := opts.Start.Add(time.Duration(i) * opts.Step)
		received := eventTime.Add(time.Duration(rng.Intn(5000)) * time.Millisecond)
		line := fmt.Sprintf("line-%d", i%max(opts.Lines, 1)+1)
		factory := fmt.Sprintf("factory-%d", i%max(opts.Factories, 1))
		duration := int64(rng.Intn(20000) + 1000)
		defects := int32(rng.Intn(10))
		if opts.SentinelRatio > 0 && rng.Float64() < opts.SentinelRatio {
			defects = models.UnmeasuredDefects
		}

		id := fmt.Sprintf("bulk-event-%04d", i)
		if opts.UUIDs {
			id = uuid.NewString()
		}

		out = append(out, models.EventInput{
			EventID:      id,
			EventTime:    &eventTime,
			ReceivedTime: &received,
			MachineID:    fmt.Sprintf("machine-%d", i%max(opts.Machines, 1)),
			LineID:       &line,
			FactoryID:    &factory,
			DurationMs:   &duration,
			DefectCount:  &defects,
		})
	}
	return out
}

// Encode writes batch as a JSON array, gzip-compressed when zip is set.
func Encode(w io.Writer, batch []models.EventInput, zip bool) error {
	if !zip {
		return json.NewEncoder(w).Encode(batch)
	}
	gz, err := gzip.NewWriterLevel(w, gzip.BestSpeed)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(gz).Encode(batch); err != nil {
		_ = gz.Close()
		return err
	}
	return gz.Close()
}

// Post submits batch to a running service's /events/batch endpoint and returns the tally.
func Post(ctx context.Context, client *http.Client, baseURL, apiKey string, batch []models.EventInput, zip bool) (models.BatchResult, error) {
	var body bytes.Buffer
	if err := Encode(&body, batch, zip); err != nil {
		return models.BatchResult{}, fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/events/batch", &body)
	if err != nil {
		return models.BatchResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if zip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return models.BatchResult{}, fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return models.BatchResult{}, fmt.Errorf("post batch: status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}

	var res models.BatchResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return models.BatchResult{}, fmt.Errorf("decode tally: %w", err)
	}
	return res, nil
}

// Run executes the loadgen command line with args (without the program name).
func Run(args []string, stdout io.Writer) error {
	def := DefaultOptions()

	fs := flag.NewFlagSet("loadgen", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	count := fs.Int("n", def.Count, "number of events")
	start := fs.String("start", def.Start.Format(time.RFC3339), "eventTime of the first event (RFC3339)")
	step := fs.Duration("step", def.Step, "eventTime spacing")
	sentinel := fs.Float64("sentinel-ratio", 0, "share of events with unmeasured defects")
	dup := fs.Float64("dup-ratio", 0, "share of events repeated within the batch")
	uuids := fs.Bool("uuid", false, "use random UUID event ids")
	seed := fs.Int64("seed", def.Seed, "random seed")
	zip := fs.Bool("gzip", false, "gzip the JSON output or request body")
	outPath := fs.String("out", "", "write to this file instead of stdout")
	postURL := fs.String("post", "", "POST the batch to this service base URL instead of writing it")
	apiKey := fs.String("api-key", "", "X-API-Key sent with -post")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *count < 0 {
		return errors.New("-n must not be negative")
	}
	if *sentinel < 0 || *sentinel > 1 || *dup < 0 || *dup > 1 {
		return errors.New("-sentinel-ratio and -dup-ratio must be within [0,1]")
	}
	startAt, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		return fmt.Errorf("-start must be RFC3339: %w", err)
	}

	opts := def
	opts.Count = *count
	opts.Start = startAt.UTC()
	opts.Step = *step
	opts.SentinelRatio = *sentinel
	opts.DupRatio = *dup
	opts.UUIDs = *uuids
	opts.Seed = *seed
	batch := Generate(opts)

	if *postURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		res, err := Post(ctx, &http.Client{}, *postURL, *apiKey, batch, *zip)
		if err != nil {
			return err
		}
		return json.NewEncoder(stdout).Encode(res)
	}

	w := stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return Encode(w, batch, *zip)
}
