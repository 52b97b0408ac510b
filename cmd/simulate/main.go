// simulate hammers the booking API with racing requests for a small set of
// (doctor, date, window) tuples and then checks the database for exclusivity
// violations: more than one pending/confirmed appointment on the same tuple
// means the conflict guard failed.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medibook/clinic-scheduling/internal/db"
)

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	Doctors     int
	Hotness     int // how many workers aim at the same slot on average
	PostgresDSN string
}

type slotTarget struct {
	doctorID uuid.UUID
	date     string
	start    string
	end      string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Rejected  int64
	Error     int64
	mu        sync.Mutex
	Latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status == http.StatusCreated:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case status >= 400 && status < 500:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	idx95 := len(latencies) * 95 / 100
	if idx95 >= len(latencies) {
		idx95 = len(latencies) - 1
	}
	p95 = latencies[idx95]
	return avg, p50, p95
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := SimConfig{PostgresDSN: os.Getenv("POSTGRES_DSN")}
	flag.StringVar(&cfg.APIBaseURL, "api", "http://127.0.0.1:8080", "API base URL")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to run")
	flag.IntVar(&cfg.Workers, "workers", 20, "concurrent workers")
	flag.IntVar(&cfg.Doctors, "doctors", 5, "distinct doctors to target")
	flag.IntVar(&cfg.Hotness, "hotness", 4, "average workers per hot slot")
	flag.Parse()

	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 5)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	doctors, patients, err := loadPool(context.Background(), pool, cfg.Doctors)
	if err != nil {
		log.Fatalf("load simulation pool: %v", err)
	}
	log.Printf("targets: %d doctors, %d patients", len(doctors), len(patients))

	targets := buildTargets(doctors)
	log.Printf("generated %d hot slot targets", len(targets))

	metrics := &OperationMetrics{}
	client := &http.Client{Timeout: 10 * time.Second}

	runCtx, stop := context.WithTimeout(context.Background(), cfg.Duration)
	defer stop()

	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)))
			for runCtx.Err() == nil {
				t := targets[rng.Intn(len(targets))]
				p := patients[rng.Intn(len(patients))]
				bookOnce(runCtx, client, cfg.APIBaseURL, t, p, metrics)
			}
		}(w)
	}
	wg.Wait()

	avg, p50, p95 := metrics.Stats()
	log.Printf("bookings: total=%d success=%d conflict=%d rejected=%d error=%d",
		atomic.LoadInt64(&metrics.Total),
		atomic.LoadInt64(&metrics.Success),
		atomic.LoadInt64(&metrics.Conflict),
		atomic.LoadInt64(&metrics.Rejected),
		atomic.LoadInt64(&metrics.Error),
	)
	log.Printf("latency: avg=%s p50=%s p95=%s", avg, p50, p95)

	violations, err := checkExclusivity(context.Background(), pool)
	if err != nil {
		log.Fatalf("exclusivity check: %v", err)
	}
	if violations > 0 {
		log.Fatalf("FAIL: %d slots hold more than one active appointment", violations)
	}
	log.Println("OK: no slot holds more than one active appointment")
}

func loadPool(ctx context.Context, pool *pgxpool.Pool, doctorLimit int) (doctors, patients []uuid.UUID, err error) {
	rows, err := pool.Query(ctx, `SELECT id FROM doctors WHERE is_available LIMIT $1`, doctorLimit)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, nil, err
		}
		doctors = append(doctors, id)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	prows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT 500`)
	if err != nil {
		return nil, nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var id uuid.UUID
		if err := prows.Scan(&id); err != nil {
			return nil, nil, err
		}
		patients = append(patients, id)
	}
	if err := prows.Err(); err != nil {
		return nil, nil, err
	}

	if len(doctors) == 0 || len(patients) == 0 {
		return nil, nil, fmt.Errorf("run cmd/seed first: %d doctors, %d patients found", len(doctors), len(patients))
	}
	return doctors, patients, nil
}

// buildTargets picks upcoming dates and half-hour windows per doctor. The
// window set is intentionally small so many workers collide on the same
// tuple.
func buildTargets(doctors []uuid.UUID) []slotTarget {
	starts := []string{"09:00", "09:30", "10:00", "10:30", "11:00"}
	ends := []string{"09:30", "10:00", "10:30", "11:00", "11:30"}

	var targets []slotTarget
	for _, d := range doctors {
		for dayOffset := 1; dayOffset <= 7; dayOffset++ {
			date := time.Now().AddDate(0, 0, dayOffset).Format("2006-01-02")
			for i := range starts {
				targets = append(targets, slotTarget{
					doctorID: d,
					date:     date,
					start:    starts[i],
					end:      ends[i],
				})
			}
		}
	}
	return targets
}

func bookOnce(ctx context.Context, client *http.Client, baseURL string, t slotTarget, patientID uuid.UUID, metrics *OperationMetrics) {
	payload := map[string]any{
		"doctor_id": t.doctorID.String(),
		"date":      t.date,
		"window":    map[string]string{"start": t.start, "end": t.end},
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", patientID.String())
	req.Header.Set("X-Actor-Role", "patient")
	req.Header.Set("X-Patient-Profile-ID", patientID.String())

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			metrics.Record(time.Since(start), 0)
		}
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	metrics.Record(time.Since(start), resp.StatusCode)
}

func checkExclusivity(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var violations int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM (
			SELECT doctor_id, date, start_time, end_time
			FROM appointments
			WHERE status IN ('pending', 'confirmed')
			GROUP BY doctor_id, date, start_time, end_time
			HAVING count(*) > 1
		) dup
	`).Scan(&violations)
	return violations, err
}
