package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/klinikgigi/queue-engine/internal/api"
	"github.com/klinikgigi/queue-engine/internal/appointment"
	"github.com/klinikgigi/queue-engine/pkg/logging"
)

// The simulator books a batch of same-day appointments, checks them all in
// from concurrent workers, then reads the queue board back and verifies
// that every clinic handed out 1..n exactly once.

type SimConfig struct {
	APIBaseURL      string
	Workers         int
	PerClinic       int
	DuplicateChecks int // extra check-ins per appointment, exercising idempotency
	StaffJWTSecret  string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
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
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	max = latencies[len(latencies)-1]
	return avg, p50, p95, max
}

type Simulator struct {
	config SimConfig
	client *http.Client
	token  string
	logger *logging.Logger

	booking OperationMetrics
	checkIn OperationMetrics
}

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL")).With("service", "simulate")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	token, err := api.IssueStaffToken(cfg.StaffJWTSecret, "simulator", api.RoleReceptionist, time.Hour)
	if err != nil {
		logger.Error("issue staff token", "error", err)
		os.Exit(1)
	}

	gofakeit.Seed(time.Now().UnixNano())

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		token:  token,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ids := sim.bookAll(ctx)
	logger.Info("appointments booked", "count", len(ids))

	sim.checkInAll(ctx, ids)

	ok := sim.verify(ctx)
	sim.PrintReport()
	if !ok {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Workers:         getInt("SIM_WORKERS", 20),
		PerClinic:       getInt("SIM_PER_CLINIC", 30),
		DuplicateChecks: getInt("SIM_DUPLICATE_CHECKS", 1),
		StaffJWTSecret:  os.Getenv("STAFF_JWT_SECRET"),
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.StaffJWTSecret == "" {
		return fmt.Errorf("STAFF_JWT_SECRET is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.PerClinic <= 0 {
		return fmt.Errorf("SIM_PER_CLINIC must be > 0")
	}
	return nil
}

func (s *Simulator) bookAll(ctx context.Context) []uuid.UUID {
	var ids []uuid.UUID
	for _, c := range appointment.Clinics() {
		for i := 0; i < s.config.PerClinic; i++ {
			body := map[string]any{
				"patient_name":  gofakeit.Name(),
				"patient_phone": fmt.Sprintf("+601%d", gofakeit.Number(10000000, 99999999)),
				"clinic":        string(c.Location),
				"service_id":    uuid.NewString(),
				"scheduled_at":  time.Now().Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
			}
			var out struct {
				ID uuid.UUID `json:"id"`
			}
			start := time.Now()
			status, err := s.call(ctx, http.MethodPost, "/appointments", body, &out)
			s.booking.Record(time.Since(start), status, err)
			if err == nil && status == http.StatusCreated {
				ids = append(ids, out.ID)
			}
		}
	}
	return ids
}

func (s *Simulator) checkInAll(ctx context.Context, ids []uuid.UUID) {
	jobs := make(chan uuid.UUID)
	var wg sync.WaitGroup
	for w := 0; w < s.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				start := time.Now()
				status, err := s.call(ctx, http.MethodPost, "/appointments/"+id.String()+"/check-in", nil, nil)
				s.checkIn.Record(time.Since(start), status, err)
			}
		}()
	}

	// Each appointment is sent 1+DuplicateChecks times in shuffled order.
	var work []uuid.UUID
	for i := 0; i <= s.config.DuplicateChecks; i++ {
		work = append(work, ids...)
	}
	rand.Shuffle(len(work), func(i, j int) { work[i], work[j] = work[j], work[i] })

	start := time.Now()
	for _, id := range work {
		jobs <- id
	}
	close(jobs)
	wg.Wait()
	s.logger.Info("check-ins complete", "requests", len(work), "elapsed", time.Since(start))
}

func (s *Simulator) verify(ctx context.Context) bool {
	ok := true
	for _, c := range appointment.Clinics() {
		var board api.QueueBoardResponse
		status, err := s.call(ctx, http.MethodGet, "/clinics/"+string(c.Location)+"/queue", nil, &board)
		if err != nil || status != http.StatusOK {
			s.logger.Error("read queue board", "clinic", c.Location, "status", status, "error", err)
			ok = false
			continue
		}

		clinicOK := true
		seen := make(map[int]bool, len(board.Entries))
		for _, e := range board.Entries {
			if seen[e.QueueNumber] {
				s.logger.Error("duplicate queue number", "clinic", c.Location, "queue_number", e.QueueNumber)
				clinicOK = false
			}
			seen[e.QueueNumber] = true
		}
		for n := 1; n <= len(board.Entries); n++ {
			if !seen[n] {
				s.logger.Error("gap in queue numbers", "clinic", c.Location, "missing", n)
				clinicOK = false
			}
		}
		fmt.Printf("%s: %d entries, numbers 1..n unique=%t\n", c.Name, len(board.Entries), clinicOK)
		ok = ok && clinicOK
	}
	return ok
}

func (s *Simulator) call(ctx context.Context, method, path string, in, out any) (int, error) {
	var body *bytes.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println()
	fmt.Println("SIMULATION REPORT")
	fmt.Printf("Workers: %d, appointments per clinic: %d\n\n", s.config.Workers, s.config.PerClinic)
	printOperationReport("Booking", &s.booking)
	printOperationReport("Check-in", &s.checkIn)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d\n", conflict)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d\n", failed)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
