package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-booking/internal/identity"
	"github.com/hackgods/clinic-slot-booking/internal/logger"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	ReserveRatio  float64
	FinalizeRatio float64
	ApproveRatio  float64
	ReadRatio     float64
	Patients      int
	JWTSecret     string
}

type slotRef struct {
	ScheduleID string
	SlotID     string
	DoctorID   string
}

type hold struct {
	slot    slotRef
	patient string
}

type booking struct {
	id       uuid.UUID
	doctorID string
	patient  string
}

// DataPool is the shared view of what the workers have done so far.
type DataPool struct {
	Patients []string
	Slots    []slotRef

	mu           sync.Mutex
	holds        []hold
	appointments []booking
}

func (dp *DataPool) AddHold(h hold) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.holds = append(dp.holds, h)
}

// TakeHold removes and returns a random hold.
func (dp *DataPool) TakeHold(rng *rand.Rand) (hold, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.holds) == 0 {
		return hold{}, false
	}
	i := rng.Intn(len(dp.holds))
	h := dp.holds[i]
	dp.holds[i] = dp.holds[len(dp.holds)-1]
	dp.holds = dp.holds[:len(dp.holds)-1]
	return h, true
}

func (dp *DataPool) AddAppointment(b booking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (booking, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return booking{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
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
	case err == nil && (status == http.StatusConflict || status == http.StatusNotFound):
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]

	return avg, min, max, p50, p95
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type Metrics struct {
	Reserve     OperationMetrics
	Finalize    OperationMetrics
	DirectBook  OperationMetrics
	CancelHold  OperationMetrics
	Approve     OperationMetrics
	ReadByID    OperationMetrics
	ListPatient OperationMetrics
	Available   OperationMetrics
}

type Simulator struct {
	config   SimConfig
	log      *zap.Logger
	pool     *DataPool
	client   *http.Client
	verifier *identity.Verifier
	metrics  Metrics
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func main() {
	log, err := logger.New(getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	sim := &Simulator{
		config: cfg,
		log:    log,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	if cfg.JWTSecret != "" {
		sim.verifier = identity.NewVerifier(cfg.JWTSecret)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := sim.loadDataPool(ctx)
	if err != nil {
		log.Fatal("load data pool", zap.Error(err))
	}
	sim.pool = pool

	log.Info("simulation starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Int("patients", len(pool.Patients)),
		zap.Int("slots", len(pool.Slots)),
	)

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		ReserveRatio:  getFloat("SIM_RESERVE_RATIO", 0.35),
		FinalizeRatio: getFloat("SIM_FINALIZE_RATIO", 0.25),
		ApproveRatio:  getFloat("SIM_APPROVE_RATIO", 0.1),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.3),
		Patients:      getInt("SIM_PATIENTS", 500),
		JWTSecret:     os.Getenv("JWT_SECRET"),
	}

	total := cfg.ReserveRatio + cfg.FinalizeRatio + cfg.ApproveRatio + cfg.ReadRatio
	if total > 0 {
		cfg.ReserveRatio /= total
		cfg.FinalizeRatio /= total
		cfg.ApproveRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Patients <= 0 {
		return fmt.Errorf("SIM_PATIENTS must be > 0")
	}
	return nil
}

// loadDataPool reads bookable slots from the public listing and invents patients.
func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	var listing []struct {
		ScheduleID string `json:"scheduleId"`
		DoctorID   string `json:"doctorUserId"`
		Slots      []struct {
			ID string `json:"id"`
		} `json:"slots"`
	}

	status, env, err := s.call(ctx, http.MethodGet, "/schedules/available", nil, identity.Requester{})
	if err != nil {
		return nil, fmt.Errorf("list available schedules: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list available schedules: status %d", status)
	}
	if err := json.Unmarshal(env.Data, &listing); err != nil {
		return nil, fmt.Errorf("decode available schedules: %w", err)
	}

	dp := &DataPool{}
	for _, sched := range listing {
		for _, slot := range sched.Slots {
			dp.Slots = append(dp.Slots, slotRef{ScheduleID: sched.ScheduleID, SlotID: slot.ID, DoctorID: sched.DoctorID})
		}
	}
	for i := 0; i < s.config.Patients; i++ {
		dp.Patients = append(dp.Patients, gofakeit.UUID())
	}

	if len(dp.Slots) == 0 {
		return nil, fmt.Errorf("no available slots; run the seed command first")
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	cfg := s.config

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < cfg.ReserveRatio:
			s.doReserve(ctx, rng)
		case r < cfg.ReserveRatio+cfg.FinalizeRatio:
			s.doFinalize(ctx, rng)
		case r < cfg.ReserveRatio+cfg.FinalizeRatio+cfg.ApproveRatio:
			s.doApprove(ctx, rng)
		default:
			switch rng.Intn(3) {
			case 0:
				s.doReadByID(ctx, rng)
			case 1:
				s.doListByPatient(ctx, rng)
			case 2:
				s.doListAvailable(ctx)
			}
		}
	}
}

func (s *Simulator) randomSlot(rng *rand.Rand) slotRef {
	return s.pool.Slots[rng.Intn(len(s.pool.Slots))]
}

func (s *Simulator) randomPatient(rng *rand.Rand) string {
	return s.pool.Patients[rng.Intn(len(s.pool.Patients))]
}

func (s *Simulator) doReserve(ctx context.Context, rng *rand.Rand) {
	slot := s.randomSlot(rng)
	patient := s.randomPatient(rng)

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodPost,
		fmt.Sprintf("/appointments/reserve/%s/%s", slot.ScheduleID, slot.SlotID),
		map[string]any{"patientUserId": patient},
		identity.Requester{ID: patient, Role: identity.RolePatient})
	s.metrics.Reserve.Record(time.Since(start), status, err)

	if err == nil && status == http.StatusCreated {
		s.pool.AddHold(hold{slot: slot, patient: patient})
	}
}

// doFinalize books a held slot most of the time, cancels it sometimes, and
// otherwise books a random slot directly.
func (s *Simulator) doFinalize(ctx context.Context, rng *rand.Rand) {
	h, ok := s.pool.TakeHold(rng)
	if !ok {
		h = hold{slot: s.randomSlot(rng), patient: s.randomPatient(rng)}
	}
	requester := identity.Requester{ID: h.patient, Role: identity.RolePatient}

	if ok && rng.Intn(5) == 0 {
		start := time.Now()
		status, _, err := s.call(ctx, http.MethodDelete,
			fmt.Sprintf("/appointments/reserve/%s/%s?patientUserId=%s", h.slot.ScheduleID, h.slot.SlotID, h.patient),
			nil, requester)
		s.metrics.CancelHold.Record(time.Since(start), status, err)
		return
	}

	start := time.Now()
	status, env, err := s.call(ctx, http.MethodPost, "/appointments", map[string]any{
		"scheduleId":    h.slot.ScheduleID,
		"slotId":        h.slot.SlotID,
		"patientUserId": h.patient,
		"patientName":   gofakeit.Name(),
		"reason":        gofakeit.Sentence(6),
	}, requester)
	if ok {
		s.metrics.Finalize.Record(time.Since(start), status, err)
	} else {
		s.metrics.DirectBook.Record(time.Since(start), status, err)
	}

	if err != nil || status != http.StatusCreated {
		return
	}
	var appt struct {
		ID uuid.UUID `json:"id"`
	}
	if json.Unmarshal(env.Data, &appt) == nil && appt.ID != uuid.Nil {
		s.pool.AddAppointment(booking{id: appt.ID, doctorID: h.slot.DoctorID, patient: h.patient})
	}
}

func (s *Simulator) doApprove(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodPost, fmt.Sprintf("/appointments/%s/approve", b.id), nil,
		identity.Requester{ID: b.doctorID, Role: identity.RoleDoctor})
	s.metrics.Approve.Record(time.Since(start), status, err)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodGet, fmt.Sprintf("/appointments/%s", b.id), nil,
		identity.Requester{ID: b.patient, Role: identity.RolePatient})
	s.metrics.ReadByID.Record(time.Since(start), status, err)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patient := s.randomPatient(rng)

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodGet, fmt.Sprintf("/appointments/patient/%s?limit=20&offset=0", patient), nil,
		identity.Requester{ID: patient, Role: identity.RolePatient})
	s.metrics.ListPatient.Record(time.Since(start), status, err)
}

func (s *Simulator) doListAvailable(ctx context.Context) {
	start := time.Now()
	status, _, err := s.call(ctx, http.MethodGet, "/schedules/available", nil, identity.Requester{})
	s.metrics.Available.Record(time.Since(start), status, err)
}

// call sends a JSON request as requester. An empty requester sends no identity.
func (s *Simulator) call(ctx context.Context, method, path string, body any, requester identity.Requester) (int, envelope, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, envelope{}, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, envelope{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	if requester.ID != "" {
		if s.verifier != nil {
			token, err := s.verifier.Issue(requester, time.Minute)
			if err != nil {
				return 0, envelope{}, err
			}
			req.Header.Set("Authorization", "Bearer "+token)
		} else {
			req.Header.Set("X-User-ID", requester.ID)
			req.Header.Set("X-User-Role", string(requester.Role))
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, envelope{}, err
	}
	defer resp.Body.Close()

	var env envelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Reserve", &s.metrics.Reserve)
	printOperationReport("Finalize held slot", &s.metrics.Finalize)
	printOperationReport("Book without hold", &s.metrics.DirectBook)
	printOperationReport("Cancel hold", &s.metrics.CancelHold)
	printOperationReport("Approve", &s.metrics.Approve)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by patient", &s.metrics.ListPatient)
	printOperationReport("List available", &s.metrics.Available)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Lost races: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
