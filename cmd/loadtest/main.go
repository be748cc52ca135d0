package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
)

const (
	idempotencyHeader = "Idempotency-Key"

	outcomeCreated        = "created"
	outcomeCancelled      = "cancelled"
	outcomeTransportError = "transport_error"
	outcomeUnexpected     = "unexpected_response"
)

type loadMode string

const (
	// modeCreate создаёт заказы по товару с большим остатком.
	modeCreate loadMode = "create"
	// modeContention бьёт по одному товару с малым остатком: ожидаются только created и insufficient_stock.
	modeContention loadMode = "contention"
	// modeCreateCancel создаёт заказ и сразу отменяет его, возвращая остаток.
	modeCreateCancel loadMode = "create-cancel"
)

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	customerID  string
	productID   string
	quantity    int
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Outcomes  map[string]int64 `json:"outcomes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	Outcomes          map[string]int64        `json:"outcomes"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	outcomes  map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

func (c *collector) record(method string, latency time.Duration, outcome string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.methods[method]
	if !exists {
		stats = &methodStats{
			outcomes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.outcomes[outcome]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (s *methodStats) toReport() methodReport {
	outcomes := make(map[string]int64, len(s.outcomes))
	for outcome, count := range s.outcomes {
		outcomes[outcome] = count
	}
	return methodReport{
		Calls:     s.calls,
		Success:   s.success,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, s.calls),
		Outcomes:  outcomes,
		LatencyMs: buildLatencySummary(s.latencies),
	}
}

func (c *collector) snapshot(name string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[name]
	if !ok {
		return methodReport{}, false
	}
	return stats.toReport(), true
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Outcomes:        map[string]int64{},
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods["scenario"]; scenarioStats != nil {
		scenario := scenarioStats.toReport()
		result.TotalScenarios = scenario.Calls
		result.SuccessScenarios = scenario.Success
		result.FailedScenarios = scenario.Failed
		result.ErrorRate = scenario.ErrorRate
		result.Outcomes = scenario.Outcomes
		result.ScenarioLatencyMs = scenario.LatencyMs
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		result.Methods[name] = stats.toReport()
	}

	return result
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string
	var durationValue string

	flag.StringVar(&cfg.addr, "addr", "http://localhost:8080", "HTTP base URL of the order service")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeContention), "load mode: create | contention | create-cancel")
	flag.StringVar(&cfg.customerID, "customer", "customer-1", "customer id for created orders")
	flag.StringVar(&cfg.productID, "product", "", "product id (default: p-limited for contention, p-cable otherwise)")
	flag.IntVar(&cfg.quantity, "quantity", 1, "quantity per order line")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	cfg.addr = strings.TrimRight(strings.TrimSpace(cfg.addr), "/")
	cfg.productID = strings.TrimSpace(cfg.productID)
	if cfg.productID == "" {
		cfg.productID = defaultProduct(cfg.mode)
	}

	if cfg.addr == "" {
		return cfg, errors.New("addr is required")
	}
	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.quantity <= 0 || cfg.quantity > math.MaxInt32 {
		return cfg, errors.New("quantity must be > 0")
	}
	if strings.TrimSpace(cfg.customerID) == "" {
		return cfg, errors.New("customer is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeContention:
		return modeContention, nil
	case modeCreateCancel:
		return modeCreateCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func defaultProduct(mode loadMode) string {
	if mode == modeContention {
		return "p-limited"
	}
	return "p-cable"
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseConfig()
	if err != nil {
		log.WithError(err).Error("invalid config")
		os.Exit(1)
	}

	result := run(context.Background(), cfg, &http.Client{Timeout: cfg.timeout})

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			log.WithError(err).Error("failed to write report")
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// run гоняет сценарии пулом воркеров и собирает отчёт.
func run(ctx context.Context, cfg config, httpClient *http.Client) report {
	client := newOrderClient(cfg.addr, httpClient)
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64

	g, gctx := errgroup.WithContext(ctx)
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		g.Go(func() error {
			for id := range jobs {
				if runErr := runScenario(gctx, client, cfg, id, runID, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
					log.WithError(runErr).WithField("scenario", id).Debug("scenario failed")
				}
			}
			return nil
		})
	}

	dispatchJobs(jobs, cfg)
	_ = g.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}
	return result
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// runScenario возвращает ошибку только при неожиданном исходе.
// Отказ insufficient_stock в режиме contention считается нормой.
func runScenario(ctx context.Context, client *orderClient, cfg config, index int, runID string, col *collector) (err error) {
	scenarioStart := time.Now()
	outcome := outcomeUnexpected
	defer func() {
		col.record("scenario", time.Since(scenarioStart), outcome, err == nil)
	}()

	key := fmt.Sprintf("lt-create-%s-%d", runID, index)
	created, err := client.createOrder(ctx, key, cfg.customerID, cfg.productID, int32(cfg.quantity), col)
	outcome = created.outcome
	if err != nil {
		return err
	}

	if created.outcome == string(domain.KindInsufficientStock) && cfg.mode == modeContention {
		return nil
	}
	if created.outcome != outcomeCreated {
		return fmt.Errorf("create order: status %d, outcome %s", created.status, created.outcome)
	}
	if created.orderID == "" {
		outcome = outcomeUnexpected
		return errors.New("create response returned empty order id")
	}

	if cfg.mode != modeCreateCancel {
		return nil
	}

	cancelled, err := client.cancelOrder(ctx, created.orderID, col)
	outcome = cancelled.outcome
	if err != nil {
		return err
	}
	if cancelled.outcome != outcomeCancelled {
		return fmt.Errorf("cancel order %s: status %d, outcome %s", created.orderID, cancelled.status, cancelled.outcome)
	}
	return nil
}

type orderClient struct {
	baseURL string
	http    *http.Client
}

func newOrderClient(baseURL string, httpClient *http.Client) *orderClient {
	return &orderClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

type callResult struct {
	status  int
	outcome string
	orderID string
}

type apiError struct {
	Error struct {
		Kind string `json:"kind"`
	} `json:"error"`
}

func (c *orderClient) createOrder(ctx context.Context, key, customerID, productID string, quantity int32, col *collector) (callResult, error) {
	body, err := json.Marshal(map[string]any{
		"customer_id": customerID,
		"items":       []map[string]any{{"product_id": productID, "quantity": quantity}},
	})
	if err != nil {
		return callResult{outcome: outcomeUnexpected}, fmt.Errorf("marshal create request: %w", err)
	}

	start := time.Now()
	result, err := c.do(ctx, http.MethodPost, "/api/orders", key, body, http.StatusCreated, outcomeCreated)
	col.record("CreateOrder", time.Since(start), result.outcome, result.status == http.StatusCreated)
	return result, err
}

func (c *orderClient) cancelOrder(ctx context.Context, orderID string, col *collector) (callResult, error) {
	body, err := json.Marshal(map[string]string{"status": string(domain.OrderStatusCancelled)})
	if err != nil {
		return callResult{outcome: outcomeUnexpected}, fmt.Errorf("marshal status request: %w", err)
	}

	start := time.Now()
	result, err := c.do(ctx, http.MethodPatch, "/api/orders/"+orderID+"/status", "", body, http.StatusOK, outcomeCancelled)
	col.record("CancelOrder", time.Since(start), result.outcome, result.status == http.StatusOK)
	return result, err
}

// do выполняет запрос и сводит ответ к исходу: successOutcome при wantStatus, иначе kind из тела ошибки.
func (c *orderClient) do(ctx context.Context, method, path, key string, body []byte, wantStatus int, successOutcome string) (callResult, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return callResult{outcome: outcomeUnexpected}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return callResult{outcome: outcomeTransportError}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return callResult{status: resp.StatusCode, outcome: outcomeTransportError}, fmt.Errorf("read response: %w", err)
	}

	result := callResult{status: resp.StatusCode}
	if resp.StatusCode == wantStatus {
		var ok struct {
			OrderID string `json:"order_id"`
		}
		if err := json.Unmarshal(raw, &ok); err != nil {
			result.outcome = outcomeUnexpected
			return result, fmt.Errorf("decode response: %w", err)
		}
		result.outcome = successOutcome
		result.orderID = ok.OrderID
		return result, nil
	}

	var failure apiError
	if err := json.Unmarshal(raw, &failure); err != nil || failure.Error.Kind == "" {
		result.outcome = outcomeUnexpected
		return result, nil
	}
	result.outcome = failure.Error.Kind
	return result, nil
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s product=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		cfg.productID,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	outcomes := make([]string, 0, len(result.Outcomes))
	for outcome := range result.Outcomes {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)
	for _, outcome := range outcomes {
		fmt.Printf("outcome %s=%d\n", outcome, result.Outcomes[outcome])
	}

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		fmt.Printf(
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
