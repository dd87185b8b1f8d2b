// Benchmark tool for replaying applicant data against Kite.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/applicants.csv -url http://localhost:8080
//
// This tool:
//   1. Reads applicant rows (with expected-eligibility labels)
//   2. Sends each applicant to Kite for evaluation
//   3. Compares Kite's decision (eligible/ineligible) with the labels
//   4. Calculates precision, recall, F1-score, and latency percentiles
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ApplicantRow represents one row from the benchmark dataset.
//
// Expected columns:
//
//	applicant_id,national_id,age,salary,activity,customer_score,base_amount,expected_eligible
type ApplicantRow struct {
	ApplicantID      string
	NationalID       string
	Age              float64
	Salary           float64
	Activity         string
	CustomerScore    float64
	BaseAmount       float64
	ExpectedEligible bool
}

// EvaluateRequest is the Kite API request format.
type EvaluateRequest struct {
	ApplicantID   string         `json:"applicantId"`
	NationalID    string         `json:"nationalId,omitempty"`
	Parameters    map[string]any `json:"parameters"`
	CustomerScore float64        `json:"customerScore"`
	BaseAmount    string         `json:"baseAmount"`
}

// EvaluateResponse is the subset of the Kite API response the tool reads.
type EvaluateResponse struct {
	EvaluationID string `json:"evaluationId"`
	Products     []struct {
		ProductID  string `json:"productId"`
		IsEligible bool   `json:"isEligible"`
	} `json:"products"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Expected eligible, decided eligible
	FalsePositives int64 // Expected ineligible, decided eligible
	TrueNegatives  int64 // Expected ineligible, decided ineligible
	FalseNegatives int64 // Expected eligible, decided ineligible

	TotalProcessed int64
	TotalErrors    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) recordLatency(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

func (m *Metrics) percentile(p float64) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func main() {
	csvPath := flag.String("csv", "", "Path to applicant CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kite base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum applicants to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each applicant result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/applicants.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("================================================================")
	fmt.Println("          KITE BENCHMARK - Applicant Eligibility Replay")
	fmt.Println("================================================================")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kite URL:    %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kite not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kite is running:")
		fmt.Println("  go run cmd/kite/main.go")
		os.Exit(1)
	}

	rows, err := loadApplicants(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: failed to load CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d applicants\n\n", len(rows))

	metrics := &Metrics{}
	start := time.Now()

	jobs := make(chan ApplicantRow, *workers)
	var wg sync.WaitGroup

	client := &http.Client{Timeout: 30 * time.Second}

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range jobs {
				processApplicant(client, *baseURL, *tenantID, row, metrics, *verbose)
			}
		}()
	}

	for _, row := range rows {
		jobs <- row
	}
	close(jobs)
	wg.Wait()

	printReport(metrics, time.Since(start))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned status %d", resp.StatusCode)
	}
	return nil
}

func loadApplicants(path string, limit int) ([]ApplicantRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)

	// Skip header
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var rows []ApplicantRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) < 8 {
			continue
		}

		age, _ := strconv.ParseFloat(record[2], 64)
		salary, _ := strconv.ParseFloat(record[3], 64)
		score, _ := strconv.ParseFloat(record[5], 64)
		baseAmount, _ := strconv.ParseFloat(record[6], 64)
		expected := strings.EqualFold(record[7], "true") || record[7] == "1"

		rows = append(rows, ApplicantRow{
			ApplicantID:      record[0],
			NationalID:       record[1],
			Age:              age,
			Salary:           salary,
			Activity:         record[4],
			CustomerScore:    score,
			BaseAmount:       baseAmount,
			ExpectedEligible: expected,
		})

		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

func processApplicant(client *http.Client, baseURL, tenantID string, row ApplicantRow, metrics *Metrics, verbose bool) {
	req := EvaluateRequest{
		ApplicantID: row.ApplicantID,
		NationalID:  row.NationalID,
		Parameters: map[string]any{
			"Age":      row.Age,
			"Salary":   row.Salary,
			"Activity": row.Activity,
		},
		CustomerScore: row.CustomerScore,
		BaseAmount:    strconv.FormatFloat(row.BaseAmount, 'f', 2, 64),
	}

	body, _ := json.Marshal(req)

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		atomic.AddInt64(&metrics.TotalErrors, 1)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	start := time.Now()
	resp, err := client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		atomic.AddInt64(&metrics.TotalErrors, 1)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		atomic.AddInt64(&metrics.TotalErrors, 1)
		io.Copy(io.Discard, resp.Body)
		return
	}

	var evalResp EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&evalResp); err != nil {
		atomic.AddInt64(&metrics.TotalErrors, 1)
		return
	}

	metrics.recordLatency(latency)
	atomic.AddInt64(&metrics.TotalProcessed, 1)

	eligible := false
	for _, p := range evalResp.Products {
		if p.IsEligible {
			eligible = true
			break
		}
	}

	switch {
	case row.ExpectedEligible && eligible:
		atomic.AddInt64(&metrics.TruePositives, 1)
	case !row.ExpectedEligible && eligible:
		atomic.AddInt64(&metrics.FalsePositives, 1)
	case !row.ExpectedEligible && !eligible:
		atomic.AddInt64(&metrics.TrueNegatives, 1)
	default:
		atomic.AddInt64(&metrics.FalseNegatives, 1)
	}

	if verbose {
		fmt.Printf("  %s expected=%v got=%v (%dms)\n",
			row.ApplicantID, row.ExpectedEligible, eligible, latency.Milliseconds())
	}
}

func printReport(m *Metrics, elapsed time.Duration) {
	tp := atomic.LoadInt64(&m.TruePositives)
	fp := atomic.LoadInt64(&m.FalsePositives)
	tn := atomic.LoadInt64(&m.TrueNegatives)
	fn := atomic.LoadInt64(&m.FalseNegatives)
	total := atomic.LoadInt64(&m.TotalProcessed)
	errors := atomic.LoadInt64(&m.TotalErrors)

	precision := 0.0
	if tp+fp > 0 {
		precision = float64(tp) / float64(tp+fp)
	}
	recall := 0.0
	if tp+fn > 0 {
		recall = float64(tp) / float64(tp+fn)
	}
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	throughput := 0.0
	if elapsed.Seconds() > 0 {
		throughput = float64(total) / elapsed.Seconds()
	}

	fmt.Println("\n================================================================")
	fmt.Println("                         RESULTS")
	fmt.Println("================================================================")
	fmt.Printf("\nProcessed:   %d (errors: %d) in %s\n", total, errors, elapsed.Round(time.Millisecond))
	fmt.Printf("Throughput:  %.1f req/s\n\n", throughput)
	fmt.Println("Confusion matrix (expected vs decided):")
	fmt.Printf("  True Positives:   %d\n", tp)
	fmt.Printf("  False Positives:  %d\n", fp)
	fmt.Printf("  True Negatives:   %d\n", tn)
	fmt.Printf("  False Negatives:  %d\n\n", fn)
	fmt.Printf("Precision:   %.4f\n", precision)
	fmt.Printf("Recall:      %.4f\n", recall)
	fmt.Printf("F1 Score:    %.4f\n\n", f1)
	fmt.Println("Latency:")
	fmt.Printf("  p50:  %s\n", m.percentile(0.50).Round(time.Millisecond))
	fmt.Printf("  p95:  %s\n", m.percentile(0.95).Round(time.Millisecond))
	fmt.Printf("  p99:  %s\n", m.percentile(0.99).Round(time.Millisecond))
}
