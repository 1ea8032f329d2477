// Benchmark tool for testing Fraudwatch against labeled claim data.
//
// Usage:
//
//	go run cmd/benchmark/main.go -csv /path/to/claims.csv -url http://localhost:8080
//
// This tool:
//  1. Reads labeled claim data (with fraud labels)
//  2. Sends each claim to Fraudwatch for tariff scoring
//  3. Compares the verdict (risk score >= threshold) with actual fraud labels
//  4. Calculates precision, recall, F1-score, and confusion matrix
//
// Expected CSV columns: claim_id, tarif_rs, tarif_inacbg, los_days,
// num_procedures, care_class, diagnosis_severity,
// provider_fraud_history_rate, hospital_fraud_history_rate, is_fraud
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
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledClaim represents a row from the benchmark dataset
type LabeledClaim struct {
	ClaimID                  string
	TariffHospital           float64
	TariffInaCbg             float64
	LOSDays                  int
	NumProcedures            int
	CareClass                string
	DiagnosisSeverity        string
	ProviderFraudHistoryRate float64
	HospitalFraudHistoryRate float64
	IsFraud                  bool
}

// DetectRequest is the Fraudwatch API request format
type DetectRequest struct {
	TariffHospital           float64 `json:"tarif_rs"`
	TariffInaCbg             float64 `json:"tarif_inacbg"`
	LOSDays                  int     `json:"los_days"`
	NumProcedures            int     `json:"num_procedures"`
	CareClass                string  `json:"care_class,omitempty"`
	DiagnosisSeverity        string  `json:"diagnosis_severity,omitempty"`
	ProviderFraudHistoryRate float64 `json:"provider_fraud_history_rate,omitempty"`
	HospitalFraudHistoryRate float64 `json:"hospital_fraud_history_rate,omitempty"`
}

// DetectResponse is the Fraudwatch API response format
type DetectResponse struct {
	Success        bool `json:"success"`
	FraudDetection struct {
		Probability float64 `json:"fraud_probability"`
		RiskScore   int     `json:"risk_score"`
		RiskLevel   string  `json:"risk_level"`
	} `json:"fraud_detection"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Fraud scored at or above the threshold
	FalsePositives int64 // Non-fraud scored at or above the threshold
	TrueNegatives  int64 // Non-fraud scored below the threshold
	FalseNegatives int64 // Fraud scored below the threshold (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled claims CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Fraudwatch base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum claims to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	threshold := flag.Int("threshold", 60, "Risk score at which a claim counts as flagged")
	fraudOnly := flag.Bool("fraud-only", false, "Only test fraud claims")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for non-fraud (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each claim result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/claims.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        FRAUDWATCH BENCHMARK - Labeled Claim Detection         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:       %s\n", *csvPath)
	fmt.Printf("Fraudwatch URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:      %s\n", *tenantID)
	fmt.Printf("Workers:        %d\n", *workers)
	fmt.Printf("Limit:          %d\n", *limit)
	fmt.Printf("Threshold:      %d\n", *threshold)
	fmt.Printf("Fraud Only:     %v\n", *fraudOnly)
	fmt.Printf("Sample Rate:    %.2f\n", *sampleRate)
	fmt.Println()

	// Check Fraudwatch is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Fraudwatch not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Fraudwatch is running:")
		fmt.Println("  go run cmd/fraudwatch/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Fraudwatch is healthy")

	// Read claim data
	fmt.Printf("\nReading claim data from %s...\n", *csvPath)
	claims, err := readClaimsCSV(*csvPath, *limit, *fraudOnly, *sampleRate)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d claims\n", len(claims))

	// Count fraud vs non-fraud
	fraudCount := 0
	for _, c := range claims {
		if c.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(claims)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(claims)-fraudCount, 100*float64(len(claims)-fraudCount)/float64(len(claims)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(claims, *baseURL, *tenantID, *workers, *threshold, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readClaimsCSV(path string, limit int, fraudOnly bool, sampleRate float64) ([]LabeledClaim, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}

	var claims []LabeledClaim
	sampleCounter := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		isFraud := record[colIndex["is_fraud"]] == "1"

		// Apply filters
		if fraudOnly && !isFraud {
			continue
		}

		// Sample non-fraud claims
		if !isFraud && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		tarifRS, _ := strconv.ParseFloat(record[colIndex["tarif_rs"]], 64)
		tarifInaCbg, _ := strconv.ParseFloat(record[colIndex["tarif_inacbg"]], 64)
		losDays, _ := strconv.Atoi(record[colIndex["los_days"]])
		numProcedures, _ := strconv.Atoi(record[colIndex["num_procedures"]])
		providerRate, _ := strconv.ParseFloat(record[colIndex["provider_fraud_history_rate"]], 64)
		hospitalRate, _ := strconv.ParseFloat(record[colIndex["hospital_fraud_history_rate"]], 64)

		claim := LabeledClaim{
			ClaimID:                  record[colIndex["claim_id"]],
			TariffHospital:           tarifRS,
			TariffInaCbg:             tarifInaCbg,
			LOSDays:                  losDays,
			NumProcedures:            numProcedures,
			CareClass:                record[colIndex["care_class"]],
			DiagnosisSeverity:        record[colIndex["diagnosis_severity"]],
			ProviderFraudHistoryRate: providerRate,
			HospitalFraudHistoryRate: hospitalRate,
			IsFraud:                  isFraud,
		}

		claims = append(claims, claim)

		if limit > 0 && len(claims) >= limit {
			break
		}
	}

	return claims, nil
}

func runBenchmark(claims []LabeledClaim, baseURL, tenantID string, numWorkers, threshold int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LabeledClaim, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for claim := range work {
				start := time.Now()
				result, err := detectClaim(client, baseURL, tenantID, claim)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", claim.ClaimID, err)
					}
					continue
				}

				// Track actual labels
				if claim.IsFraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNonFraud, 1)
				}

				// Calculate confusion matrix
				predicted := result.FraudDetection.RiskScore >= threshold
				actual := claim.IsFraud

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					fmt.Printf("%s %-14s | Rp %12.0f vs %12.0f | LOS: %2d | Fraud: %-5v | Score: %3d (%s)\n",
						status,
						claim.ClaimID,
						claim.TariffHospital,
						claim.TariffInaCbg,
						claim.LOSDays,
						claim.IsFraud,
						result.FraudDetection.RiskScore,
						result.FraudDetection.RiskLevel,
					)
				}
			}
		}()
	}

	// Send work
	for _, claim := range claims {
		work <- claim
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func detectClaim(client *http.Client, baseURL, tenantID string, claim LabeledClaim) (*DetectResponse, error) {
	req := DetectRequest{
		TariffHospital:           claim.TariffHospital,
		TariffInaCbg:             claim.TariffInaCbg,
		LOSDays:                  claim.LOSDays,
		NumProcedures:            claim.NumProcedures,
		CareClass:                claim.CareClass,
		DiagnosisSeverity:        claim.DiagnosisSeverity,
		ProviderFraudHistoryRate: claim.ProviderFraudHistoryRate,
		HospitalFraudHistoryRate: claim.HospitalFraudHistoryRate,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/detect", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result DetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  FLAGGED      CLEAR")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged claims, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	// Detection rate analysis
	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalFraud > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalFraud) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalFraud) * 100
		fmt.Printf("   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, detectionRate)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalFraud, missRate)
	}
	if m.TotalNonFraud > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalNonFraud) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNonFraud, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		cps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f claims/sec\n", cps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most fraud")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some fraud")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant fraud being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most fraud is being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - alerts are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
