package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homedoc/consult-dispatch/internal/config"
	"github.com/homedoc/consult-dispatch/internal/db"
)

// The simulator exercises the accept race: it creates consultations over the
// HTTP API and has every candidate doctor accept concurrently. A correct
// deployment shows exactly one win and N-1 conflicts per round.
type SimConfig struct {
	APIBaseURL  string
	Rounds      int
	Doctors     int
	PostgresDSN string
}

type roundResult struct {
	Wins      int
	Conflicts int
	Errors    int
	Latency   time.Duration
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadSimConfig()
	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required (set in .env or environment)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	patients, err := loadIDs(ctx, pgPool, `SELECT id FROM patients LIMIT 100`)
	if err != nil {
		log.Fatalf("load patients: %v", err)
	}
	doctors, err := loadIDs(ctx, pgPool, fmt.Sprintf(`SELECT id FROM doctors LIMIT %d`, cfg.Doctors))
	if err != nil {
		log.Fatalf("load doctors: %v", err)
	}
	if len(patients) == 0 || len(doctors) == 0 {
		log.Fatal("no seed data; run cmd/seed first")
	}

	log.Printf("loaded %d patients, %d doctors", len(patients), len(doctors))

	client := &http.Client{Timeout: 10 * time.Second}

	var results []roundResult
	for round := 0; round < cfg.Rounds; round++ {
		patient := patients[round%len(patients)]
		res, err := runRound(client, cfg.APIBaseURL, patient, doctors)
		if err != nil {
			log.Printf("round %d error: %v", round, err)
			continue
		}
		results = append(results, res)
		log.Printf("round %d: wins=%d conflicts=%d errors=%d latency=%s",
			round, res.Wins, res.Conflicts, res.Errors, res.Latency.Round(time.Millisecond))
	}

	printReport(results, len(doctors))
}

func runRound(client *http.Client, baseURL string, patient uuid.UUID, doctors []uuid.UUID) (roundResult, error) {
	body, _ := json.Marshal(map[string]any{
		"patient_id":     patient.String(),
		"origin_address": "Av. Paulista 1000, São Paulo",
		"origin_lat":     -23.5614,
		"origin_lng":     -46.6558,
		"complaint":      "simulated fever and headache",
	})

	resp, err := client.Post(baseURL+"/consultations", "application/json", bytes.NewReader(body))
	if err != nil {
		return roundResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return roundResult{}, fmt.Errorf("create consultation: status %d", resp.StatusCode)
	}

	var created struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return roundResult{}, err
	}
	if created.Status != "pending" {
		return roundResult{}, fmt.Errorf("consultation came back %s, no candidates in range", created.Status)
	}

	start := time.Now()
	var wg sync.WaitGroup
	var mu sync.Mutex
	res := roundResult{}

	for _, doctorID := range doctors {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()

			acceptBody, _ := json.Marshal(map[string]string{"doctor_id": id.String()})
			acceptResp, err := client.Post(
				fmt.Sprintf("%s/consultations/%s/accept", baseURL, created.ID),
				"application/json", bytes.NewReader(acceptBody))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors++
				return
			}
			defer acceptResp.Body.Close()
			switch acceptResp.StatusCode {
			case http.StatusOK:
				res.Wins++
			case http.StatusConflict:
				res.Conflicts++
			default:
				res.Errors++
			}
		}(doctorID)
	}
	wg.Wait()
	res.Latency = time.Since(start)

	return res, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func printReport(results []roundResult, doctors int) {
	fmt.Println("\n================ ACCEPT RACE REPORT ================")
	fmt.Printf("Rounds: %d, concurrent accepts per round: %d\n\n", len(results), doctors)

	badRounds := 0
	var latencies []time.Duration
	for _, r := range results {
		if r.Wins != 1 {
			badRounds++
		}
		latencies = append(latencies, r.Latency)
	}

	if badRounds == 0 {
		fmt.Println("Single-winner invariant held in every round.")
	} else {
		fmt.Printf("INVARIANT VIOLATED in %d rounds (wins != 1)\n", badRounds)
	}

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Printf("Round latency: avg=%s p50=%s max=%s\n",
			(sum / time.Duration(len(latencies))).Round(time.Millisecond),
			latencies[len(latencies)/2].Round(time.Millisecond),
			latencies[len(latencies)-1].Round(time.Millisecond))
	}
}

func loadSimConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	return SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Rounds:      getInt("SIM_ROUNDS", 20),
		Doctors:     getInt("SIM_DOCTORS", 25),
		PostgresDSN: baseCfg.PostgresDSN,
	}
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
