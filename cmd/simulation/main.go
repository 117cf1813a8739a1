package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/pulse-api/internal/auth"
	"github.com/ksred/pulse-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	numOrders     = 20
	numWorkers    = 4
	serverAddress = "http://localhost:8080"
	pollInterval  = 5 * time.Second
	pollDeadline  = 10 * time.Minute
)

var (
	instruments = []string{"NSE:RELIANCE", "NSE:TCS", "NSE:INFY", "NSE:HDFCBANK", "NSE:ICICIBANK"}
	sides       = []types.Side{types.SideBuy, types.SideSell}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes min, max, mean and median durations
func (rs *routeStats) calculate() (min, max, mean, median time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	return
}

// simulationClient handles HTTP communication with the splitting API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client

	mu    sync.Mutex
	stats map[string]*routeStats
}

// newSimulationClient creates a client and authenticates with the API
func newSimulationClient() (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"auth":   {name: "Authentication"},
			"create": {name: "Create Order"},
			"status": {name: "Order Status"},
		},
	}

	if err := sc.authenticate(); err != nil {
		return nil, err
	}
	return sc, nil
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func (sc *simulationClient) record(route string, d time.Duration, failed bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	rs := sc.stats[route]
	rs.addDuration(d)
	if failed {
		rs.failures++
	}
}

func (sc *simulationClient) authenticate() error {
	body, _ := json.Marshal(auth.Credentials{
		APIKey:    auth.TestAPIKey,
		APISecret: auth.TestAPISecret,
	})

	start := time.Now()
	resp, err := sc.client.Post(sc.baseURL+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
	sc.record("auth", time.Since(start), err != nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return err
	}

	var token auth.TokenResponse
	if err := json.Unmarshal(envelope.Data, &token); err != nil {
		return err
	}

	sc.authToken = token.Token
	return nil
}

func (sc *simulationClient) do(method, path, route string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sc.authToken)

	start := time.Now()
	resp, err := sc.client.Do(req)
	failed := err != nil
	if resp != nil && resp.StatusCode >= 400 {
		failed = true
	}
	sc.record(route, time.Since(start), failed)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(raw))
	}

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return err
	}
	if out != nil {
		return json.Unmarshal(envelope.Data, out)
	}
	return nil
}

// createOrder submits one randomized split order and returns its ID
func (sc *simulationClient) createOrder() (string, error) {
	req := types.CreateOrderRequest{
		OrderUniqueKey:  "sim-" + uuid.New().String(),
		Instrument:      instruments[rand.Intn(len(instruments))],
		Side:            sides[rand.Intn(len(sides))],
		TotalQuantity:   int64(rand.Intn(900) + 100),
		NumSplits:       rand.Intn(8) + 2,
		DurationMinutes: rand.Intn(5) + 1,
		Randomize:       rand.Intn(2) == 0,
	}

	var created types.OrderResponse
	if err := sc.do(http.MethodPost, "/api/v1/orders", "create", req, &created); err != nil {
		return "", err
	}
	return created.OrderID, nil
}

// orderStatus fetches an order with its projected metrics
func (sc *simulationClient) orderStatus(orderID string) (*types.OrderStatusResponse, error) {
	var status types.OrderStatusResponse
	if err := sc.do(http.MethodGet, "/api/v1/orders/"+orderID, "status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func main() {
	log.Info().Int("orders", numOrders).Msg("starting split order simulation")

	sc, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to authenticate with API")
	}

	// Submit orders concurrently
	orderIDs := make([]string, 0, numOrders)
	var (
		idsMu sync.Mutex
		wg    sync.WaitGroup
	)
	work := make(chan struct{}, numOrders)
	for i := 0; i < numOrders; i++ {
		work <- struct{}{}
	}
	close(work)

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range work {
				orderID, err := sc.createOrder()
				if err != nil {
					log.Error().Err(err).Msg("order creation failed")
					continue
				}
				idsMu.Lock()
				orderIDs = append(orderIDs, orderID)
				idsMu.Unlock()
			}
		}()
	}
	wg.Wait()

	log.Info().Int("created", len(orderIDs)).Msg("orders submitted, waiting for completion")

	// Poll until every order's slices reach terminal states
	pending := make(map[string]bool, len(orderIDs))
	for _, id := range orderIDs {
		pending[id] = true
	}

	deadline := time.Now().Add(pollDeadline)
	for len(pending) > 0 && time.Now().Before(deadline) {
		time.Sleep(pollInterval)

		for orderID := range pending {
			status, err := sc.orderStatus(orderID)
			if err != nil {
				log.Error().Err(err).Str("order_id", orderID).Msg("status poll failed")
				continue
			}

			if status.Order.Status == types.OrderStatusFailed {
				log.Warn().
					Str("order_id", orderID).
					Str("reason", stringOrEmpty(status.Order.FailureReason)).
					Msg("order failed to split")
				delete(pending, orderID)
				continue
			}

			if status.Metrics.Completed {
				log.Info().
					Str("order_id", orderID).
					Int("executed", status.Metrics.ExecutedSlices).
					Int("failed", status.Metrics.FailedSlices).
					Int("skipped", status.Metrics.SkippedSlices).
					Int64("executed_quantity", status.Metrics.ExecutedQuantity).
					Msg("order completed")
				delete(pending, orderID)
			}
		}
	}

	if len(pending) > 0 {
		log.Warn().Int("unfinished", len(pending)).Msg("deadline reached with orders still in flight")
	}

	printStats(sc)
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// printStats prints per-route latency statistics
func printStats(sc *simulationClient) {
	fmt.Println("\n=== API Performance ===")
	for _, route := range []string{"auth", "create", "status"} {
		rs := sc.stats[route]
		min, max, mean, median := rs.calculate()
		fmt.Printf("%-16s calls=%-4d failures=%-3d min=%-12s max=%-12s mean=%-12s median=%s\n",
			rs.name, rs.totalCalls, rs.failures, min, max, mean, median)
	}
}
