package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/pulse-api/internal/auth"
	"github.com/ksred/pulse-api/internal/broker"
	"github.com/ksred/pulse-api/internal/database"
	"github.com/ksred/pulse-api/internal/executor"
	"github.com/ksred/pulse-api/internal/monitor"
	"github.com/ksred/pulse-api/internal/orders"
	"github.com/ksred/pulse-api/internal/splitter"
	"github.com/ksred/pulse-api/internal/types"
	"github.com/ksred/pulse-api/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	minOrders     = 5
	maxOrders     = 25
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
	jwtSecret     = "pulse-secret-key"

	// How long the simulation waits for a single parent to reach a
	// terminal state before giving up on it.
	settleTimeout = 3 * time.Minute
)

var (
	exchanges = []string{"NSE", "BSE"}
	symbols   = []string{"RELIANCE", "TCS", "INFY", "HDFCBANK", "SBIN"}
	sides     = []string{"BUY", "SELL"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
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

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the split-order API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":   {name: "Authentication"},
			"create": {name: "Create Order"},
			"dedup":  {name: "Dedup Resubmit"},
			"get":    {name: "Get Order"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// createOrder submits a new split order to the API
// Returns the order ID on success
func (sc *simulationClient) createOrder(req *types.CreateOrderRequest, statKey string) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats[statKey].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/orders", sc.baseURL),
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}

	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Msg("Create order response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create order failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	if result.Data.OrderID == "" {
		return "", fmt.Errorf("no order ID in response: %s", string(respBody))
	}

	return result.Data.OrderID, nil
}

// getOrder retrieves the current status of an order with its slices
func (sc *simulationClient) getOrder(orderID string) (*types.OrderStatusResponse, error) {
	start := time.Now()
	defer func() {
		sc.stats["get"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest(
		"GET",
		fmt.Sprintf("%s/api/v1/orders/%s", sc.baseURL, orderID),
		nil,
	)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("get order failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool                      `json:"success"`
		Data    types.OrderStatusResponse `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return &result.Data, nil
}

// waitForTerminal polls an order until it reaches DONE or SKIPPED
func (sc *simulationClient) waitForTerminal(orderID string) (*types.OrderStatusResponse, error) {
	deadline := time.Now().Add(settleTimeout)
	for time.Now().Before(deadline) {
		status, err := sc.getOrder(orderID)
		if err != nil {
			return nil, err
		}
		if status.Order.Status == types.OrderStatusDone || status.Order.Status == types.OrderStatusSkipped {
			return status, nil
		}
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("order %s did not settle within %v", orderID, settleTimeout)
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// randomOrderRequest builds a random split-order submission
func randomOrderRequest(workerID int) *types.CreateOrderRequest {
	randomize := rand.Intn(2) == 0
	return &types.CreateOrderRequest{
		OrderUniqueKey: uuid.New().String(),
		Exchange:       exchanges[rand.Intn(len(exchanges))],
		Symbol:         symbols[rand.Intn(len(symbols))],
		Side:           sides[rand.Intn(len(sides))],
		TotalQuantity:  int64(rand.Intn(500) + 10),
		SplitConfig: &types.SplitConfigRequest{
			NumSplits:       rand.Intn(4) + 2, // 2-5 slices
			DurationMinutes: 1,
			Randomize:       &randomize,
		},
	}
}

// main runs the split-order simulation
// It starts a local API server with all workers and simulates multiple
// concurrent trading clients, including idempotent resubmissions
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// Generate random number of orders to process
	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	// Channel to collect order IDs
	ordersChan := make(chan string, targetOrders*2)
	var dedupHits int64
	var dedupMu sync.Mutex
	var wg sync.WaitGroup

	// Start worker goroutines
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < targetOrders/numWorkers; j++ {
				req := randomOrderRequest(workerID)

				orderID, err := simClient.createOrder(req, "create")
				if err != nil {
					log.Error().Err(err).
						Int("worker_id", workerID).
						Str("symbol", req.Symbol).
						Msg("Failed to create order")
					continue
				}

				// Exercise the dedup path: resubmit roughly a third of the
				// orders with the same key and payload, which must return
				// the same order_id
				if rand.Intn(3) == 0 {
					dupID, err := simClient.createOrder(req, "dedup")
					if err != nil {
						log.Error().Err(err).Str("order_id", orderID).Msg("Dedup resubmit failed")
					} else if dupID != orderID {
						log.Error().
							Str("order_id", orderID).
							Str("dup_order_id", dupID).
							Msg("Dedup resubmit returned a different order")
					} else {
						dedupMu.Lock()
						dedupHits++
						dedupMu.Unlock()
					}
				}

				ordersChan <- orderID
				log.Info().
					Int("worker_id", workerID).
					Str("order_id", orderID).
					Str("symbol", req.Symbol).
					Str("side", req.Side).
					Int64("total_quantity", req.TotalQuantity).
					Int("num_splits", req.SplitConfig.NumSplits).
					Msg("Order created")

				// Random sleep between orders
				time.Sleep(time.Duration(rand.Intn(500)) * time.Millisecond)
			}
		}(i)
	}

	// Wait for all orders to be created
	wg.Wait()
	close(ordersChan)

	// Collect all order IDs
	var orderIDs []string
	for orderID := range ordersChan {
		orderIDs = append(orderIDs, orderID)
	}

	log.Info().Int("orders_created", len(orderIDs)).Msg("All orders created, waiting for slices to execute")

	// Collect statistics while waiting for terminal states
	stats := struct {
		TotalOrders     int
		DoneOrders      int
		SkippedOrders   int
		UnsettledOrders int
		TotalSlices     int64
		ProcessedSlices int64
		FailedSlices    int64
		TotalQuantity   int64
		StartTime       time.Time
		Symbols         map[string]int
		Sides           map[string]int
	}{
		StartTime: time.Now(),
		Symbols:   make(map[string]int),
		Sides:     make(map[string]int),
	}
	stats.TotalOrders = len(orderIDs)

	for _, orderID := range orderIDs {
		status, err := simClient.waitForTerminal(orderID)
		if err != nil {
			log.Error().Err(err).Str("order_id", orderID).Msg("Order did not settle")
			stats.UnsettledOrders++
			continue
		}

		order := status.Order
		stats.Symbols[order.Symbol]++
		stats.Sides[order.Side]++
		stats.TotalSlices += status.Counts.Total
		stats.ProcessedSlices += status.Counts.Processed
		stats.FailedSlices += status.Counts.Failed

		switch order.Status {
		case types.OrderStatusDone:
			stats.DoneOrders++
			stats.TotalQuantity += order.TotalQuantity
		case types.OrderStatusSkipped:
			stats.SkippedOrders++
		}

		log.Info().
			Str("order_id", orderID).
			Str("status", order.Status).
			Str("skip_reason", order.SkipReason).
			Int64("slices", status.Counts.Total).
			Int64("processed", status.Counts.Processed).
			Int64("failed", status.Counts.Failed).
			Msg("Order settled")
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SPLIT-ORDER SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Order Statistics
----------------
Total Orders:     %d
Done:             %d
Skipped:          %d
Unsettled:        %d
Dedup Hits:       %d
Total Slices:     %d
Processed Slices: %d
Failed Slices:    %d
Total Quantity:   %d
Duration:         %v

Symbol Distribution
-------------------
`, stats.TotalOrders, stats.DoneOrders, stats.SkippedOrders, stats.UnsettledOrders,
		dedupHits, stats.TotalSlices, stats.ProcessedSlices, stats.FailedSlices,
		stats.TotalQuantity, duration.Round(time.Millisecond))

	// Print symbol distribution with simple ASCII bar chart
	maxSymbolCount := 0
	for _, count := range stats.Symbols {
		if count > maxSymbolCount {
			maxSymbolCount = count
		}
	}

	for symbol, count := range stats.Symbols {
		barLength := int(float64(count) / float64(maxSymbolCount) * 20)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-10s: %s (%d)\n", symbol, bar, count)
	}

	fmt.Println("\nSide Distribution")
	fmt.Println("-----------------")
	for side, count := range stats.Sides {
		barLength := int(float64(count) / float64(stats.TotalOrders) * 20)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-4s: %s (%d)\n", side, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	// Success rate calculation
	successRate := float64(stats.DoneOrders) / float64(stats.TotalOrders) * 100
	log.Info().
		Float64("success_rate", successRate).
		Int("total_orders", stats.TotalOrders).
		Int("done_orders", stats.DoneOrders).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// startServer initializes and starts the split-order API server with all
// three background workers running on fast intervals
func startServer() error {
	// Initialize database
	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService(jwtSecret)
	orderService := orders.NewService(db)

	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	// Start workers with simulation-friendly intervals
	brokerAdapter := broker.NewSimulatedBroker()
	splitWorker := splitter.NewSplitter(db, 500*time.Millisecond)
	executeWorker := executor.NewExecutor(db, brokerAdapter, 200*time.Millisecond, 20)
	timeoutWorker := monitor.NewMonitor(db, 5*time.Second, 30*time.Second, 15*time.Second)

	ctx := context.Background()
	go splitWorker.Start(ctx)
	go executeWorker.Start(ctx)
	go timeoutWorker.Start(ctx)

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	orderHandlers := orders.NewGinHandlers(orderService)

	// Setup routes
	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/token", authHandlers.GenerateTokenHandler())

		ordersGroup := v1.Group("/orders")
		ordersGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			ordersGroup.POST("", orderHandlers.CreateOrderHandler())
			ordersGroup.GET("/:order_id", orderHandlers.GetOrderStatusHandler())
		}
	}

	// Start the server
	return router.Run(":8080")
}
