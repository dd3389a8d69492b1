package training

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// mockHTTPServer creates a test HTTP server for plotting service tests
func mockHTTPServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(server.Close)
	return server
}

func enabledService(baseURL string) *PlottingService {
	config := DefaultPlottingServiceConfig()
	config.BaseURL = baseURL
	ps := NewPlottingService(config)
	ps.Enable()
	return ps
}

func testPlot() PlotData {
	return PlotData{
		PlotType:  ScoreCurves,
		Title:     "Test Plot",
		Timestamp: time.Now(),
		ModelName: "exp",
		Series:    []SeriesData{{Name: "resnet", Type: "line", Data: []DataPoint{{X: 1, Y: 0.4}}}},
	}
}

func TestDefaultPlottingServiceConfig(t *testing.T) {
	config := DefaultPlottingServiceConfig()
	if config.BaseURL != "http://localhost:8080" {
		t.Errorf("Expected BaseURL http://localhost:8080, got %s", config.BaseURL)
	}
	if config.Timeout != 30*time.Second {
		t.Errorf("Expected timeout 30s, got %v", config.Timeout)
	}
	if config.RetryAttempts != 3 || config.RetryDelay != time.Second {
		t.Errorf("Unexpected retry settings: %d every %v", config.RetryAttempts, config.RetryDelay)
	}

	ps := NewPlottingService(config)
	if ps.IsEnabled() {
		t.Error("Service should be disabled initially")
	}
	ps.Enable()
	if !ps.IsEnabled() {
		t.Error("Service should be enabled after Enable()")
	}
	ps.Disable()
	if ps.IsEnabled() {
		t.Error("Service should be disabled after Disable()")
	}
}

func TestPlottingServiceDisabled(t *testing.T) {
	ps := NewPlottingService(DefaultPlottingServiceConfig())
	ctx := context.Background()

	resp, err := ps.SendPlotData(ctx, testPlot())
	if err != nil || resp.Success || resp.Message != "Plotting service is disabled" {
		t.Errorf("SendPlotData: resp=%+v err=%v", resp, err)
	}
	resp, err = ps.SendPlotDataWithRetry(ctx, testPlot(), DefaultPlottingServiceConfig())
	if err != nil || resp.Success {
		t.Errorf("SendPlotDataWithRetry: resp=%+v err=%v", resp, err)
	}
	batch, err := ps.BatchSendPlots(ctx, []PlotData{testPlot()})
	if err != nil || batch.Success {
		t.Errorf("BatchSendPlots: resp=%+v err=%v", batch, err)
	}
	if err := ps.CheckHealth(ctx); err == nil {
		t.Error("Expected health check to fail while disabled")
	}
}

func TestSendPlotDataSuccess(t *testing.T) {
	server := mockHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/plot" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("User-Agent") != "go-shapebias" {
			t.Errorf("Expected User-Agent go-shapebias, got %s", r.Header.Get("User-Agent"))
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("Failed to read request body: %v", err)
		}
		var received PlotData
		if err := json.Unmarshal(body, &received); err != nil {
			t.Fatalf("Failed to unmarshal plot data: %v", err)
		}
		if received.PlotType != ScoreCurves || len(received.Series) != 1 {
			t.Errorf("Unexpected plot: %+v", received)
		}

		json.NewEncoder(w).Encode(PlottingResponse{
			Success: true,
			Message: "Plot generated successfully",
			PlotURL: "/plots/123",
			PlotID:  "plot_123",
		})
	})

	resp, err := enabledService(server.URL).SendPlotData(context.Background(), testPlot())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !resp.Success || resp.PlotURL != "/plots/123" || resp.PlotID != "plot_123" {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestSendPlotDataErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler func(w http.ResponseWriter, r *http.Request)
		hasResp bool
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(PlottingResponse{Message: "boom", ErrorCode: "INTERNAL"})
			},
			hasResp: true,
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := mockHTTPServer(t, tt.handler)
			resp, err := enabledService(server.URL).SendPlotData(context.Background(), testPlot())
			if err == nil {
				t.Fatal("Expected error")
			}
			if tt.hasResp && (resp == nil || resp.ErrorCode != "INTERNAL") {
				t.Errorf("Expected parsed error response, got %+v", resp)
			}
		})
	}

	ps := enabledService("http://127.0.0.1:0")
	if _, err := ps.SendPlotData(context.Background(), testPlot()); err == nil {
		t.Error("Expected connection error")
	}
}

func TestSendPlotDataWithRetry(t *testing.T) {
	var calls atomic.Int32
	server := mockHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(PlottingResponse{Message: "busy"})
			return
		}
		json.NewEncoder(w).Encode(PlottingResponse{Success: true})
	})

	config := DefaultPlottingServiceConfig()
	config.RetryDelay = time.Millisecond
	ps := enabledService(server.URL)

	resp, err := ps.SendPlotDataWithRetry(context.Background(), testPlot(), config)
	if err != nil || !resp.Success {
		t.Fatalf("Expected success on third attempt: resp=%+v err=%v", resp, err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}

	calls.Store(-10)
	if _, err := ps.SendPlotDataWithRetry(context.Background(), testPlot(), config); err == nil {
		t.Error("Expected failure after exhausting retries")
	}
}

func TestSendPlotDataWithRetryCancelled(t *testing.T) {
	server := mockHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(PlottingResponse{})
	})
	config := DefaultPlottingServiceConfig()
	config.RetryDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := enabledService(server.URL).SendPlotDataWithRetry(ctx, testPlot(), config); err == nil {
		t.Error("Expected error on cancellation")
	}
	if time.Since(start) > 10*time.Second {
		t.Error("Retry loop ignored context cancellation")
	}
}

func TestCheckHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := mockHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" || r.Method != http.MethodGet {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	ps := enabledService(server.URL)

	if err := ps.CheckHealth(context.Background()); err != nil {
		t.Errorf("Expected healthy service, got %v", err)
	}
	healthy.Store(false)
	if err := ps.CheckHealth(context.Background()); err == nil {
		t.Error("Expected unhealthy service error")
	}
}

func TestBatchSendPlotsAndSendAll(t *testing.T) {
	var received int
	server := mockHTTPServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/batch-plot" {
			t.Errorf("Expected path /api/batch-plot, got %s", r.URL.Path)
		}
		var payload struct {
			Plots []PlotData `json:"plots"`
			Batch bool       `json:"batch"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("Failed to decode batch: %v", err)
		}
		if !payload.Batch {
			t.Error("Expected batch flag")
		}
		received = len(payload.Plots)
		json.NewEncoder(w).Encode(BatchPlottingResponse{
			Success: true,
			BatchID: "batch_1",
			Summary: BatchSummary{TotalPlots: received, Successful: received},
		})
	})
	ps := enabledService(server.URL)

	collector := NewVisualizationCollector("exp")
	if resp, err := ps.SendAll(context.Background(), collector); resp != nil || err != nil {
		t.Errorf("Expected nothing sent for an empty collector, got %+v %v", resp, err)
	}

	collector.Enable()
	collector.RecordScore("resnet", "shape_bias", 1, 0.3)
	collector.RecordScore("resnet", "downstream", 1, 55)
	collector.RecordBiasByK("resnet", []int{1, 2}, []float64{0.3, 0.35})

	resp, err := ps.SendAll(context.Background(), collector)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if received != 3 || resp.Summary.TotalPlots != 3 || resp.BatchID != "batch_1" {
		t.Errorf("Expected 3 plots in batch_1, got %d: %+v", received, resp)
	}
}
