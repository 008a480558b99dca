package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aditya/ridedispatch/internal/logging"
	"github.com/aditya/ridedispatch/internal/middleware"
	"github.com/aditya/ridedispatch/internal/models"
	"github.com/aditya/ridedispatch/internal/repository"
	"github.com/aditya/ridedispatch/internal/routing"
	"github.com/aditya/ridedispatch/internal/service"
	"github.com/aditya/ridedispatch/internal/tracking"
	"github.com/aditya/ridedispatch/internal/weather"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var (
	testRider = &models.Principal{ID: "rider-1", Role: models.RoleRider}
	pickup    = map[string]float64{"lat": 24.8607, "lng": 67.0011}
	dropoff   = map[string]float64{"lat": 24.9000, "lng": 67.0800}
)

type apiFixture struct {
	store   *repository.Store
	weather *weather.StaticProvider
	server  *httptest.Server
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	logger := logging.Discard()
	f := &apiFixture{
		store:   repository.NewMemoryStore(),
		weather: &weather.StaticProvider{Observation: weather.Observation{Condition: "Clear", Visibility: 10000}},
	}

	gate := weather.NewGate(f.weather, time.Second, logger)
	hub := tracking.NewHub(tracking.NewRooms(nil, logger), nil, 30, logger)
	matching := service.NewMatchingService(f.store, nil, nil, hub, service.MatchingConfig{RadiusKm: 10, MinTraining: 3}, logger)
	payments := service.NewPaymentService(f.store.Payments, nil, "inr")
	rides := service.NewRideService(
		f.store,
		routing.NewRouter(routing.StraightLineProvider{}, time.Second, logger),
		service.NewPricingService(service.DefaultFareConfig),
		gate,
		payments,
		hub,
		matching,
		service.RideConfig{},
		logger,
	)
	hub.Attach(rides)

	r := chi.NewRouter()
	r.Use(middleware.Principal)
	r.Route("/v1", func(r chi.Router) {
		NewRideHandler(rides, matching, payments, logger).RegisterRoutes(r)
		NewDriverHandler(service.NewDriverService(f.store.Drivers, f.store.Rides, nil, logger), logger).RegisterRoutes(r)
		NewMatchingHandler(matching, gate, logger).RegisterRoutes(r)
		NewTrackingHandler(hub, rides, logger).RegisterRoutes(r)
		NewWSHandler(hub, rides, logger).RegisterRoutes(r)
	})
	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, as *models.Principal, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set(middleware.UserIDHeader, as.ID)
		req.Header.Set(middleware.UserRoleHeader, as.Role)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

// onlineDriver registers a driver near the test pickup and brings it online.
func (f *apiFixture) onlineDriver(t *testing.T) *models.Principal {
	t.Helper()
	status, body := f.do(t, http.MethodPost, "/v1/drivers", nil, map[string]interface{}{
		"name": "Bilal Khan", "phone": "03001234567", "vehicle_number": "KHI-1234", "rating": 4.6,
	})
	if status != http.StatusCreated {
		t.Fatalf("create driver: status %d, body %v", status, body)
	}
	driver := &models.Principal{ID: body["id"].(string), Role: models.RoleDriver}

	if status, body := f.do(t, http.MethodPost, "/v1/drivers/"+driver.ID+"/online", driver, nil); status != http.StatusOK {
		t.Fatalf("go online: status %d, body %v", status, body)
	}
	loc := map[string]float64{"lat": 24.87, "lng": 67.0011}
	if status, body := f.do(t, http.MethodPost, "/v1/drivers/"+driver.ID+"/location", driver, loc); status != http.StatusOK {
		t.Fatalf("update location: status %d, body %v", status, body)
	}
	return driver
}

func (f *apiFixture) createRide(t *testing.T) string {
	t.Helper()
	status, body := f.do(t, http.MethodPost, "/v1/rides", testRider, map[string]interface{}{
		"pickup": pickup, "dropoff": dropoff, "min_fare": 0, "max_fare": 5000, "payment_method": "cash",
	})
	if status != http.StatusCreated {
		t.Fatalf("create ride: status %d, body %v", status, body)
	}
	return body["ride"].(map[string]interface{})["id"].(string)
}

// startedRide returns an in-progress ride held by a fresh driver.
func (f *apiFixture) startedRide(t *testing.T) (string, *models.Principal) {
	t.Helper()
	driver := f.onlineDriver(t)
	rideID := f.createRide(t)
	if status, body := f.do(t, http.MethodPost, "/v1/rides/"+rideID+"/accept", driver, nil); status != http.StatusOK {
		t.Fatalf("accept: status %d, body %v", status, body)
	}
	if status, body := f.do(t, http.MethodPost, "/v1/rides/"+rideID+"/start", driver, nil); status != http.StatusOK {
		t.Fatalf("start: status %d, body %v", status, body)
	}
	return rideID, driver
}

func TestRideLifecycleOverHTTP(t *testing.T) {
	f := newAPI(t)
	rideID, driver := f.startedRide(t)

	status, body := f.do(t, http.MethodGet, "/v1/rides/"+rideID, nil, nil)
	if status != http.StatusOK || body["status"] != string(models.RideStatusInProgress) {
		t.Fatalf("get ride: status %d, body %v", status, body)
	}

	status, body = f.do(t, http.MethodPost, "/v1/rides/"+rideID+"/complete", driver, map[string]string{"payment_method": "wallet"})
	if status != http.StatusOK {
		t.Fatalf("complete: status %d, body %v", status, body)
	}
	if body["payment_id"] == "" || body["fare"].(float64) <= 0 {
		t.Errorf("complete result = %v, want payment id and positive fare", body)
	}

	status, body = f.do(t, http.MethodGet, "/v1/rides/"+rideID+"/payment", nil, nil)
	if status != http.StatusOK || body["method"] != models.PaymentMethodWallet {
		t.Errorf("get payment: status %d, body %v", status, body)
	}

	// Completing twice must not charge twice.
	if status, _ := f.do(t, http.MethodPost, "/v1/rides/"+rideID+"/complete", driver, nil); status != http.StatusConflict {
		t.Errorf("second complete status = %d, want %d", status, http.StatusConflict)
	}

	rating := map[string]interface{}{"score": 4.5, "comment": "smooth ride"}
	if status, body := f.do(t, http.MethodPost, "/v1/rides/"+rideID+"/rate", testRider, rating); status != http.StatusCreated {
		t.Fatalf("rate: status %d, body %v", status, body)
	}
	if status, _ := f.do(t, http.MethodPost, "/v1/rides/"+rideID+"/rate", testRider, rating); status != http.StatusConflict {
		t.Errorf("second rating status = %d, want %d", status, http.StatusConflict)
	}
}

func TestAccessControl(t *testing.T) {
	f := newAPI(t)
	driver := f.onlineDriver(t)
	rideID := f.createRide(t)
	ride := map[string]interface{}{"pickup": pickup, "dropoff": dropoff, "min_fare": 0, "max_fare": 5000, "payment_method": "cash"}

	tests := []struct {
		name   string
		method string
		path   string
		as     *models.Principal
		body   interface{}
		want   int
	}{
		{"anonymous create", http.MethodPost, "/v1/rides", nil, ride, http.StatusForbidden},
		{"driver creates ride", http.MethodPost, "/v1/rides", driver, ride, http.StatusForbidden},
		{"rider accepts", http.MethodPost, "/v1/rides/" + rideID + "/accept", testRider, nil, http.StatusForbidden},
		{"anonymous start", http.MethodPost, "/v1/rides/" + rideID + "/start", nil, nil, http.StatusForbidden},
		{"unknown role", http.MethodGet, "/v1/rides/" + rideID, &models.Principal{ID: "x", Role: "admin"}, nil, http.StatusBadRequest},
		{"driver moves another driver", http.MethodPost, "/v1/drivers/someone-else/location",
			driver, map[string]float64{"lat": 24.9, "lng": 67.0}, http.StatusForbidden},
		{"rider reports position", http.MethodPost, "/v1/rides/" + rideID + "/position",
			testRider, map[string]float64{"lat": 24.9, "lng": 67.0}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status, body := f.do(t, tt.method, tt.path, tt.as, tt.body); status != tt.want {
				t.Errorf("status = %d, want %d (body %v)", status, tt.want, body)
			}
		})
	}
}

func TestRequestValidation(t *testing.T) {
	f := newAPI(t)
	driver := f.onlineDriver(t)

	tests := []struct {
		name     string
		method   string
		path     string
		as       *models.Principal
		body     interface{}
		want     int
		wantCode string
	}{
		{"malformed json", http.MethodPost, "/v1/rides", testRider, "{", http.StatusBadRequest, "bad_request"},
		{"missing payment method", http.MethodPost, "/v1/rides", testRider,
			map[string]interface{}{"pickup": pickup, "dropoff": dropoff, "max_fare": 100}, http.StatusBadRequest, "bad_request"},
		{"max below min", http.MethodPost, "/v1/rides", testRider,
			map[string]interface{}{"pickup": pickup, "dropoff": dropoff, "min_fare": 500, "max_fare": 100, "payment_method": "cash"},
			http.StatusBadRequest, "bad_request"},
		{"fare outside range", http.MethodPost, "/v1/rides", testRider,
			map[string]interface{}{"pickup": pickup, "dropoff": dropoff, "min_fare": 0, "max_fare": 1, "payment_method": "cash"},
			http.StatusUnprocessableEntity, "fare_out_of_range"},
		{"latitude out of range", http.MethodPost, "/v1/fares/estimate", nil,
			map[string]interface{}{"pickup": map[string]float64{"lat": 91, "lng": 0}, "dropoff": dropoff},
			http.StatusBadRequest, "bad_request"},
		{"unknown ride", http.MethodGet, "/v1/rides/does-not-exist", nil, nil, http.StatusNotFound, "not_found"},
		{"position without coordinates", http.MethodPost, "/v1/rides/r1/position", driver,
			map[string]interface{}{}, http.StatusBadRequest, "bad_request"},
		{"weather without lat", http.MethodGet, "/v1/weather/check?lng=67", nil, nil, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.do(t, tt.method, tt.path, tt.as, tt.body)
			if status != tt.want || body["error"] != tt.wantCode {
				t.Errorf("got %d %v, want %d %q", status, body, tt.want, tt.wantCode)
			}
		})
	}
}

func TestEstimateFare(t *testing.T) {
	f := newAPI(t)
	status, body := f.do(t, http.MethodPost, "/v1/fares/estimate", nil, map[string]interface{}{"pickup": pickup, "dropoff": dropoff})
	if status != http.StatusOK {
		t.Fatalf("estimate: status %d, body %v", status, body)
	}
	if body["distance_km"].(float64) <= 0 || body["fare"].(float64) <= service.DefaultFareConfig.BaseFare {
		t.Errorf("estimate = %v, want positive distance and fare above base", body)
	}
}

func TestSevereWeatherBlocksBooking(t *testing.T) {
	f := newAPI(t)
	f.weather.Observation = weather.Observation{Condition: "Thunderstorm", WindSpeed: 20, Visibility: 500}

	status, body := f.do(t, http.MethodGet, "/v1/weather/check?lat=24.86&lng=67.0", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("weather check: status %d, body %v", status, body)
	}
	if verdict := body["verdict"].(map[string]interface{}); verdict["is_safe"] != false {
		t.Errorf("verdict = %v, want unsafe", verdict)
	}

	status, body = f.do(t, http.MethodPost, "/v1/rides", testRider, map[string]interface{}{
		"pickup": pickup, "dropoff": dropoff, "min_fare": 0, "max_fare": 5000, "payment_method": "cash",
	})
	if status != http.StatusUnprocessableEntity || body["error"] != "unsafe_weather" {
		t.Errorf("create ride: got %d %v, want unsafe_weather", status, body)
	}
}

func TestPositionReportAndReadBack(t *testing.T) {
	f := newAPI(t)
	rideID, driver := f.startedRide(t)

	if status, _ := f.do(t, http.MethodGet, "/v1/rides/"+rideID+"/position", nil, nil); status != http.StatusNotFound {
		t.Errorf("position before any report: status %d, want %d", status, http.StatusNotFound)
	}

	sentAt := time.Now().UTC()
	status, body := f.do(t, http.MethodPost, "/v1/rides/"+rideID+"/position", driver, map[string]interface{}{
		"lat": 24.88, "lng": 67.04, "sent_at": sentAt,
	})
	if status != http.StatusOK {
		t.Fatalf("report: status %d, body %v", status, body)
	}
	progress := body["progress"].(map[string]interface{})
	if progress["remaining_km"].(float64) <= 0 || progress["eta_minutes"].(float64) <= 0 {
		t.Errorf("progress = %v, want positive remaining distance and eta", progress)
	}

	status, body = f.do(t, http.MethodGet, "/v1/rides/"+rideID+"/position", nil, nil)
	if status != http.StatusOK || body["lat"] != 24.88 || body["lng"] != 67.04 {
		t.Errorf("current position: got %d %v", status, body)
	}

	stale := map[string]interface{}{"lat": 24.87, "lng": 67.02, "sent_at": sentAt.Add(-time.Minute)}
	if status, body := f.do(t, http.MethodPost, "/v1/rides/"+rideID+"/position", driver, stale); status != http.StatusConflict || body["error"] != "stale_position" {
		t.Errorf("stale report: got %d %v", status, body)
	}

	other := &models.Principal{ID: "driver-x", Role: models.RoleDriver}
	if status, _ := f.do(t, http.MethodPost, "/v1/rides/"+rideID+"/position", other, map[string]float64{"lat": 24.88, "lng": 67.05}); status == http.StatusOK {
		t.Error("a driver not holding the ride must not move it")
	}
}

func TestTrackRideStreamsEvents(t *testing.T) {
	f := newAPI(t)
	rideID, driver := f.startedRide(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/v1/rides/"+rideID+"/track", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// Headers arrive after the subscription is in place.
	if status, body := f.do(t, http.MethodPost, "/v1/rides/"+rideID+"/position", driver, map[string]float64{"lat": 24.88, "lng": 67.04}); status != http.StatusOK {
		t.Fatalf("report: status %d, body %v", status, body)
	}

	scanner := bufio.NewScanner(resp.Body)
	var events []string
	for len(events) < 2 && scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
	}
	want := []string{models.EventRideLocation, models.EventRideProgress}
	if len(events) != 2 || events[0] != want[0] || events[1] != want[1] {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestTrackRideUnknownRide(t *testing.T) {
	f := newAPI(t)
	if status, body := f.do(t, http.MethodGet, "/v1/rides/nope/track", nil, nil); status != http.StatusNotFound {
		t.Errorf("status %d, body %v", status, body)
	}
}

func dialWS(t *testing.T, f *apiFixture, as *models.Principal) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if as != nil {
		header.Set(middleware.UserIDHeader, as.ID)
		header.Set(middleware.UserRoleHeader, as.Role)
	}
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil returns the first message of the given type, failing after 3s.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		if msg["type"] == msgType {
			return msg
		}
	}
}

func TestWebSocketTracking(t *testing.T) {
	f := newAPI(t)
	rideID, driver := f.startedRide(t)

	riderConn := dialWS(t, f, testRider)
	if err := riderConn.WriteJSON(map[string]string{"type": msgJoinRide, "ride_id": rideID}); err != nil {
		t.Fatalf("join: %v", err)
	}
	ack := readUntil(t, riderConn, "ack")
	if ack["request"] != msgJoinRide {
		t.Fatalf("ack = %v", ack)
	}

	driverConn := dialWS(t, f, driver)
	err := driverConn.WriteJSON(map[string]interface{}{"type": msgReportPosition, "ride_id": rideID, "lat": 24.88, "lng": 67.04})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if ack := readUntil(t, driverConn, "ack"); ack["request"] != msgReportPosition {
		t.Fatalf("driver ack = %v", ack)
	}

	loc := readUntil(t, riderConn, models.EventRideLocation)
	data := loc["data"].(map[string]interface{})
	if data["lat"] != 24.88 || data["driver_id"] != driver.ID {
		t.Errorf("location event = %v", loc)
	}
	if progress := readUntil(t, riderConn, models.EventRideProgress); progress["ride_id"] != rideID {
		t.Errorf("progress event = %v", progress)
	}
}

func TestWebSocketRejectsForeignDriverChannel(t *testing.T) {
	f := newAPI(t)
	conn := dialWS(t, f, testRider)

	tests := []struct {
		name string
		msg  map[string]interface{}
		want string
	}{
		{"rider joins driver channel", map[string]interface{}{"type": msgJoinDriver, "driver_id": "d1"}, "not_authorized"},
		{"rider reports position", map[string]interface{}{"type": msgReportPosition, "ride_id": "r1", "lat": 1.0, "lng": 1.0}, "not_authorized"},
		{"unknown ride", map[string]interface{}{"type": msgJoinRide, "ride_id": "missing"}, "not_found"},
		{"unknown message", map[string]interface{}{"type": "dance"}, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteJSON(tt.msg); err != nil {
				t.Fatalf("write: %v", err)
			}
			reply := readUntil(t, conn, "error")
			if reply["error"] != tt.want {
				t.Errorf("error = %v, want %s", reply["error"], tt.want)
			}
		})
	}
}
