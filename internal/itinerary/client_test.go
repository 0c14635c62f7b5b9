package itinerary

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFetchItineraryDetails(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/itinary_details" {
			t.Errorf("Expected path /api/itinary_details, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": [
			{"startDate": "2025-06-01T08:00:00Z", "endDate": "2025-06-01T17:00:00Z",
			 "title": "Sea Breeze", "tour_code": "SB123", "unique_id": 42,
			 "notes": {"port_name": "Naples", "port_country": "Italy", "link": "https://example.com/x"}},
			{"startDate": "2025-06-02", "endDate": "2025-06-02", "tour_code": "SB123", "unique_id": "abc", "allDay": true}
		]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/api/", time.Second)
	events, err := client.FetchItineraryDetails(context.Background(), "SB123")
	if err != nil {
		t.Fatalf("FetchItineraryDetails() returned an error: %v", err)
	}

	if gotBody["tour_code"] != "SB123" {
		t.Errorf("Expected tour_code 'SB123' in request, got %q", gotBody["tour_code"])
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].UniqueID != "42" {
		t.Errorf("Expected numeric unique_id to decode as '42', got %q", events[0].UniqueID)
	}
	if events[0].Notes.PortName != "Naples" || events[0].Notes.PortCountry != "Italy" {
		t.Errorf("Unexpected notes: %+v", events[0].Notes)
	}
	if events[1].UniqueID != "abc" || !events[1].AllDay {
		t.Errorf("Unexpected second event: %+v", events[1])
	}
}

func TestFetchItineraryDetails_NullData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": null}`))
	}))
	defer server.Close()

	events, err := NewClient(server.URL, 0).FetchItineraryDetails(context.Background(), "X")
	if err != nil {
		t.Fatalf("FetchItineraryDetails() returned an error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Expected no events, got %d", len(events))
	}
}

func TestFetchItineraryDetails_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "server exploded", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, 0).FetchItineraryDetails(context.Background(), "X")
	if err == nil {
		t.Fatal("Expected an error for HTTP 500")
	}
	if !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("Expected error to mention HTTP 500, got %v", err)
	}
}

func TestSaveBooking(t *testing.T) {
	var got Booking
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/addToCalendar" {
			t.Errorf("Expected path /addToCalendar, got %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"data": {"id": 1}}`))
	}))
	defer server.Close()

	booking := Booking{TourCode: "SB123", BookingNumber: "B-1", CabinNumber: "7042", UserID: "u1"}
	if err := NewClient(server.URL, 0).SaveBooking(context.Background(), booking); err != nil {
		t.Fatalf("SaveBooking() returned an error: %v", err)
	}
	if got != booking {
		t.Errorf("Expected %+v to be posted, got %+v", booking, got)
	}
}
