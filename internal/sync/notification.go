package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Notification is the data of a pushed re-sync request.
type Notification struct {
	TourCode      string `json:"tour_code"`
	CruiseName    string `json:"cruise_name,omitempty"`
	BookingNumber string `json:"booking_number,omitempty"`
	CabinNumber   string `json:"cabin_number,omitempty"`
}

// Metadata returns the booking details carried by the notification.
func (n Notification) Metadata() Metadata {
	return Metadata{
		BookingNumber: n.BookingNumber,
		CabinNumber:   n.CabinNumber,
		CruiseName:    n.CruiseName,
	}
}

// ParseNotification reads a notification payload, either the bare data
// object or a push message envelope of the form {"data": {...}}.
func ParseNotification(r io.Reader) (Notification, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Notification{}, fmt.Errorf("failed to read notification: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Notification{}, fmt.Errorf("empty notification payload")
	}

	var envelope struct {
		Data *Notification `json:"data"`
		Notification
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Notification{}, fmt.Errorf("failed to parse notification: %w", err)
	}
	if envelope.Data != nil {
		return *envelope.Data, nil
	}
	return envelope.Notification, nil
}
