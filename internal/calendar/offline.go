package calendar

import (
	"context"
	"fmt"
)

// Offline is the degraded calendar used when no OAuth artifacts are
// available. Free/busy reports the whole window free and disconnected, so
// prioritization still works; write operations fail.
type Offline struct {
	Prefix string
}

func (o *Offline) SummaryPrefix() string {
	if o.Prefix == "" {
		return "[Genie] "
	}
	return o.Prefix
}

func (o *Offline) FreeBusy(_ context.Context, window Interval) FreeBusy {
	return FreeBusy{Free: []Interval{window}, Connected: false}
}

func (o *Offline) CreateEvent(context.Context, EventRequest) (string, error) {
	return "", fmt.Errorf("calendar not connected")
}

func (o *Offline) UpdateEvent(context.Context, string, EventRequest) error {
	return fmt.Errorf("calendar not connected")
}

func (o *Offline) DeleteEvent(context.Context, string) error {
	return fmt.Errorf("calendar not connected")
}

func (o *Offline) ListEvents(context.Context, Interval) ([]Event, error) {
	return nil, fmt.Errorf("calendar not connected")
}

func (o *Offline) FindOwnEvents(context.Context, Interval) ([]Event, error) {
	return nil, fmt.Errorf("calendar not connected")
}
