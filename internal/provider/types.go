package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const UnknownMessageID = "unknown"

type Request struct {
	Data RequestData `json:"Data"`
}

type RequestData struct {
	Message    string      `json:"Message"`
	Recipients []Recipient `json:"Recipients"`
	Settings   Settings    `json:"Settings"`
}

type Recipient struct {
	Phone string `json:"Phone"`
}

type Settings struct {
	Sender                 string `json:"Sender"`
	CampaignName           string `json:"CampaignName"`
	Priority               int    `json:"Priority"`
	MaxSegments            int    `json:"MaxSegments"`
	IgnoreUnsubscribeCheck bool   `json:"IgnoreUnsubscribeCheck"`
	AllowDuplicates        bool   `json:"AllowDuplicates"`
	ShortenUrlEnable       bool   `json:"ShortenUrlEnable"`
	TrackPurchaseTData     bool   `json:"TrackPurchaseTData"`
}

// Response is an accepted send. Raw is the body exactly as received.
type Response struct {
	StatusCode int
	MessageID  string
	Raw        json.RawMessage
}

func (r Response) KnownID() bool {
	return r.MessageID != UnknownMessageID
}

// Error is a non-2xx answer from the provider.
type Error struct {
	StatusCode int
	Status     string
	Message    string
	Body       string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider rejected request: %d: %s", e.StatusCode, e.Message)
	}
	status := e.Status
	if status == "" {
		status = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("provider rejected request: %s", statusLine(e.StatusCode, status))
}

func statusLine(code int, status string) string {
	if status == "" {
		return fmt.Sprintf("%d", code)
	}
	// http.Response.Status already carries the code ("500 Internal Server Error").
	if len(status) >= 3 && status[:3] == fmt.Sprintf("%03d", code) {
		return status
	}
	return fmt.Sprintf("%d %s", code, status)
}
