package main

import (
	"time"

	"github.com/alexandrut83/sentinel/sentinel"
)

// StatusResponse is returned by GET /api/status
type StatusResponse struct {
	Network        string            `json:"network"`
	Version        string            `json:"version"`
	State          sentinel.State    `json:"state"`
	PassiveHits    int               `json:"passiveHits"`
	Earnings       sentinel.Earnings `json:"earnings"`
	HotList        HotListInfo       `json:"hotList"`
	Pending        int               `json:"pendingVerifications"`
	StreamClients  int               `json:"streamClients"`
	Uptime         string            `json:"uptime"`
	ScanSource     string            `json:"scanSource"`
	CurrencySymbol string            `json:"currencySymbol"`
}

// HotListInfo describes the loaded hot list and the index holding it
type HotListInfo struct {
	Version           string    `json:"version,omitempty"`
	UpdatedAt         time.Time `json:"updatedAt,omitempty"`
	Entries           int       `json:"entries"`
	BitCount          int       `json:"bitCount"`
	HashRounds        int       `json:"hashRounds"`
	FalsePositiveRate float64   `json:"estimatedFalsePositiveRate"`
}

// GuardResponse is returned by the guard start and stop routes
type GuardResponse struct {
	State    sentinel.State    `json:"state"`
	Earnings sentinel.Earnings `json:"earnings"`
	Error    string            `json:"error,omitempty"`
}

// ObservationRequest injects observations into the running session
type ObservationRequest struct {
	Events []sentinel.ObservedEvent `json:"events" binding:"required,min=1"`
}

// LocationUpdate is the body accepted by PUT /api/location
type LocationUpdate struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
	Label     string   `json:"label"`
}
