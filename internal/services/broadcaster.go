package services

import "github.com/shopspring/decimal"

// Broadcaster pushes live game events to connected clients.
type Broadcaster interface {
	BroadcastGameUpdate(userID, roundID int64, multiplier decimal.Decimal)
	BroadcastGameCrash(userID, roundID int64, crashPoint decimal.Decimal)
	BroadcastBalance(userID int64, balance decimal.Decimal)
}

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastGameUpdate(int64, int64, decimal.Decimal) {}
func (nopBroadcaster) BroadcastGameCrash(int64, int64, decimal.Decimal)  {}
func (nopBroadcaster) BroadcastBalance(int64, decimal.Decimal)           {}

// NopBroadcaster drops every event.
var NopBroadcaster Broadcaster = nopBroadcaster{}
