package datamodel

import (
	"sort"
	"strconv"

	"go.uber.org/zap"
)

// DriverEntry is the typed view of one driverList entry
type DriverEntry struct {
	RacingNumber  string `json:"racingNumber"`
	Tla           string `json:"tla"`
	BroadcastName string `json:"broadcastName,omitempty"`
	FullName      string `json:"fullName,omitempty"`
	FirstName     string `json:"firstName,omitempty"`
	LastName      string `json:"lastName,omitempty"`
	TeamName      string `json:"teamName,omitempty"`
	TeamColour    string `json:"teamColour,omitempty"`
	CountryCode   string `json:"countryCode,omitempty"`
	Line          int    `json:"line,omitempty"`
}

// DecodeDriverList converts the driverList of state into typed entries ordered by line.
// Entries that cannot be decoded are logged and left out.
func DecodeDriverList(state Value) []DriverEntry {
	list, ok := state.Get(KeyDriverList)
	if !ok || !list.IsObject() {
		return []DriverEntry{}
	}

	drivers := make([]DriverEntry, 0, list.Len())
	for _, nr := range list.Keys() {
		raw, _ := list.Get(nr)
		if !raw.IsObject() {
			zap.S().Debugf("Skipping driver %s, entry is %s", nr, raw.Kind())
			continue
		}
		// line is sent as a number, but older feeds use strings
		if line, hasLine := raw.Get("line"); hasLine {
			if n, isNumeric := line.AsInt(); isNumeric {
				raw = raw.With("line", Int(n))
			} else {
				raw = raw.With("line", Int(0))
			}
		}
		var entry DriverEntry
		if err := raw.Decode(&entry); err != nil {
			zap.S().Warnf("Failed to decode driver %s: %s", nr, err)
			continue
		}
		if entry.RacingNumber == "" {
			entry.RacingNumber = nr
		}
		drivers = append(drivers, entry)
	}

	sort.SliceStable(drivers, func(i, j int) bool {
		if drivers[i].Line != drivers[j].Line {
			return drivers[i].Line < drivers[j].Line
		}
		a, errA := strconv.Atoi(drivers[i].RacingNumber)
		b, errB := strconv.Atoi(drivers[j].RacingNumber)
		if errA != nil || errB != nil {
			return drivers[i].RacingNumber < drivers[j].RacingNumber
		}
		return a < b
	})
	return drivers
}
